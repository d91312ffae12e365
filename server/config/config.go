// Package config loads the dashboard's YAML configuration: config.yaml for
// the dashboard, layout, and widget set; credentials.yaml for integration
// secrets. The two files are deliberately separate so config.yaml can be
// committed while credentials stay local.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied when config.yaml omits a field.
const (
	DefaultTitle   = "Home Dashboard"
	DefaultTheme   = "dark"
	DefaultColumns = 3
)

// Config is the root of config.yaml.
type Config struct {
	Dashboard Dashboard `yaml:"dashboard"`
	Layout    Layout    `yaml:"layout"`
}

// Dashboard holds presentation-level settings.
type Dashboard struct {
	Title string `yaml:"title"`
	Theme string `yaml:"theme"`
}

// Layout describes the widget grid.
type Layout struct {
	Columns int      `yaml:"columns"`
	Widgets []Widget `yaml:"widgets"`
}

// Widget configures one widget and names the integration backing it.
type Widget struct {
	// Integration is the source type (e.g., "weather"). Required.
	Integration string `yaml:"integration"`

	// DisplayName overrides the integration's default display name.
	DisplayName string `yaml:"display_name"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Position orders widgets in the grid.
	Position int `yaml:"position"`

	// RefreshSeconds overrides the polling interval. Zero keeps the
	// integration's default.
	RefreshSeconds int `yaml:"refresh_interval"`

	// Settings holds integration-specific, non-secret options.
	Settings map[string]any `yaml:"settings"`
}

// IsEnabled reports whether the widget should be loaded.
func (w Widget) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// RefreshInterval returns the configured interval, or zero when the
// integration's default should apply.
func (w Widget) RefreshInterval() time.Duration {
	return time.Duration(w.RefreshSeconds) * time.Second
}

// Load reads and validates config.yaml from dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dashboard.Title == "" {
		c.Dashboard.Title = DefaultTitle
	}
	if c.Dashboard.Theme == "" {
		c.Dashboard.Theme = DefaultTheme
	}
	if c.Layout.Columns <= 0 {
		c.Layout.Columns = DefaultColumns
	}
}

// EnabledWidgets returns the widgets that should be loaded, ordered by grid
// position. Widgets sharing a position keep their file order.
func (c *Config) EnabledWidgets() []Widget {
	widgets := make([]Widget, 0, len(c.Layout.Widgets))
	for _, w := range c.Layout.Widgets {
		if w.IsEnabled() {
			widgets = append(widgets, w)
		}
	}
	sort.SliceStable(widgets, func(i, j int) bool {
		return widgets[i].Position < widgets[j].Position
	})
	return widgets
}

// Credentials maps integration name to its secrets.
type Credentials map[string]map[string]string

// LoadCredentials reads credentials.yaml from dir. A missing file is not an
// error: integrations that need no secrets still work.
func LoadCredentials(dir string) (Credentials, error) {
	path := filepath.Join(dir, "credentials.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read credentials file %s", path)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrapf(err, "failed to parse credentials file %s", path)
	}
	if creds == nil {
		creds = Credentials{}
	}

	return creds, nil
}

// For returns the credentials for one integration, never nil.
func (c Credentials) For(name string) map[string]string {
	if m, ok := c[name]; ok {
		return m
	}
	return map[string]string{}
}
