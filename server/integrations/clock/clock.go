// Package clock is the simplest built-in integration: a polling source with
// no credentials that reports the current time. It doubles as the reference
// implementation for writing new polling integrations.
package clock

import (
	"context"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"homeboard/server/integration"
)

func init() {
	integration.RegisterSourceFactory("clock", New)
}

const widgetTemplate = `<div class="widget widget-clock">
  <div class="clock-time">{{.Time}}</div>
  <div class="clock-date">{{.Date}}</div>
  <div class="clock-zone">{{.Zone}}</div>
</div>`

var tmpl = template.Must(template.New("clock").Parse(widgetTemplate))

// Source reports the current time in a configurable location.
type Source struct {
	desc integration.Descriptor
	loc  *time.Location
}

// New creates a clock source. Settings: "timezone" (IANA name, defaults to
// the host's local zone).
func New(cfg integration.Config, _ *slog.Logger) (integration.Source, error) {
	loc := time.Local
	if tz, ok := cfg.Settings["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid timezone %q", tz)
		}
		loc = parsed
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "Clock"
	}
	interval := cfg.RefreshInterval
	if interval == 0 {
		interval = integration.DefaultRefreshInterval
	}

	return &Source{
		desc: integration.Descriptor{
			Name:            "clock",
			DisplayName:     displayName,
			RefreshInterval: interval,
			Capability:      integration.CapabilityPolling,
		},
		loc: loc,
	}, nil
}

// Descriptor implements integration.Source.
func (s *Source) Descriptor() integration.Descriptor {
	return s.desc
}

// Pull implements integration.Puller.
func (s *Source) Pull(_ context.Context) (integration.Result, error) {
	now := time.Now().In(s.loc)

	payload := map[string]any{
		"time": now.Format("15:04"),
		"date": now.Format("Monday, January 2"),
		"zone": now.Format("MST"),
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, map[string]string{
		"Time": payload["time"].(string),
		"Date": payload["date"].(string),
		"Zone": payload["zone"].(string),
	}); err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to render clock widget")
	}

	return integration.Result{Payload: payload, Rendered: b.String()}, nil
}
