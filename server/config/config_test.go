package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
dashboard:
  title: Kitchen Display
  theme: light
layout:
  columns: 2
  widgets:
    - integration: weather
      position: 2
      refresh_interval: 600
      settings:
        latitude: 52.52
        longitude: 13.405
    - integration: clock
      position: 1
    - integration: todoist
      enabled: false
      position: 3
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "Kitchen Display", cfg.Dashboard.Title)
	assert.Equal(t, "light", cfg.Dashboard.Theme)
	assert.Equal(t, 2, cfg.Layout.Columns)
	require.Len(t, cfg.Layout.Widgets, 3)

	weather := cfg.Layout.Widgets[0]
	assert.Equal(t, 10*time.Minute, weather.RefreshInterval())
	assert.Equal(t, 52.52, weather.Settings["latitude"])
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
layout:
  widgets:
    - integration: clock
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultTitle, cfg.Dashboard.Title)
	assert.Equal(t, DefaultTheme, cfg.Dashboard.Theme)
	assert.Equal(t, DefaultColumns, cfg.Layout.Columns)

	clock := cfg.Layout.Widgets[0]
	assert.True(t, clock.IsEnabled())
	assert.Equal(t, time.Duration(0), clock.RefreshInterval(),
		"zero means use the integration's default")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.yaml")
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "dashboard: [not: a: mapping")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestEnabledWidgets(t *testing.T) {
	off := false
	cfg := &Config{Layout: Layout{Widgets: []Widget{
		{Integration: "todoist", Position: 3},
		{Integration: "weather", Position: 2, Enabled: &off},
		{Integration: "clock", Position: 1},
	}}}

	widgets := cfg.EnabledWidgets()
	require.Len(t, widgets, 2)
	assert.Equal(t, "clock", widgets[0].Integration)
	assert.Equal(t, "todoist", widgets[1].Integration)
}

func TestLoadCredentials(t *testing.T) {
	t.Run("reads per-integration secrets", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "credentials.yaml", `
todoist:
  api_token: tok-123
mqttsensor:
  username: house
  password: hunter2
`)

		creds, err := LoadCredentials(dir)
		require.NoError(t, err)

		assert.Equal(t, "tok-123", creds.For("todoist")["api_token"])
		assert.Equal(t, "hunter2", creds.For("mqttsensor")["password"])
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		creds, err := LoadCredentials(t.TempDir())
		require.NoError(t, err)
		assert.NotNil(t, creds)
		assert.Empty(t, creds)
	})

	t.Run("For never returns nil", func(t *testing.T) {
		creds := Credentials{}
		m := creds.For("anything")
		require.NotNil(t, m)
		assert.Empty(t, m)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "credentials.yaml", "todoist: [nope")

		_, err := LoadCredentials(dir)
		assert.Error(t, err)
	})
}
