// Package weather polls the Open-Meteo forecast API. No credentials are
// required; the widget is configured with coordinates.
package weather

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"homeboard/server/integration"
)

func init() {
	integration.RegisterSourceFactory("weather", New)
}

const apiURLFormat = "https://api.open-meteo.com/v1/forecast?latitude=%.4f&longitude=%.4f" +
	"&current=temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code" +
	"&temperature_unit=%s"

const widgetTemplate = `<div class="widget widget-weather">
  <div class="weather-temp">{{.Temperature}}&deg;</div>
  <div class="weather-desc">{{.Description}}</div>
  <div class="weather-meta">humidity {{.Humidity}}% &middot; wind {{.Wind}}</div>
</div>`

var tmpl = template.Must(template.New("weather").Parse(widgetTemplate))

// weatherCodes maps WMO weather codes to short descriptions. Codes not
// listed fall back to "unknown".
var weatherCodes = map[int64]string{
	0: "clear", 1: "mostly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "rime fog",
	51: "light drizzle", 53: "drizzle", 55: "heavy drizzle",
	61: "light rain", 63: "rain", 65: "heavy rain",
	71: "light snow", 73: "snow", 75: "heavy snow",
	80: "showers", 81: "showers", 82: "heavy showers",
	95: "thunderstorm", 96: "thunderstorm", 99: "thunderstorm",
}

// Source polls current conditions for a fixed location.
type Source struct {
	desc   integration.Descriptor
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a weather source. Settings: "latitude" and "longitude"
// (required, numbers), "units" ("celsius" or "fahrenheit", default celsius).
func New(cfg integration.Config, logger *slog.Logger) (integration.Source, error) {
	lat, ok := floatSetting(cfg.Settings, "latitude")
	if !ok {
		return nil, errors.New("weather requires a numeric latitude setting")
	}
	lon, ok := floatSetting(cfg.Settings, "longitude")
	if !ok {
		return nil, errors.New("weather requires a numeric longitude setting")
	}

	units := "celsius"
	if u, ok := cfg.Settings["units"].(string); ok && u != "" {
		if u != "celsius" && u != "fahrenheit" {
			return nil, errors.Errorf("invalid units %q (want celsius or fahrenheit)", u)
		}
		units = u
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "Weather"
	}
	interval := cfg.RefreshInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	return &Source{
		desc: integration.Descriptor{
			Name:            "weather",
			DisplayName:     displayName,
			RefreshInterval: interval,
			Capability:      integration.CapabilityPolling,
		},
		url:    fmt.Sprintf(apiURLFormat, lat, lon, units),
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}, nil
}

// Descriptor implements integration.Source.
func (s *Source) Descriptor() integration.Descriptor {
	return s.desc
}

// Pull implements integration.Puller.
func (s *Source) Pull(ctx context.Context) (integration.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to build forecast request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return integration.Result{}, errors.Wrap(err, "forecast request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integration.Result{}, errors.Errorf("forecast API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to read forecast response")
	}

	return s.parse(body)
}

// parse extracts current conditions from the API response.
func (s *Source) parse(body []byte) (integration.Result, error) {
	current := gjson.GetBytes(body, "current")
	if !current.Exists() {
		return integration.Result{}, errors.New("forecast response missing current conditions")
	}

	temp := current.Get("temperature_2m")
	if !temp.Exists() {
		return integration.Result{}, errors.New("forecast response missing temperature")
	}

	humidity := current.Get("relative_humidity_2m").Int()
	wind := current.Get("wind_speed_10m").Float()
	code := current.Get("weather_code").Int()

	desc, ok := weatherCodes[code]
	if !ok {
		desc = "unknown"
	}

	payload := map[string]any{
		"temperature": temp.Float(),
		"humidity":    humidity,
		"wind_speed":  wind,
		"conditions":  desc,
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, map[string]string{
		"Temperature": fmt.Sprintf("%.1f", temp.Float()),
		"Description": desc,
		"Humidity":    fmt.Sprintf("%d", humidity),
		"Wind":        fmt.Sprintf("%.1f", wind),
	}); err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to render weather widget")
	}

	return integration.Result{Payload: payload, Rendered: b.String()}, nil
}

func floatSetting(settings map[string]any, key string) (float64, bool) {
	switch v := settings[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
