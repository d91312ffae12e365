// Package mqttsensor is the built-in streaming integration: it subscribes
// to an MQTT topic and publishes one snapshot per received message. Sensor
// platforms (Zigbee bridges, Tasmota devices, Home Assistant) publish JSON
// readings over MQTT, which maps directly onto the streaming capability.
package mqttsensor

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"homeboard/server/integration"
)

func init() {
	integration.RegisterSourceFactory("mqttsensor", New)
}

const (
	defaultPort = 1883

	// eventQueueSize buffers readings between the MQTT callback and the
	// stream loop. Handler sends are non-blocking; a full queue drops the
	// reading rather than stalling the MQTT client.
	eventQueueSize = 64
)

const widgetTemplate = `<div class="widget widget-sensor">
  <div class="sensor-topic">{{.Topic}}</div>
  <dl class="sensor-readings">
  {{range .Readings}}<dt>{{.Key}}</dt><dd>{{.Value}}</dd>
  {{end}}</dl>
</div>`

var tmpl = template.Must(template.New("mqttsensor").Parse(widgetTemplate))

// Source streams readings from one MQTT topic. Each Stream call owns one
// broker connection; reconnection after failures is the runner's concern,
// so the paho client's own auto-reconnect stays off.
type Source struct {
	desc     integration.Descriptor
	broker   string
	port     int
	topic    string
	username string
	password string
	logger   *slog.Logger
}

// New creates an mqttsensor source. Settings: "broker" and "topic"
// (required), "port" (default 1883). Credentials: "username"/"password"
// (optional).
func New(cfg integration.Config, logger *slog.Logger) (integration.Source, error) {
	broker, _ := cfg.Settings["broker"].(string)
	if broker == "" {
		return nil, errors.New("mqttsensor requires a broker setting")
	}
	topic, _ := cfg.Settings["topic"].(string)
	if topic == "" {
		return nil, errors.New("mqttsensor requires a topic setting")
	}

	port := defaultPort
	if v, ok := cfg.Settings["port"].(int); ok && v > 0 {
		port = v
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "Sensors"
	}

	return &Source{
		desc: integration.Descriptor{
			Name:        "mqttsensor",
			DisplayName: displayName,
			Capability:  integration.CapabilityStreaming,
		},
		broker:   broker,
		port:     port,
		topic:    topic,
		username: cfg.Credentials["username"],
		password: cfg.Credentials["password"],
		logger:   logger,
	}, nil
}

// Descriptor implements integration.Source.
func (s *Source) Descriptor() integration.Descriptor {
	return s.desc
}

// Stream implements integration.Streamer. It connects, subscribes, and
// emits one result per received message until ctx is canceled (returns nil)
// or the connection is lost (returns the transport error).
func (s *Source) Stream(ctx context.Context, emit func(integration.Result)) error {
	events := make(chan integration.Result, eventQueueSize)
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", s.broker, s.port))
	opts.SetClientID(fmt.Sprintf("homeboard-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)
	if s.username != "" {
		opts.SetUsername(s.username)
		opts.SetPassword(s.password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "failed to connect to broker %s", s.broker)
	}
	defer client.Disconnect(250)

	token = client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		res, err := s.convert(msg)
		if err != nil {
			s.logger.Warn("dropping unparseable message", "topic", msg.Topic(), "error", err.Error())
			return
		}
		select {
		case events <- res:
		default:
			s.logger.Warn("event queue full, dropping reading", "topic", msg.Topic())
		}
	})
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "failed to subscribe to %s", s.topic)
	}

	s.logger.Info("subscribed", "broker", s.broker, "topic", s.topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			return errors.Wrap(err, "broker connection lost")
		case res := <-events:
			emit(res)
		}
	}
}

type reading struct {
	Key   string
	Value string
}

// convert turns one MQTT message into a result. JSON object payloads become
// the snapshot payload directly; anything else is kept as a raw value.
func (s *Source) convert(msg mqtt.Message) (integration.Result, error) {
	payload := map[string]any{"topic": msg.Topic()}

	var fields map[string]any
	if err := json.Unmarshal(msg.Payload(), &fields); err == nil {
		for k, v := range fields {
			payload[k] = v
		}
	} else {
		payload["value"] = strings.TrimSpace(string(msg.Payload()))
	}

	readings := make([]reading, 0, len(payload))
	for k, v := range payload {
		if k == "topic" {
			continue
		}
		readings = append(readings, reading{Key: k, Value: fmt.Sprintf("%v", v)})
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].Key < readings[j].Key })

	var b strings.Builder
	if err := tmpl.Execute(&b, map[string]any{
		"Topic":    msg.Topic(),
		"Readings": readings,
	}); err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to render sensor widget")
	}

	return integration.Result{Payload: payload, Rendered: b.String()}, nil
}
