package integration

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// Config carries everything a source factory needs to build one integration
// instance: the widget's settings from config.yaml and the integration's
// credentials from credentials.yaml. Credentials never leave the source.
type Config struct {
	// Integration is the source type to instantiate (e.g., "weather").
	Integration string

	// DisplayName overrides the source's default display name when set.
	DisplayName string

	// RefreshInterval overrides the source's default refresh interval
	// when positive. Polling sources only.
	RefreshInterval time.Duration

	// Settings holds the widget's non-secret configuration.
	Settings map[string]any

	// Credentials holds the integration's secrets.
	Credentials map[string]string
}

// Factory is a function type that creates a source instance.
type Factory func(cfg Config, logger *slog.Logger) (Source, error)

// factoryRegistry maps integration types to their factory functions.
var factoryRegistry = make(map[string]Factory)

// RegisterSourceFactory registers a source factory for a given integration
// type. Built-in integrations register themselves from init.
func RegisterSourceFactory(integrationType string, factory Factory) {
	factoryRegistry[integrationType] = factory
}

// NewSource creates a source instance for the configured integration type.
// Returns an error if the type is unknown or if creation fails; the caller
// treats this as a registration failure for that one integration.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if cfg.Integration == "" {
		return nil, errors.New("integration type is required")
	}

	factory, exists := factoryRegistry[cfg.Integration]
	if !exists {
		return nil, errors.Errorf("unknown integration type: %s", cfg.Integration)
	}

	return factory(cfg, logger)
}

// RegisteredTypes returns the names of all registered integration types.
func RegisteredTypes() []string {
	types := make([]string, 0, len(factoryRegistry))
	for name := range factoryRegistry {
		types = append(types, name)
	}
	return types
}
