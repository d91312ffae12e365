package integration

import (
	"time"

	"github.com/pkg/errors"
)

// Refresh interval bounds for polling integrations.
const (
	// MinRefreshInterval is the shortest allowed polling interval.
	MinRefreshInterval = 5 * time.Second

	// DefaultRefreshInterval is used when a widget does not configure one
	// and the source has no default of its own.
	DefaultRefreshInterval = 30 * time.Second
)

// ValidateConfigs validates widget configurations before any source is
// created. It rejects the whole set only for structural problems (duplicate
// names, empty types); per-integration creation failures are handled later
// and exclude just that integration.
func ValidateConfigs(configs []Config) error {
	seen := make(map[string]bool)

	for i, cfg := range configs {
		if cfg.Integration == "" {
			return errors.Errorf("widget at position %d: missing integration type", i+1)
		}

		if seen[cfg.Integration] {
			return errors.Errorf("duplicate widget for integration %q", cfg.Integration)
		}
		seen[cfg.Integration] = true

		if cfg.RefreshInterval != 0 && cfg.RefreshInterval < MinRefreshInterval {
			return errors.Errorf("widget %q: refresh interval must be at least %s (got %s)",
				cfg.Integration, MinRefreshInterval, cfg.RefreshInterval)
		}
	}

	return nil
}

// ValidateDescriptor checks a descriptor produced by a source factory.
// A failure here excludes that one integration from the registry.
func ValidateDescriptor(desc Descriptor) error {
	if desc.Name == "" {
		return errors.New("descriptor name cannot be empty")
	}
	if desc.DisplayName == "" {
		return errors.New("descriptor display name cannot be empty")
	}
	switch desc.Capability {
	case CapabilityPolling:
		if desc.RefreshInterval < MinRefreshInterval {
			return errors.Errorf("polling descriptor %q: refresh interval must be at least %s (got %s)",
				desc.Name, MinRefreshInterval, desc.RefreshInterval)
		}
	case CapabilityStreaming:
		// Streaming sources have no interval.
	default:
		return errors.Errorf("descriptor %q: unknown capability %d", desc.Name, desc.Capability)
	}

	return nil
}
