package integration

import (
	"log/slog"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource(t *testing.T) {
	RegisterSourceFactory("factorytest", func(cfg Config, logger *slog.Logger) (Source, error) {
		if cfg.Credentials["api_token"] == "" {
			return nil, errors.New("api_token credential is required")
		}
		src := newScriptedPuller(time.Minute)
		src.desc.Name = "factorytest"
		return src, nil
	})

	t.Run("creates a source for a registered type", func(t *testing.T) {
		src, err := NewSource(Config{
			Integration: "factorytest",
			Credentials: map[string]string{"api_token": "tok"},
		}, testLogger())
		require.NoError(t, err)
		assert.Equal(t, "factorytest", src.Descriptor().Name)
	})

	t.Run("propagates factory errors", func(t *testing.T) {
		_, err := NewSource(Config{Integration: "factorytest"}, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_token")
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		_, err := NewSource(Config{Integration: "nope"}, testLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown integration type")
	})

	t.Run("rejects empty type", func(t *testing.T) {
		_, err := NewSource(Config{}, testLogger())
		assert.Error(t, err)
	})

	assert.Contains(t, RegisteredTypes(), "factorytest")
}
