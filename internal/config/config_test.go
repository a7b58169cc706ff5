package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultBridgeMaxMessageBytes, cfg.Bridge.MaxMessageBytes)
	assert.Equal(t, DefaultRateLimitPerMinute, cfg.RateLimit.PerMinute)
	assert.Equal(t, DefaultGuardConfirmPhrase, cfg.Guard.ConfirmPhrase)
	assert.False(t, cfg.Guard.Optin)
	assert.Equal(t, DefaultSandboxImage, cfg.Sandbox.Image)
	assert.Empty(t, cfg.Command.ExtraBlocked)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAKEHASHI_SERVER_ADDR", ":9999")
	t.Setenv("KAKEHASHI_GUARD_OPTIN", "true")
	t.Setenv("KAKEHASHI_RATELIMIT_PER_MINUTE", "3")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.True(t, cfg.Guard.Optin)
	assert.Equal(t, 3, cfg.RateLimit.PerMinute)
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("45s", "30s")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	d, err = DurationOrDefault("", "30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = DurationOrDefault("soon", "30s")
	assert.Error(t, err)

	_, err = DurationOrDefault("", "")
	assert.Error(t, err)
}
