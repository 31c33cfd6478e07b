package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MEDIA_PROVIDER_URL", "http://media.local")
	t.Setenv("ENCRYPTION_VERIFIER_URL", "http://verifier.local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2, cfg.Session.MaxParticipants)
	assert.Equal(t, 5*time.Second, cfg.Session.MonitorInterval)
	assert.Equal(t, 3.0, cfg.Session.MaxPacketLossPct)
	assert.Equal(t, 250.0, cfg.Session.MinBitrateKbps)
	assert.Equal(t, 3, cfg.Session.EscalateAfterCount)
	assert.Equal(t, 4*time.Second, cfg.Session.CollectionTimeout)
	assert.Equal(t, 3, cfg.Session.MaxConsecutiveFailures)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MEDIA_PROVIDER_URL", "http://media.local")
	t.Setenv("ENCRYPTION_VERIFIER_URL", "http://verifier.local")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_MAX_PARTICIPANTS", "4")
	t.Setenv("MONITOR_INTERVAL", "2s")
	t.Setenv("ALERT_MIN_BITRATE_KBPS", "300")
	t.Setenv("COLLECTION_TIMEOUT", "1s")
	t.Setenv("MONITOR_MAX_FAILURES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Session.MaxParticipants)
	assert.Equal(t, 2*time.Second, cfg.Session.MonitorInterval)
	assert.Equal(t, 300.0, cfg.Session.MinBitrateKbps)
	assert.Equal(t, time.Second, cfg.Session.CollectionTimeout)
	assert.Equal(t, 5, cfg.Session.MaxConsecutiveFailures)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MEDIA_PROVIDER_URL", "http://media.local")
	t.Setenv("ENCRYPTION_VERIFIER_URL", "http://verifier.local")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MEDIA_PROVIDER_URL", "http://media.local")
	t.Setenv("ENCRYPTION_VERIFIER_URL", "http://verifier.local")
	t.Setenv("SESSION_MAX_PARTICIPANTS", "not-a-number")
	t.Setenv("MONITOR_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Session.MaxParticipants)
	assert.Equal(t, 5*time.Second, cfg.Session.MonitorInterval)
}
