package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.InviteTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.PresenceSettleDelay)
	assert.Equal(t, "livehub_battle_events", cfg.EventQueueName)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("INVITE_TIMEOUT", "5s")
	t.Setenv("OUTBOUND_BUFFER", "8")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.InviteTimeout)
	assert.Equal(t, 8, cfg.OutboundBuffer)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("INVITE_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("INVITE_TIMEOUT", "1s")
	t.Setenv("OUTBOUND_BUFFER", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestPostgresURL(t *testing.T) {
	cfg := Config{PostgresUser: "live", PostgresPassword: "p@ss", PGHost: "db", PGPort: "5433", PGDatabase: "hub"}
	assert.Equal(t, "postgres://live:p%40ss@db:5433/hub", cfg.PostgresURL())

	cfg.DatabaseURL = "postgres://elsewhere/x"
	assert.Equal(t, "postgres://elsewhere/x", cfg.PostgresURL())
}

func TestLoggerLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, Config{LogLevel: "debug"}.Logger().GetLevel())
	assert.Equal(t, logrus.InfoLevel, Config{LogLevel: "loud"}.Logger().GetLevel())
}
