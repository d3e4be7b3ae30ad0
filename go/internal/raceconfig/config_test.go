package raceconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "ALLOWED_ORIGIN", "RACE_RESTART_POLICY", "JWT_SECRET", "JWT_ISSUER", "JWT_TTL",
		"NATS_URL", "NATS_STREAM", "NATS_SUBJECT_PREFIX", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"PRESENCE_TTL", "WS_WRITE_TIMEOUT", "WS_READ_TIMEOUT", "WS_PING_INTERVAL", "WS_MAX_MESSAGE_SIZE",
		"WS_SEND_BUFFER_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, "reject", cfg.RestartPolicy)
	assert.Equal(t, "RACE_EVENTS", cfg.NATS.Stream)
	assert.Empty(t, cfg.NATS.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, int64(64*1024), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "race.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
allowed_origin: http://localhost:3000
restart_policy: allow
log_level: debug
auth:
  secret: from-file
  token_ttl: 2h
redis:
  addr: localhost:6379
  presence_ttl: 5m
websocket:
  ping_interval: 20s
  read_timeout: 45s
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "http://localhost:3000", cfg.AllowedOrigin)
	assert.Equal(t, "allow", cfg.RestartPolicy)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 5*time.Minute, cfg.Redis.PresenceTTL)
	assert.Equal(t, 20*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 45*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)

	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("bad restart policy", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("RACE_RESTART_POLICY", "sometimes")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidRestartPolicy)
	})

	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("LOG_LEVEL", "loud")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("ping slower than read timeout", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("WS_PING_INTERVAL", "90s")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("presence ttl too short", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("PRESENCE_TTL", "0s")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
