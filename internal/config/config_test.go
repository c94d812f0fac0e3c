package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: "test-secret"
database:
  dsn: "postgres://localhost/devicehub"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "devicehub-session-server", cfg.Server.Name)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "US", cfg.Cloud.Country)
	assert.Equal(t, 30*time.Second, cfg.Cloud.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Cloud.CommandTimeout)
	assert.Equal(t, 15*time.Second, cfg.Cloud.CommandReadyTimeout)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenTTL)
	assert.Equal(t, "devicehub/{account_id}/{target_id}/events", cfg.MQTT.TopicPattern)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  name: "hub-east"
api:
  host: "127.0.0.1"
  port: 9090
jwt:
  secret: "test-secret"
cloud:
  country: "DE"
  state_dir: "/var/lib/devicehub"
  connect_timeout: 5s
  command_timeout: 2s
log:
  level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hub-east", cfg.Server.Name)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "DE", cfg.Cloud.Country)
	assert.Equal(t, "/var/lib/devicehub", cfg.Cloud.StateDir)
	assert.Equal(t, 5*time.Second, cfg.Cloud.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Cloud.CommandTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/devicehub")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("CLOUD_COUNTRY", "NL")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfig(t, `
jwt:
  secret: "file-secret"
database:
  dsn: "postgres://file-host/devicehub"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/devicehub", cfg.Database.DSN)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "NL", cfg.Cloud.Country)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/devicehub"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret")
}

func TestLoadRequiresBrokerURLWhenMQTTEnabled(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: "test-secret"
mqtt:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker_url")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
