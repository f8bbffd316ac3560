package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  allowedOrigins: ["https://app.example.com"]
auth:
  jwtSecret: from-file
messaging:
  editWindow: 90s
kafka:
  brokers: ["kafka-1:9092"]
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 90*time.Second, cfg.Messaging.EditWindow)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "messages.events", cfg.Kafka.Topic)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Messaging.EditWindow)
	assert.Equal(t, 256, cfg.Realtime.SendBuffer)
	assert.Equal(t, int64(10<<20), cfg.Media.MaxUploadBytes)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "server:\n  port: \"1\"\n"))
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := Postgres{Host: "db", Port: "5432", User: "pulse", Password: "p@ss", Name: "pulse", SSLMode: "disable"}
	assert.Equal(t, "postgres://pulse:p%40ss@db:5432/pulse?sslmode=disable", p.DSN())
}

func TestLoad_LogSampling(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwtSecret: s
logging:
  sampling:
    tick: 2s
    initial: 50
    thereafter: 5
`)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LogSampling{Tick: 2 * time.Second, Initial: 50, Thereafter: 5}, cfg.Logging.Sampling)

	t.Setenv("LOG_SAMPLING", "OFF")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.Logging.Sampling.Off)
}
