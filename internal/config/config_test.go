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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  http_port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Outputs.PollInterval)
	assert.Equal(t, 15.0, cfg.Outputs.MaxAmps)
	assert.Equal(t, 4, cfg.Outputs.Workers)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  backend: memory
  seed_file: seed.yaml
outputs:
  poll_interval: 250ms
  max_amps: 8
mqtt:
  enabled: true
  broker: tcp://broker:1883
`)
	t.Setenv("OOC_OUTPUTS_MAX_AMPS", "12.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, "seed.yaml", cfg.Database.SeedFile)
	assert.Equal(t, 250*time.Millisecond, cfg.Outputs.PollInterval)
	assert.Equal(t, 12.5, cfg.Outputs.MaxAmps)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestLoadRejectsInvalidBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  backend: sqlite\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "outputs"}
	assert.Equal(t, "postgres://u:p@db:5432/outputs?sslmode=disable", db.DSN())
}
