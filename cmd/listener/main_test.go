package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktrn-dev/pipeline-client/internal/config"
)

func TestLoadConfig_AddressOnly(t *testing.T) {
	cfg, err := loadConfig(options{address: "ws://localhost:9000/", maxRetries: -1})
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9000/", cfg.Connection.Address)
	assert.Equal(t, config.DefaultMaxRetries, cfg.Connection.Retries())
	assert.Equal(t, config.DefaultRetryInterval, cfg.Connection.RetryInterval)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection:
  address: wss://pipeline.vrchat.cloud/
  max_retries: 9
  retry_interval: 30s
database:
  enabled: true
  host: localhost
  name: pipeline
  user: listener
  password: secret
`), 0644))

	cfg, err := loadConfig(options{
		configPath:    path,
		address:       "ws://127.0.0.1:8080/",
		maxRetries:    0,
		retryInterval: 2 * time.Second,
		dryRun:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:8080/", cfg.Connection.Address)
	assert.Equal(t, 0, cfg.Connection.Retries())
	assert.Equal(t, 2*time.Second, cfg.Connection.RetryInterval)
	assert.False(t, cfg.Database.Enabled, "dry run disables the database")
}

func TestLoadConfig_MissingAddress(t *testing.T) {
	_, err := loadConfig(options{maxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection.address is required")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
