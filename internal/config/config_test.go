package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Ledger.MaxGrants)
	assert.Equal(t, "memory", cfg.BlobStore.Provider)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
log_level: debug
keystore:
  backend: redis
  redis_addr: localhost:6379
ledger:
  endpoint: http://ledger:9944
  timeout: 3s
  max_grants: 10
blobstore:
  provider: minio
  bucket: charts
  inline_limit: 1024
audit:
  sink:
    type: file
    file_path: /tmp/audit.log
    flush_interval: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.KeyStore.Backend)
	assert.Equal(t, "http://ledger:9944", cfg.Ledger.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, "charts", cfg.BlobStore.Bucket)
	assert.Equal(t, 2*time.Second, cfg.Audit.Sink.FlushInterval)
	// Untouched sections keep defaults.
	assert.Equal(t, uint32(3), cfg.KDF.Time)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHARTVAULT_KEYSTORE_BACKEND", "memory")
	t.Setenv("CHARTVAULT_LEDGER_TIMEOUT", "750ms")
	t.Setenv("CHARTVAULT_PREFER_HARDWARE_AES", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.KeyStore.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.Timeout)
	assert.False(t, cfg.Cipher.PreferHardwareAES)

	t.Setenv("CHARTVAULT_LEDGER_TIMEOUT", "soon")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown keystore", func(c *Config) { c.KeyStore.Backend = "floppy" }},
		{"redis without addr", func(c *Config) { c.KeyStore.Backend = "redis"; c.KeyStore.RedisAddr = "" }},
		{"badger without path", func(c *Config) { c.KeyStore.Backend = "badger"; c.KeyStore.Path = "" }},
		{"zero grants", func(c *Config) { c.Ledger.MaxGrants = 0 }},
		{"s3 without bucket", func(c *Config) { c.BlobStore.Provider = "aws" }},
		{"weak kdf", func(c *Config) { c.KDF.MemoryKiB = 1 }},
		{"unknown sink", func(c *Config) { c.Audit.Sink.Type = "kafka" }},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log_level: info\n")

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "log_level: debug\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("nonsense"))
}
