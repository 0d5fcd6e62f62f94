// Package config loads chart-vault configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by the client CLI and ledgerd.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	KeyStore  KeyStoreConfig  `yaml:"keystore"`
	KDF       KDFConfig       `yaml:"kdf"`
	Cipher    CipherConfig    `yaml:"cipher"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	BlobStore BlobStoreConfig `yaml:"blobstore"`
	Audit     AuditConfig     `yaml:"audit"`
	Server    ServerConfig    `yaml:"server"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// KeyStoreConfig selects where private keys are kept at rest.
type KeyStoreConfig struct {
	Backend   string `yaml:"backend"` // memory, file, redis, badger
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

// KDFConfig holds argon2id parameters for passphrase-protected keys.
type KDFConfig struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// CipherConfig controls the content cipher selection.
type CipherConfig struct {
	PreferHardwareAES bool `yaml:"prefer_hardware_aes"`
}

// LedgerConfig configures the ledger client and the development ledger.
type LedgerConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
	BlockInterval time.Duration `yaml:"block_interval"`
	MaxGrants     int           `yaml:"max_grants"`
}

// BlobStoreConfig configures the content-addressed store for large payloads.
type BlobStoreConfig struct {
	Provider     string `yaml:"provider"` // memory, or an S3-compatible provider name
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
	InlineLimit  int    `yaml:"inline_limit"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled            bool       `yaml:"enabled"`
	MaxEvents          int        `yaml:"max_events"`
	Sink               SinkConfig `yaml:"sink"`
	RedactMetadataKeys []string   `yaml:"redact_metadata_keys"`
}

// SinkConfig selects where audit events are written.
type SinkConfig struct {
	Type          string            `yaml:"type"` // stdout, file, http
	Endpoint      string            `yaml:"endpoint"`
	Headers       map[string]string `yaml:"headers"`
	FilePath      string            `yaml:"file_path"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
	RetryCount    int               `yaml:"retry_count"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff"`
}

// ServerConfig configures ledgerd's HTTP listener.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	MetricsPath  string        `yaml:"metrics_path"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"` // none, stdout, otlp
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		KeyStore: KeyStoreConfig{
			Backend: "file",
			Path:    defaultKeyDir(),
			Prefix:  "chartvault:key:",
		},
		KDF: KDFConfig{Time: 3, MemoryKiB: 64 * 1024, Threads: 4},
		Cipher: CipherConfig{
			PreferHardwareAES: true,
		},
		Ledger: LedgerConfig{
			Endpoint:      "http://localhost:9944",
			Timeout:       10 * time.Second,
			BlockInterval: 6 * time.Second,
			MaxGrants:     10,
		},
		BlobStore: BlobStoreConfig{
			Provider:    "memory",
			InlineLimit: 16 * 1024,
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 1000,
			Sink:      SinkConfig{Type: "stdout"},
		},
		Server: ServerConfig{
			ListenAddr:   ":9944",
			MetricsPath:  "/metrics",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "chart-vault",
		},
	}
}

func defaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".chartvault/keys"
	}
	return home + "/.chartvault/keys"
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from CHARTVAULT_* environment variables.
func (c *Config) applyEnv() error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setString("CHARTVAULT_LOG_LEVEL", &c.LogLevel)
	setString("CHARTVAULT_KEYSTORE_BACKEND", &c.KeyStore.Backend)
	setString("CHARTVAULT_KEYSTORE_PATH", &c.KeyStore.Path)
	setString("CHARTVAULT_KEYSTORE_REDIS_ADDR", &c.KeyStore.RedisAddr)
	setString("CHARTVAULT_LEDGER_ENDPOINT", &c.Ledger.Endpoint)
	setString("CHARTVAULT_BLOBSTORE_PROVIDER", &c.BlobStore.Provider)
	setString("CHARTVAULT_BLOBSTORE_ENDPOINT", &c.BlobStore.Endpoint)
	setString("CHARTVAULT_BLOBSTORE_REGION", &c.BlobStore.Region)
	setString("CHARTVAULT_BLOBSTORE_BUCKET", &c.BlobStore.Bucket)
	setString("CHARTVAULT_BLOBSTORE_ACCESS_KEY", &c.BlobStore.AccessKey)
	setString("CHARTVAULT_BLOBSTORE_SECRET_KEY", &c.BlobStore.SecretKey)
	setString("CHARTVAULT_LISTEN_ADDR", &c.Server.ListenAddr)
	setString("CHARTVAULT_TRACING_EXPORTER", &c.Tracing.Exporter)
	setString("CHARTVAULT_TRACING_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := os.LookupEnv("CHARTVAULT_LEDGER_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CHARTVAULT_LEDGER_TIMEOUT: %w", err)
		}
		c.Ledger.Timeout = d
	}
	if v, ok := os.LookupEnv("CHARTVAULT_PREFER_HARDWARE_AES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CHARTVAULT_PREFER_HARDWARE_AES: %w", err)
		}
		c.Cipher.PreferHardwareAES = b
	}
	if v, ok := os.LookupEnv("CHARTVAULT_AUDIT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CHARTVAULT_AUDIT_ENABLED: %w", err)
		}
		c.Audit.Enabled = b
	}
	return nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	switch c.KeyStore.Backend {
	case "memory":
	case "file", "badger":
		if c.KeyStore.Path == "" {
			return fmt.Errorf("keystore.path is required for backend %q", c.KeyStore.Backend)
		}
	case "redis":
		if c.KeyStore.RedisAddr == "" {
			return fmt.Errorf("keystore.redis_addr is required for backend redis")
		}
	default:
		return fmt.Errorf("unknown keystore backend %q", c.KeyStore.Backend)
	}

	if c.KDF.Time == 0 || c.KDF.Threads == 0 || c.KDF.MemoryKiB < 8*uint32(c.KDF.Threads) {
		return fmt.Errorf("invalid kdf parameters")
	}

	if c.Ledger.MaxGrants <= 0 {
		return fmt.Errorf("ledger.max_grants must be positive")
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger.timeout must be positive")
	}

	if c.BlobStore.Provider != "memory" && c.BlobStore.Bucket == "" {
		return fmt.Errorf("blobstore.bucket is required for provider %q", c.BlobStore.Provider)
	}
	if c.BlobStore.InlineLimit < 0 {
		return fmt.Errorf("blobstore.inline_limit must not be negative")
	}

	switch c.Audit.Sink.Type {
	case "", "stdout", "file", "http":
	default:
		return fmt.Errorf("unknown audit sink type %q", c.Audit.Sink.Type)
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	return nil
}
