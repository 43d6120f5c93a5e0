package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/guided-traffic/protected-store/internal/protection"
)

// TLSConfig holds TLS configuration for the HTTP API
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// ProtectionConfig holds content protection settings
type ProtectionConfig struct {
	// Enabled turns on encryption of stored file contents
	Enabled bool `mapstructure:"enabled"`

	// Required makes invalid key material a startup error instead of
	// silently disabling protection
	Required bool `mapstructure:"required"`

	// Algorithm is one of aes-256-ctr, aes-192-ctr, aes-128-ctr, chacha20
	Algorithm string `mapstructure:"algorithm"`

	// SharedKey is a passphrase, or a "hex:" / "base64:" prefixed secret
	SharedKey string `mapstructure:"shared_key"`

	// SharedKeyFile is read when SharedKey is empty
	SharedKeyFile string `mapstructure:"shared_key_file"`

	// BlockSize is the cipher block and flow-control round size in bytes
	BlockSize int `mapstructure:"block_size"`

	// FailOpen passes data through unprotected when the cipher fails.
	// Data written in that state is stored in clear.
	FailOpen bool `mapstructure:"fail_open"`
}

// LocalBackendConfig holds local filesystem backend configuration
type LocalBackendConfig struct {
	Root string `mapstructure:"root"`
}

// S3BackendConfig holds S3 backend configuration
type S3BackendConfig struct {
	Bucket             string `mapstructure:"bucket"`
	Prefix             string `mapstructure:"prefix"`
	Endpoint           string `mapstructure:"endpoint"`
	Region             string `mapstructure:"region"`
	AccessKeyID        string `mapstructure:"access_key_id"`
	SecretKey          string `mapstructure:"secret_key"`
	UsePathStyle       bool   `mapstructure:"use_path_style"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"` // Only for development/testing
	PartSize           int64  `mapstructure:"part_size"`
	Concurrency        int    `mapstructure:"concurrency"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Backend string             `mapstructure:"backend"` // "local" or "s3"
	Local   LocalBackendConfig `mapstructure:"local"`
	S3      S3BackendConfig    `mapstructure:"s3"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // Enable/disable monitoring
	BindAddress string `mapstructure:"bind_address"` // Address to bind monitoring server (default: :9090)
	MetricsPath string `mapstructure:"metrics_path"` // Path for metrics endpoint (default: /metrics)
}

// Config holds the application configuration
type Config struct {
	// Server configuration
	BindAddress     string    `mapstructure:"bind_address"`
	LogLevel        string    `mapstructure:"log_level"`
	LogFormat       string    `mapstructure:"log_format"`       // "text" (default) or "json"
	ShutdownTimeout int       `mapstructure:"shutdown_timeout"` // Graceful shutdown timeout in seconds
	TLS             TLSConfig `mapstructure:"tls"`

	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Protection ProtectionConfig `mapstructure:"protection"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".protected-store")
	}

	// PSTORE_PROTECTION_SHARED_KEY maps to protection.shared_key
	viper.SetEnvPrefix("PSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("bind_address", "0.0.0.0:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("shutdown_timeout", 30)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cert_file", "")
	viper.SetDefault("tls.key_file", "")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", ":9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Protection defaults
	viper.SetDefault("protection.enabled", false)
	viper.SetDefault("protection.required", false)
	viper.SetDefault("protection.algorithm", string(protection.DefaultAlgorithm))
	viper.SetDefault("protection.block_size", protection.DefaultBlockSize)
	viper.SetDefault("protection.fail_open", false)
	// Registered so that PSTORE_* environment variables are picked up by Unmarshal
	viper.SetDefault("protection.shared_key", "")
	viper.SetDefault("protection.shared_key_file", "")

	// Storage defaults
	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.local.root", "./data")
	viper.SetDefault("storage.s3.bucket", "")
	viper.SetDefault("storage.s3.prefix", "")
	viper.SetDefault("storage.s3.endpoint", "")
	viper.SetDefault("storage.s3.access_key_id", "")
	viper.SetDefault("storage.s3.secret_key", "")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.use_path_style", false)
	viper.SetDefault("storage.s3.part_size", 8*1024*1024) // 8MB default
	viper.SetDefault("storage.s3.concurrency", 4)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format: unsupported format %q (supported: text, json)", cfg.LogFormat)
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			return fmt.Errorf("tls.cert_file is required when TLS is enabled")
		}
		if cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.key_file is required when TLS is enabled")
		}
	}

	if err := validateProtection(cfg); err != nil {
		return err
	}

	return validateStorage(cfg)
}

// validateProtection checks settings that do not depend on the key itself.
// Key problems are handled by BuildKeyMaterial so that protection can be
// disabled instead of refusing to start.
func validateProtection(cfg *Config) error {
	if cfg.Protection.BlockSize < 1 {
		return fmt.Errorf("protection.block_size: must be at least 1 byte, got %d", cfg.Protection.BlockSize)
	}
	if cfg.Protection.BlockSize > 64*1024*1024 {
		return fmt.Errorf("protection.block_size: maximum value is 64MB (67108864 bytes), got %d", cfg.Protection.BlockSize)
	}
	return nil
}

func validateStorage(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root is required when using the local backend")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using the s3 backend")
		}
		if cfg.Storage.S3.PartSize > 0 && cfg.Storage.S3.PartSize < 5*1024*1024 {
			return fmt.Errorf("storage.s3.part_size: minimum value is 5MB (5242880 bytes), got %d", cfg.Storage.S3.PartSize)
		}
	default:
		return fmt.Errorf("storage.backend: unsupported backend %q (supported: local, s3)", cfg.Storage.Backend)
	}
	return nil
}

// ConfigureLogging applies the log level and format to the standard logrus logger
func (cfg *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// BuildKeyMaterial creates the process-wide key material. It returns nil
// key material, which disables protection, when protection is turned off
// or the configured key is unusable and protection is not required.
func (cfg *Config) BuildKeyMaterial() (*protection.KeyMaterial, error) {
	logger := logrus.WithField("component", "config")

	if !cfg.Protection.Enabled {
		logger.Warn("Content protection is disabled, files are stored unencrypted")
		return nil, nil
	}

	keys, err := cfg.buildKeyMaterial()
	if err != nil {
		if cfg.Protection.Required {
			return nil, err
		}
		logger.WithError(err).Error("Content protection disabled because key material is invalid")
		return nil, nil
	}

	if keys.FailOpen() {
		logger.Warn("protection.fail_open is set: cipher failures will store data unencrypted")
	}
	return keys, nil
}

func (cfg *Config) buildKeyMaterial() (*protection.KeyMaterial, error) {
	raw := cfg.Protection.SharedKey
	if raw == "" && cfg.Protection.SharedKeyFile != "" {
		data, err := os.ReadFile(cfg.Protection.SharedKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading shared key file: %v", protection.ErrConfiguration, err)
		}
		raw = strings.TrimSpace(string(data))
	}

	sharedKey, err := ParseSharedKey(raw)
	if err != nil {
		return nil, err
	}

	return protection.NewKeyMaterial(
		protection.Algorithm(cfg.Protection.Algorithm),
		sharedKey,
		protection.WithFailOpen(cfg.Protection.FailOpen),
	)
}

// ParseSharedKey decodes a "hex:" or "base64:" prefixed secret. Any other
// value is used as a passphrase.
func ParseSharedKey(raw string) ([]byte, error) {
	switch {
	case raw == "":
		return nil, fmt.Errorf("%w: protection.shared_key is required when protection is enabled", protection.ErrConfiguration)
	case strings.HasPrefix(raw, "hex:"):
		key, err := hex.DecodeString(strings.TrimPrefix(raw, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("%w: shared key is not valid hex: %v", protection.ErrConfiguration, err)
		}
		return key, nil
	case strings.HasPrefix(raw, "base64:"):
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("%w: shared key is not valid base64: %v", protection.ErrConfiguration, err)
		}
		return key, nil
	default:
		return []byte(raw), nil
	}
}
