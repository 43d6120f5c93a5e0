package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guided-traffic/protected-store/internal/protection"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0:8080", cfg.BindAddress)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30, cfg.ShutdownTimeout)
	assert.False(t, cfg.Protection.Enabled)
	assert.Equal(t, "aes-256-ctr", cfg.Protection.Algorithm)
	assert.Equal(t, protection.DefaultBlockSize, cfg.Protection.BlockSize)
	assert.False(t, cfg.Protection.FailOpen)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.Local.Root)
	assert.Equal(t, int64(8*1024*1024), cfg.Storage.S3.PartSize)
	assert.Equal(t, ":9090", cfg.Monitoring.BindAddress)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
		errMsg   string
	}{
		{
			name:     "invalid log level",
			settings: map[string]interface{}{"log_level": "loud"},
			errMsg:   "log_level",
		},
		{
			name:     "invalid log format",
			settings: map[string]interface{}{"log_format": "xml"},
			errMsg:   "log_format: unsupported format",
		},
		{
			name:     "tls without cert",
			settings: map[string]interface{}{"tls.enabled": true, "tls.key_file": "key.pem"},
			errMsg:   "tls.cert_file is required",
		},
		{
			name:     "tls without key",
			settings: map[string]interface{}{"tls.enabled": true, "tls.cert_file": "cert.pem"},
			errMsg:   "tls.key_file is required",
		},
		{
			name:     "zero block size",
			settings: map[string]interface{}{"protection.block_size": 0},
			errMsg:   "protection.block_size: must be at least 1 byte",
		},
		{
			name:     "oversized block size",
			settings: map[string]interface{}{"protection.block_size": 65 * 1024 * 1024},
			errMsg:   "protection.block_size: maximum value is 64MB",
		},
		{
			name:     "unknown backend",
			settings: map[string]interface{}{"storage.backend": "ftp"},
			errMsg:   "storage.backend: unsupported backend",
		},
		{
			name:     "empty local root",
			settings: map[string]interface{}{"storage.local.root": ""},
			errMsg:   "storage.local.root is required",
		},
		{
			name:     "s3 without bucket",
			settings: map[string]interface{}{"storage.backend": "s3"},
			errMsg:   "storage.s3.bucket is required",
		},
		{
			name: "s3 part size too small",
			settings: map[string]interface{}{
				"storage.backend":      "s3",
				"storage.s3.bucket":    "files",
				"storage.s3.part_size": 1024,
			},
			errMsg: "storage.s3.part_size: minimum value is 5MB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			setDefaults()
			for key, value := range tt.settings {
				viper.Set(key, value)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_S3Backend(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("storage.backend", "s3")
	viper.Set("storage.s3.bucket", "files")
	viper.Set("storage.s3.endpoint", "http://localhost:9000")
	viper.Set("storage.s3.use_path_style", true)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "files", cfg.Storage.S3.Bucket)
	assert.Equal(t, "http://localhost:9000", cfg.Storage.S3.Endpoint)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
}

func TestInitConfig_ReadsFileAndEnvironment(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
bind_address: "127.0.0.1:9999"
protection:
  enabled: true
  algorithm: chacha20
storage:
  local:
    root: /srv/files
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PSTORE_PROTECTION_SHARED_KEY", "from-environment")

	InitConfig(path)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.BindAddress)
	assert.True(t, cfg.Protection.Enabled)
	assert.Equal(t, "chacha20", cfg.Protection.Algorithm)
	assert.Equal(t, "from-environment", cfg.Protection.SharedKey)
	assert.Equal(t, "/srv/files", cfg.Storage.Local.Root)
}

func TestParseSharedKey(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []byte
		wantErr bool
	}{
		{name: "passphrase", raw: "correct horse", want: []byte("correct horse")},
		{name: "hex", raw: "hex:00ff10", want: []byte{0x00, 0xff, 0x10}},
		{name: "base64", raw: "base64:AQID", want: []byte{1, 2, 3}},
		{name: "empty", raw: "", wantErr: true},
		{name: "bad hex", raw: "hex:zz", wantErr: true},
		{name: "bad base64", raw: "base64:***", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSharedKey(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, protection.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildKeyMaterial(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := &Config{}
		keys, err := cfg.BuildKeyMaterial()
		require.NoError(t, err)
		assert.Nil(t, keys)
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := &Config{Protection: ProtectionConfig{
			Enabled:   true,
			Algorithm: "aes-128-ctr",
			SharedKey: "secret",
			FailOpen:  true,
		}}
		keys, err := cfg.BuildKeyMaterial()
		require.NoError(t, err)
		require.NotNil(t, keys)
		assert.Equal(t, protection.AlgorithmAES128CTR, keys.Algorithm())
		assert.True(t, keys.FailOpen())
	})

	t.Run("key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte("hex:0102030405\n"), 0o600))

		cfg := &Config{Protection: ProtectionConfig{Enabled: true, SharedKeyFile: path}}
		keys, err := cfg.BuildKeyMaterial()
		require.NoError(t, err)
		require.NotNil(t, keys)
		assert.Equal(t, protection.DefaultAlgorithm, keys.Algorithm())
	})

	t.Run("invalid key disables protection", func(t *testing.T) {
		cfg := &Config{Protection: ProtectionConfig{Enabled: true}}
		keys, err := cfg.BuildKeyMaterial()
		require.NoError(t, err)
		assert.Nil(t, keys)
	})

	t.Run("invalid algorithm disables protection", func(t *testing.T) {
		cfg := &Config{Protection: ProtectionConfig{Enabled: true, Algorithm: "rot13", SharedKey: "secret"}}
		keys, err := cfg.BuildKeyMaterial()
		require.NoError(t, err)
		assert.Nil(t, keys)
	})

	t.Run("invalid key with protection required", func(t *testing.T) {
		cfg := &Config{Protection: ProtectionConfig{Enabled: true, Required: true, Algorithm: "rot13", SharedKey: "secret"}}
		keys, err := cfg.BuildKeyMaterial()
		require.Error(t, err)
		assert.Nil(t, keys)
		assert.True(t, errors.Is(err, protection.ErrConfiguration))
	})

	t.Run("missing key file with protection required", func(t *testing.T) {
		cfg := &Config{Protection: ProtectionConfig{
			Enabled:       true,
			Required:      true,
			SharedKeyFile: filepath.Join(t.TempDir(), "missing"),
		}}
		_, err := cfg.BuildKeyMaterial()
		require.Error(t, err)
		assert.True(t, errors.Is(err, protection.ErrConfiguration))
	})
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	require.NoError(t, cfg.ConfigureLogging())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	cfg = &Config{LogLevel: "nope"}
	assert.Error(t, cfg.ConfigureLogging())
}
