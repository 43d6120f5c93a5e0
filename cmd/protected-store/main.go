package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guided-traffic/protected-store/internal/api"
	"github.com/guided-traffic/protected-store/internal/config"
	"github.com/guided-traffic/protected-store/internal/monitoring"
	"github.com/guided-traffic/protected-store/internal/protection"
	"github.com/guided-traffic/protected-store/internal/storage"
)

var (
	// Build information injected at build time
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "protected-store",
		Short: "Protected Store keeps files encrypted at rest on local disk or S3",
		Long: `Protected Store is a file store that encrypts file contents on their way to the
storage backend and decrypts them on the way back.

Every protected file starts with a 34 byte frame "(<32 hex chars>)" holding its
random IV, followed by the ciphertext. Stream ciphers (AES-CTR or ChaCha20)
keep the stored size equal to the plaintext size plus the frame.

Backends:
- local: a directory on the local filesystem
- s3:    an S3 compatible bucket

All configuration is done through a YAML configuration file or PSTORE_*
environment variables. Use --config to specify a configuration file.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the file API",
		RunE:  runServe,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")

	rootCmd.AddCommand(serveCmd, encryptCmd, decryptCmd, ivCmd, putCmd, getCmd)
}

func initConfig() {
	config.InitConfig(cfgFile)
}

// loadConfig loads the configuration and applies the logging settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newPipeline builds the protection pipeline described by cfg
func newPipeline(cfg *config.Config) (*protection.Pipeline, error) {
	keys, err := cfg.BuildKeyMaterial()
	if err != nil {
		return nil, fmt.Errorf("failed to build key material: %w", err)
	}

	algorithm := ""
	if keys != nil {
		algorithm = string(keys.Algorithm())
	}
	monitoring.SetProtectionInfo(algorithm, keys != nil)

	return protection.NewPipeline(keys,
		protection.WithBlockSize(cfg.Protection.BlockSize),
		protection.WithRecorder(monitoring.NewPipelineRecorder()),
	), nil
}

// newBackend creates the configured storage backend
func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:             s3cfg.Bucket,
			Prefix:             s3cfg.Prefix,
			Endpoint:           s3cfg.Endpoint,
			Region:             s3cfg.Region,
			AccessKeyID:        s3cfg.AccessKeyID,
			SecretKey:          s3cfg.SecretKey,
			UsePathStyle:       s3cfg.UsePathStyle,
			InsecureSkipVerify: s3cfg.InsecureSkipVerify,
			PartSize:           s3cfg.PartSize,
			Concurrency:        s3cfg.Concurrency,
		})
	default:
		return storage.NewLocal(cfg.Storage.Local.Root)
	}
}

// newStore wires the configured backend to the protection pipeline
func newStore(ctx context.Context, cfg *config.Config) (*storage.ProtectedStore, error) {
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Storage.Backend, err)
	}
	return storage.NewProtectedStore(backend, pipeline), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logrus.WithFields(logrus.Fields{
		"version":   version,
		"commit":    commit,
		"buildTime": buildTime,
	}).Info("Protected Store build information")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	monitoring.SetServerInfo(version, commit, buildTime)

	apiCfg := &api.Config{
		BindAddress:     cfg.BindAddress,
		ShutdownTimeout: time.Duration(cfg.ShutdownTimeout) * time.Second,
	}
	if cfg.TLS.Enabled {
		apiCfg.TLSCertFile = cfg.TLS.CertFile
		apiCfg.TLSKeyFile = cfg.TLS.KeyFile
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.NewServer(apiCfg, store).Start(gctx)
	})
	if cfg.Monitoring.Enabled {
		g.Go(func() error {
			return monitoring.NewServer(&monitoring.Config{
				BindAddress: cfg.Monitoring.BindAddress,
				MetricsPath: cfg.Monitoring.MetricsPath,
				Version:     version,
			}).Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logrus.Info("Server stopped")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
