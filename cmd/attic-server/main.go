// Package main is the entrypoint for the attic backup server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/attic-backup/attic/internal/api"
	"github.com/attic-backup/attic/internal/backup"
	"github.com/attic-backup/attic/internal/config"
	"github.com/attic-backup/attic/internal/metrics"
	"github.com/attic-backup/attic/internal/notify"
	"github.com/attic-backup/attic/internal/registry"
	"github.com/attic-backup/attic/internal/share"
	"github.com/attic-backup/attic/internal/store"
	"github.com/attic-backup/attic/internal/transfer"
	"github.com/attic-backup/attic/internal/trust"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "attic-server",
		Short:        "Versioned backup orchestrator for home network devices",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath), newVersionCmd())
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backup server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("attic-server %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func runServe(configPath string) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("environment", string(cfg.Environment)).
		Str("backup_root", cfg.BackupRoot).
		Msg("starting attic server")

	if err := os.MkdirAll(cfg.BackupRoot, 0o750); err != nil {
		logger.Error().Err(err).Msg("failed to create backup root")
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o750); err != nil {
		logger.Error().Err(err).Msg("failed to create store directory")
		return err
	}

	kv, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open configuration store")
		return err
	}
	defer kv.Close()

	reg := registry.New(kv, logger)
	versions := backup.NewVersionStore(cfg.BackupRoot, logger)
	runner := transfer.NewRunner(logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	engine := backup.NewEngine(versions, runner, reg, notifier, m, backup.EngineConfig{
		RunTimeout:     cfg.RunTimeout,
		RestoreTimeout: cfg.RestoreTimeout,
	}, logger)

	shares := share.NewProvisioner(filepath.Join(cfg.BackupRoot, "shares"), logger)
	trustSvc := trust.NewService(reg, shares, notifier, cfg.NASAddress, logger)

	ratePeriod, err := time.ParseDuration(cfg.RegisterRatePeriod)
	if err != nil {
		logger.Error().Err(err).Str("period", cfg.RegisterRatePeriod).Msg("invalid register rate period")
		return err
	}

	router := api.NewRouter(api.Config{
		Environment:        string(cfg.Environment),
		RegisterRateLimit:  cfg.RegisterRateLimit,
		RegisterRatePeriod: ratePeriod,
		Version:            Version,
		Commit:             Commit,
		BuildDate:          BuildDate,
	}, api.Deps{
		Agents:   trustSvc,
		Devices:  reg,
		Engine:   engine,
		Trust:    trustSvc,
		Versions: versions,
		Cleaner:  versions,
		Restorer: engine,
		Shares:   shares,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}

	logger.Info().Msg("server stopped gracefully")
	return nil
}
