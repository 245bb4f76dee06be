package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"codecoach-hq/saturn/pkg/config"
	"codecoach-hq/saturn/pkg/quota"
	"codecoach-hq/saturn/pkg/quota/audit"
	"codecoach-hq/saturn/pkg/quota/retention"
	"codecoach-hq/saturn/pkg/quota/storage"
	"codecoach-hq/saturn/pkg/server"
	"codecoach-hq/saturn/pkg/telemetry/logging"
)

var serveFlags struct {
	listenAddress string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admission server",
	Long: `Start the Saturn admission server with the specified configuration.

The server answers admission decisions (capability quota, line count, API
rate limit) and records usage for the billing pipeline.

Examples:
  # Start with default config
  saturn serve

  # Start with custom config
  saturn serve --config /etc/saturn/config.yaml

  # Override listen address
  saturn serve --listen 0.0.0.0:8410

  # Validate config without starting the server
  saturn serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}

	if serveFlags.dryRun {
		fmt.Println("configuration is valid")
		return nil
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var journal *audit.Journal
	if cfg.Audit.Enabled {
		journal, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit journal: %w", err)
		}
		defer journal.Close()
	}

	resolver := quota.NewStaticResolver(cfg.Tiers())
	policy := cfg.Policy()

	manager, err := quota.NewManager(quota.ManagerConfig{
		Store:    store,
		Resolver: resolver,
		Policy:   &policy,
		Journal:  journal,
		Metrics:  quota.NewMetrics(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled pruning of idle state and expired audit events
	pruner, err := retention.NewPruner(store, journal, retention.Config{
		Schedule:        cfg.Retention.Schedule,
		IdleStatePeriod: cfg.Retention.IdleStatePeriod,
		EventRetention:  cfg.Retention.EventRetention,
	})
	if err != nil {
		return err
	}
	scheduler := retention.NewScheduler(pruner)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Hot reload of plan limits and tier assignments on config change
	watcher, err := config.NewWatcher(config.WatcherConfig{Path: cfgFile})
	if err != nil {
		return err
	}
	go func() {
		err := watcher.Watch(ctx, func() error {
			reloaded, err := config.LoadConfigWithEnvOverrides(cfgFile)
			if err != nil {
				return err
			}
			if err := manager.SetPolicy(reloaded.Policy()); err != nil {
				return err
			}
			for userID, tier := range reloaded.Tiers() {
				resolver.SetTier(userID, tier)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("config watcher stopped", "error", err)
		}
	}()

	srv, err := server.New(manager, cfg.Server)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStore constructs the configured usage state backend.
func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteStoreConfig{
			DBPath:             cfg.Storage.Path,
			CheckpointInterval: cfg.Storage.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
