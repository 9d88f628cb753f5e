// Package main provides driverd, the driver client daemon that queues API
// writes while offline and replays them when connectivity returns.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kimhsiao/driverq/internal/config"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/metrics"
	"github.com/kimhsiao/driverq/internal/offline"
	"github.com/kimhsiao/driverq/internal/store"
	syncpkg "github.com/kimhsiao/driverq/internal/sync"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	root := &cobra.Command{
		Use:           "driverd",
		Short:         "Offline action queue for the driver client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.BindFlags(root, v)

	root.AddCommand(
		newServeCommand(v),
		newQueueCommand(v),
		newPendingCommand(v),
		newSyncCommand(v),
		newClearCommand(v),
	)
	return root
}

// loadConfig reads the configuration for cmd and initializes logging.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	logging.Init(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

// managerOptions translates cfg into the options of the process manager.
func managerOptions(cfg *config.Config, s store.Store, m *metrics.Metrics) offline.Options {
	opts := offline.Options{
		Store:          s,
		RequestTimeout: cfg.API.Timeout,
		BaseURL:        cfg.API.BaseURL,
		InitialOnline:  cfg.Connectivity.InitialOnline,
		Metrics:        m,
	}
	if cfg.Sync.Backoff.Enabled {
		opts.Backoff = syncpkg.NewBackoffPolicy(cfg.Sync.Backoff.Initial, cfg.Sync.Backoff.Max)
	}
	if cfg.Sync.Breaker.Enabled {
		opts.Breaker = &syncpkg.BreakerSettings{
			FailureThreshold: uint32(cfg.Sync.Breaker.FailureThreshold),
			OpenTimeout:      cfg.Sync.Breaker.OpenTimeout,
		}
	}
	return opts
}

// openManager opens the configured store and initializes the process-wide
// manager. Release it with offline.Shutdown.
func openManager(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*offline.Manager, error) {
	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	mgr, err := offline.Init(ctx, managerOptions(cfg, s, m))
	if err != nil {
		s.Close()
		return nil, err
	}
	logging.Info("Offline manager ready", map[string]interface{}{
		"store":   cfg.Store.Driver,
		"path":    cfg.Store.Path,
		"pending": len(mgr.GetState().PendingActions),
		"online":  mgr.IsOnline(),
	})
	return mgr, nil
}
