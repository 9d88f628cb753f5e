package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kimhsiao/driverq/cmd/driverd/handlers"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/metrics"
	"github.com/kimhsiao/driverq/internal/offline"
	"github.com/kimhsiao/driverq/internal/sync/connectivity"
	"github.com/kimhsiao/driverq/internal/sync/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: REST API, WebSocket state feed, prober and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			m := metrics.New()
			mgr, err := openManager(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer offline.Shutdown()

			hub := NewWSHub()
			mgr.Subscribe(hub.BroadcastState)
			mgr.OnActionDropped(hub.BroadcastDrop)

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           newRouter(mgr, hub, m),
				ReadHeaderTimeout: 10 * time.Second,
			}

			var g run.Group
			g.Add(func() error {
				logging.Info("driverd listening", map[string]interface{}{"addr": cfg.Server.Addr, "version": Version})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}, func(error) {
				sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer scancel()
				if err := srv.Shutdown(sctx); err != nil {
					logging.Warn("HTTP shutdown incomplete", map[string]interface{}{"error": err.Error()})
				}
			})

			hubCtx, hubCancel := context.WithCancel(ctx)
			g.Add(func() error {
				return hub.Run(hubCtx)
			}, func(error) {
				hubCancel()
			})

			if cfg.Connectivity.ProbeURL != "" {
				prober := connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.Timeout)
				watchCtx, watchCancel := context.WithCancel(ctx)
				g.Add(func() error {
					return mgr.Monitor().Watch(watchCtx, prober, cfg.Connectivity.Interval)
				}, func(error) {
					watchCancel()
				})
			}

			if cfg.Sync.Interval > 0 {
				sched := scheduler.NewScheduler(mgr.Engine(), mgr.Monitor(), &scheduler.SchedulerConfig{
					Interval: cfg.Sync.Interval,
				})
				schedCtx, schedCancel := context.WithCancel(ctx)
				g.Add(func() error {
					return sched.Run(schedCtx)
				}, func(error) {
					schedCancel()
				})
			}

			g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

			err = g.Run()
			var sigErr run.SignalError
			if errors.As(err, &sigErr) {
				logging.Info("Shutting down", map[string]interface{}{"signal": sigErr.Signal.String()})
				return nil
			}
			return err
		},
	}
}

func newRouter(mgr *offline.Manager, hub *WSHub, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", handlers.Health).Methods(http.MethodGet)
	handlers.NewActionHandler(mgr).Register(r)
	r.HandleFunc("/ws", HandleWebSocket(hub))
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	return r
}
