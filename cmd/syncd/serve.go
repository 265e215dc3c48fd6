package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gigsync/internal/membership"
	"gigsync/internal/notification"
	"gigsync/internal/registry"
	"gigsync/internal/router"
	"gigsync/internal/transport"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync core and the local UI bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.close()
		return serve(rt)
	},
}

func serve(rt *runtime) error {
	cfg, log := rt.cfg, rt.log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	manager := transport.NewManager(transport.Config{
		URL:              cfg.Realtime.URL,
		Token:            cfg.API.Token,
		BaseBackoff:      time.Duration(cfg.Realtime.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:       time.Duration(cfg.Realtime.MaxBackoffMs) * time.Millisecond,
		MaxRetries:       cfg.Realtime.MaxRetries,
		LivenessWindow:   time.Duration(cfg.Realtime.LivenessSec) * time.Second,
		PingInterval:     time.Duration(cfg.Realtime.PingIntervalSec) * time.Second,
		HandshakeTimeout: time.Duration(cfg.Realtime.HandshakeTimeout) * time.Second,
		SendBuffer:       cfg.Realtime.SendBuffer,
	}, log)

	reg := registry.New(manager, log)
	reg.SetUser(cfg.Session.UserID)

	svc := notification.NewService(
		notification.NewStore(),
		notification.NewAPI(rt.client, cfg.API.PageLimit),
		reg,
		notification.CoordinatorConfig{
			Debounce: time.Duration(cfg.Read.DebounceMs) * time.Millisecond,
			MaxBatch: cfg.Read.MaxBatch,
		},
		log,
	)
	defer svc.Close()

	var source membership.Source = membership.Static(cfg.Membership.StaticGroups)
	if cfg.Membership.Source == "poll" {
		source = membership.NewPoller(rt.client, membership.PollerConfig{
			Endpoint: cfg.Membership.Endpoint,
			Interval: time.Duration(cfg.Membership.IntervalSec) * time.Second,
		}, log)
	}
	go func() {
		if err := source.Watch(ctx, svc.SetGroups); err != nil {
			log.Error("membership source stopped", "error", err)
		}
	}()

	channelDone := make(chan error, 1)
	go func() { channelDone <- manager.Run(ctx, svc) }()

	if err := svc.Start(ctx); err != nil {
		// Pushes still flow; history is retried on the next reconnect or refresh.
		log.Warn("starting without history", "error", err)
	}

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(cfg, log, notification.NewHandler(svc, log)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the stream endpoint is long-lived
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("bridge starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err := <-serverErr:
		runErr = fmt.Errorf("bridge failed: %w", err)
	case err := <-channelDone:
		runErr = err
		channelDone <- err
	}
	stop()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("bridge forced to shutdown", "error", err)
	}

	if err := <-channelDone; err != nil && runErr == nil {
		runErr = err
	}

	log.Info("sync core exited")
	return runErr
}
