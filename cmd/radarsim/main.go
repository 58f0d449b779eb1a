// Command radarsim runs the radar data acquisition simulator behind its
// HTTP, SSE and websocket interfaces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/star/radarsim/internal/api"
	"github.com/star/radarsim/internal/archive"
	"github.com/star/radarsim/internal/auth"
	"github.com/star/radarsim/internal/cache"
	"github.com/star/radarsim/internal/config"
	"github.com/star/radarsim/internal/health"
	"github.com/star/radarsim/internal/logging"
	"github.com/star/radarsim/internal/sim"
	"github.com/star/radarsim/internal/stream"
	"github.com/star/radarsim/internal/sun"
	"github.com/star/radarsim/internal/transform"
)

func main() {
	configPath := flag.String("config", "", "config file (default: search /etc/radarsim and the working directory)")
	flag.Parse()

	// Config warnings go to stdout until the configured logger exists.
	boot := logging.NewWithWriter(os.Stdout, "info")
	cfg, err := config.Load(*configPath, boot)
	if err != nil {
		boot.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("radarsim failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	simulator, err := sim.New(cfg.SimConfig(), logger)
	if err != nil {
		return err
	}

	site := transform.NewSite(cfg.Site.Latitude, cfg.Site.Longitude, cfg.Site.Altitude)
	tracker := sun.NewTracker(sun.TrackerConfig{
		Site:         site,
		Interval:     cfg.Site.SunInterval,
		MinElevation: cfg.Sim.MinElevation,
		MaxElevation: cfg.Sim.MaxElevation,
	}, simulator, logger)

	hub := stream.NewHub(simulator.Replies(), cfg.Stream.PollInterval, cfg.Stream.BufferSize, logger)
	streamHandler := stream.NewHandler(hub, simulator, stream.Config{
		MaxPerIP:          cfg.Stream.MaxPerIP,
		MaxClients:        cfg.Stream.MaxClients,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		WriteTimeout:      cfg.Stream.WriteTimeout,
		TrustProxy:        cfg.HTTP.TrustProxy,
	}, logger)

	sweeps := cache.NewSweepCache(cache.Config{
		MaxSweeps:        cfg.Sweeps.MaxSweeps,
		MaxBeamsPerSweep: cfg.Sweeps.MaxBeamsPerSweep,
	}, logger)
	sweepBeams := hub.Subscribe(sim.KindBeam)

	probe := &health.Probe{}
	srv := api.NewServer(api.Config{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		TrustProxy:        cfg.HTTP.TrustProxy,
	}, auth.Config{
		Enabled: cfg.Auth.Enabled,
		Token:   cfg.Auth.Token,
	}, api.Deps{
		Sim:    simulator,
		Sun:    tracker,
		Sweeps: sweeps,
		Stream: streamHandler,
		Health: probe,
	}, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return simulator.Run(gctx) })
	g.Go(func() error { return tracker.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return sweeps.Run(gctx, sweepBeams.C()) })

	if cfg.Archive.Dir != "" {
		w, err := archive.NewWriter(archive.Config{
			Dir:         cfg.Archive.Dir,
			RowsPerFile: cfg.Archive.RowsPerFile,
			MaxFiles:    cfg.Archive.MaxFiles,
			SiteName:    cfg.Site.Name,
			Latitude:    cfg.Site.Latitude,
			Longitude:   cfg.Site.Longitude,
			Altitude:    cfg.Site.Altitude,
		}, logger)
		if err != nil {
			return err
		}
		beams := hub.Subscribe(sim.KindBeam)
		g.Go(func() error { return w.Run(gctx, beams.C()) })
	}

	g.Go(func() error {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"site", cfg.Site.Name,
			"archive_dir", cfg.Archive.Dir,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		probe.SetReady(false)
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	probe.SetReady(true)
	err = g.Wait()
	logger.Info("server stopped")
	return err
}
