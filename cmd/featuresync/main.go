// Package main runs featuresync: it listens for edits on the Laadpalen layer
// and writes the accepted state of each charging point to the Zoekgebieden
// it lies in.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/c360/featuresync/config"
	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/health"
	"github.com/c360/featuresync/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "featuresync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting featuresync",
		"version", Version,
		"build_time", BuildTime,
		"config", cliCfg.ConfigPaths,
		"store", cfg.Store.Driver,
		"source_layer", cfg.Layers.Source.Name,
		"target_layer", cfg.Layers.Target.Name)
	logger.Debug("Effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	}
	defer func() {
		sctx, cancel := shutdownCtx()
		defer cancel()
		a.close(sctx)
		logger.Info("featuresync shutdown complete")
	}()

	if a.ws != nil {
		if err := a.ws.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := a.ws.Stop(cliCfg.ShutdownTimeout); err != nil {
				logger.Warn("WebSocket server did not stop cleanly", "error", err)
			}
		}()
	}

	if err := a.signIn(ctx); err != nil {
		return err
	}

	return serve(ctx, a, cfg.Metrics, shutdownCtx)
}

// serve runs the metrics server and the SIGHUP loop until ctx is done or one
// of them fails.
func serve(ctx context.Context, a *app, mc config.MetricsConfig, shutdownCtx func() (context.Context, context.CancelFunc)) error {
	g, gctx := errgroup.WithContext(ctx)

	if mc.Enabled {
		srv := metric.NewServer(mc.Port, mc.Path, a.registry)
		srv.Handle("/healthz", health.Handler(a.monitor, appName))
		g.Go(func() error {
			a.logger.Info("Metrics server listening", "address", srv.Address())
			return srv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := shutdownCtx()
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				a.logger.Info("Received SIGHUP, starting a new session")
				if err := a.reinit(gctx); err != nil {
					// the process stays up so a later SIGHUP can retry
					a.logger.Error("Re-initialisation failed", "error", err)
				}
			}
		}
	})

	a.logger.Info("featuresync started")
	<-gctx.Done()
	a.logger.Info("Received shutdown signal")
	return g.Wait()
}

func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
