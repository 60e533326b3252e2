package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/featuresync/config"
	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/health"
	"github.com/c360/featuresync/metric"
	"github.com/c360/featuresync/natsclient"
	"github.com/c360/featuresync/notify"
	"github.com/c360/featuresync/propagation"
	"github.com/c360/featuresync/source"
	"github.com/c360/featuresync/source/natssource"
	"github.com/c360/featuresync/source/wssource"
	"github.com/c360/featuresync/store"
)

// app holds the long-lived parts of the process. The session is replaced on
// every re-initialisation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	nats       *natsclient.Client
	store      store.Store
	closeStore func() error
	ws         *wssource.Server
	orch       *propagation.Orchestrator

	mu   sync.Mutex
	sess *propagation.Session
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{
		cfg:        cfg,
		logger:     logger,
		registry:   metric.NewMetricsRegistry(),
		monitor:    health.NewMonitor(),
		closeStore: func() error { return nil },
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.UsesNATS() {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		a.monitor.Update("store", health.FromError("store", err))
		return nil, err
	}
	a.store, a.closeStore = st, closeStore
	a.monitor.UpdateHealthy("store", cfg.Store.Driver)

	sources, err := a.buildSources()
	if err != nil {
		return nil, err
	}

	a.orch = propagation.New(propagationConfig(cfg), sources,
		propagation.WithNotifier(a.buildNotifier()),
		propagation.WithLogger(logger),
		propagation.WithMetrics(a.registry),
	)
	return a, nil
}

// natsOptions translates the NATS section into client options. Connection
// state changes are reported to the health monitor.
func (a *app) natsOptions() []natsclient.ClientOption {
	nc := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry),
		natsclient.WithHealthChangeCallback(a.natsHealthChanged),
		natsclient.WithDisconnectCallback(func(err error) {
			a.logger.Warn("NATS connection lost, edits from NATS are paused", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			a.logger.Info("NATS connection restored")
		}),
	}
	if nc.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(nc.PingInterval))
	}
	if nc.MaxBackoff > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(nc.MaxBackoff))
	}
	if nc.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(nc.DrainTimeout))
	}
	if t := nc.TLS; t.Enabled {
		opts = append(opts, natsclient.WithTLS(t.CertFile, t.KeyFile, t.CAFile))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	return opts
}

func (a *app) natsHealthChanged(healthy bool) {
	if healthy {
		a.monitor.UpdateHealthy("nats", "connected")
		return
	}
	a.monitor.UpdateUnhealthy("nats", "not connected")
}

func (a *app) connectNATS(ctx context.Context) error {
	client, err := natsclient.NewClient(a.cfg.NATS.URLs[0], a.natsOptions()...)
	if err != nil {
		return errors.WrapFatal(err, "main", "connectNATS", "create NATS client")
	}
	a.nats = client
	a.monitor.UpdateUnhealthy("nats", "connecting")

	a.logger.Info("Connecting to NATS")
	if err := client.Connect(ctx); err != nil {
		return err
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return errors.WrapTransient(err, "main", "connectNATS", "wait for connection")
	}
	a.natsHealthChanged(true)
	return nil
}

func (a *app) buildSources() ([]source.Source, error) {
	var sources []source.Source

	if ws := a.cfg.Sources.WebSocket; ws.Enabled {
		wsCfg := wssource.DefaultConfig()
		wsCfg.Port = ws.Port
		wsCfg.Path = ws.Path
		wsCfg.Token = ws.Token
		wsCfg.AllowedOrigins = ws.AllowedOrigins
		if ws.MaxConnections > 0 {
			wsCfg.MaxConnections = ws.MaxConnections
		}
		if ws.PingInterval > 0 {
			wsCfg.PingInterval = ws.PingInterval
		}
		srv, err := wssource.New(wsCfg, wssource.WithLogger(a.logger), wssource.WithMetrics(a.registry))
		if err != nil {
			return nil, err
		}
		a.ws = srv
		sources = append(sources, srv)
	}

	if ns := a.cfg.Sources.NATS; ns.Enabled {
		var (
			src *natssource.Source
			err error
		)
		if ns.Stream != "" {
			src, err = natssource.NewStream(a.nats, ns.Stream, ns.Durable, ns.Subject, natssource.WithLogger(a.logger))
		} else {
			src, err = natssource.New(a.nats, ns.Subject, natssource.WithLogger(a.logger))
		}
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		a.logger.Warn("No edit sources enabled; propagation will never run")
	}
	return sources, nil
}

func (a *app) buildNotifier() notify.Sink {
	sinks := notify.Fanout{notify.LogSink{Logger: a.logger.With("component", "notices")}}
	if a.cfg.Notify.WebSocket && a.ws != nil {
		sinks = append(sinks, a.ws)
	}
	if a.cfg.Notify.Subject != "" && a.nats != nil {
		sinks = append(sinks, notify.NewPublishSink(a.nats, a.cfg.Notify.Subject, a.logger))
	}
	return sinks
}

func propagationConfig(cfg *config.Config) propagation.Config {
	pc := propagation.DefaultConfig()
	pc.Source = propagation.Layer(cfg.Layers.Source)
	pc.Target = propagation.Layer(cfg.Layers.Target)
	pc.Window = cfg.Propagation.Window
	pc.Workers = cfg.Propagation.Workers
	pc.QueueSize = cfg.Propagation.QueueSize
	pc.ProtectTarget = cfg.Propagation.ProtectTarget
	if cfg.Propagation.StopTimeout > 0 {
		pc.StopTimeout = cfg.Propagation.StopTimeout
	}
	return pc
}

// signIn opens a new session over the store and installs propagation.
func (a *app) signIn(ctx context.Context) error {
	sess := propagation.NewSession(a.store)
	if _, err := a.orch.Install(ctx, sess); err != nil {
		if cerr := sess.Close(); cerr != nil {
			a.logger.Warn("Session did not close cleanly", "session", sess.ID(), "error", cerr)
		}
		a.monitor.Update("session", health.FromError("session", err))
		return err
	}

	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()
	a.monitor.UpdateHealthy("session", "propagation installed")
	a.logger.Info("Session started", "session", sess.ID())
	return nil
}

// signOut closes the current session, uninstalling its pipeline.
func (a *app) signOut() error {
	a.mu.Lock()
	sess := a.sess
	a.sess = nil
	a.mu.Unlock()

	if sess == nil {
		return nil
	}
	err := sess.Close()
	a.monitor.UpdateDegraded("session", "signed out")
	a.logger.Info("Session closed", "session", sess.ID())
	return err
}

// reinit is the sign-out/sign-in transition.
func (a *app) reinit(ctx context.Context) error {
	if err := a.signOut(); err != nil {
		a.logger.Warn("Session did not close cleanly", "error", err)
	}
	return a.signIn(ctx)
}

func (a *app) close(ctx context.Context) {
	if err := a.signOut(); err != nil {
		a.logger.Warn("Session did not close cleanly", "error", err)
	}
	if err := a.closeStore(); err != nil {
		a.logger.Warn("Store did not close cleanly", "error", err)
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("NATS did not close cleanly", "error", err)
		}
	}
}
