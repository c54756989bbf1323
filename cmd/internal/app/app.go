// Package app wires the kaenbyou server runtime: config, logging, storage,
// bot connections, the sync engine, the event stream and the REST API.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"kaenbyou/cmd/internal/api"
	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/bots/discord"
	"kaenbyou/cmd/internal/bots/slack"
	"kaenbyou/cmd/internal/bots/telegram"
	"kaenbyou/cmd/internal/contacts"
	"kaenbyou/cmd/internal/messages"
	"kaenbyou/cmd/internal/realtime"
	"kaenbyou/cmd/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App is the kaenbyou server runtime. New wires every component; Run drives
// them until the context is cancelled.
type App struct {
	cfg  Config
	file FileConfig
	log  Logger

	metrics    *telemetry.Metrics
	db         *Database
	registry   *bots.Registry
	webhooks   *realtime.Webhooks
	dispatcher *realtime.Dispatcher
	service    *messages.Service

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	var file FileConfig
	if cfg.ConfigFile != "" {
		var err error
		if file, err = LoadFileConfig(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	db, err := OpenDatabase(ctx, cfg, log, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()

	registry := bots.NewRegistry(log)
	for _, f := range []bots.Factory{discord.Factory(), slack.Factory(), telegram.Factory()} {
		if err := registry.RegisterFactory(f); err != nil {
			db.Close()
			return nil, err
		}
	}

	webhooks := realtime.NewWebhooks(log, cfg.WebhookTimeout, metrics)
	webhooks.SetTargets(file.WebhookTargets())

	dispatcher := realtime.NewDispatcher(log, realtime.DispatcherConfig{
		Retention:   cfg.ResumeTimeout,
		MaxBuffered: cfg.MaxBuffered,
	}, webhooks, metrics)

	service := messages.NewService(log, registry, db.Store, dispatcher, messages.Config{
		Backfill: messages.BackfillConfig{
			Interval:     cfg.FetchInterval,
			FetchTimeout: cfg.FetchTimeout,
		},
		Lanes: cfg.IngestLanes,
	}, metrics)

	rest := api.NewHandler(log, api.Config{
		BasePath:     cfg.BasePath,
		Token:        cfg.Token,
		MaxBodyBytes: cfg.MaxBodyBytes,
		LoginTimeout: cfg.LoginTimeout,
	}, registry, db.Store, contacts.NewAggregator(log, registry, db.Store))

	ws := realtime.NewWSGateway(log, dispatcher, registry, realtime.GatewayConfig{
		Token:          cfg.Token,
		DevInsecure:    cfg.WSDevInsecure,
		OriginRequired: cfg.WSOriginRequired,
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, db, ws, rest, metrics)

	return &App{
		cfg:        cfg,
		file:       file,
		log:        log,
		metrics:    metrics,
		db:         db,
		registry:   registry,
		webhooks:   webhooks,
		dispatcher: dispatcher,
		service:    service,
		handler:    newHTTPHandler(mux, cfg, log),
	}, nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP on the configured address until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.log.Error("server.listen.fail", "addr", a.cfg.HTTPAddr, "err", err)
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs every component on ln until ctx is done or one of them fails,
// then shuts down in reverse order: HTTP, bot connections, webhooks, store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"api_url", base+a.cfg.BasePath+"/v1",
		"ws_url", wsBaseURL(base)+a.cfg.BasePath+eventsPath,
		"store", a.db.Kind,
		"auth", a.cfg.Token != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.service.Run(gctx) })
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.openBots(gctx, a.file.Bots)
		return nil
	})
	if a.cfg.ConfigFile != "" {
		g.Go(func() error {
			return WatchFileConfig(gctx, a.log, a.cfg.ConfigFile, a.applyFileConfig)
		})
	}

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.registry.StopAll(stopCtx)
	a.webhooks.Wait()
	a.db.Close()

	a.log.Info("server.stopped")
	return err
}

// openBots starts the connections listed in the config file. A connection
// that fails to start is logged and skipped.
func (a *App) openBots(ctx context.Context, entries []BotEntry) {
	for i, b := range entries {
		raw, err := b.RawConfig()
		if err != nil {
			a.log.Warn("bots.open.fail", "index", i, "platform", b.Platform, "err", err)
			continue
		}
		id, conn, err := a.registry.Open(ctx, b.Platform, raw)
		if err != nil {
			a.log.Warn("bots.open.fail", "index", i, "platform", b.Platform, "err", err)
			continue
		}
		a.log.Info("bots.open", "id", id, "platform", b.Platform, "self_id", conn.SelfID())
	}
}

// applyFileConfig applies a reloaded config file. Webhook targets change
// live; bot entries only take effect on restart.
func (a *App) applyFileConfig(f FileConfig) {
	a.webhooks.SetTargets(f.WebhookTargets())
	if len(f.Bots) != len(a.file.Bots) {
		a.log.Info("config.reload.bots_ignored", "configured", len(f.Bots), "running", len(a.file.Bots))
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
