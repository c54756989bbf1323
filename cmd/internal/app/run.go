package app

import (
	"context"

	"kaenbyou/cmd/internal/telemetry"
)

// Serve is the entrypoint of the serve command. It returns an error instead
// of calling os.Exit to keep defers effective.
func Serve(ctx context.Context, cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TraceConfig{
		ServiceName: "kaenbyou",
		Stdout:      cfg.TraceStdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("tracing.shutdown.fail", "err", err)
		}
	}()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}

// Migrate applies the schema of the configured store and exits.
func Migrate(ctx context.Context, cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := OpenDatabase(ctx, cfg, log, true)
	if err != nil {
		log.Error("db.migrate.fail", "store", StoreKind(cfg.DatabaseURL), "err", err)
		return err
	}
	defer db.Close()

	log.Info("db.migrate.done", "store", db.Kind)
	return nil
}
