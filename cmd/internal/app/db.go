package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kaenbyou/cmd/internal/messages"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	sqlitePrefix = "sqlite:"
)

// Database is the opened message store plus the lifecycle hooks the app
// needs around it.
type Database struct {
	Store messages.Store
	Kind  string

	pool *pgxpool.Pool
}

// StoreKind maps a DSN onto the store that serves it: empty is memory,
// a "sqlite:" prefix is SQLite, anything else is Postgres.
func StoreKind(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return StoreMemory
	case strings.HasPrefix(dsn, sqlitePrefix):
		return StoreSQLite
	default:
		return StorePostgres
	}
}

// OpenDatabase opens the store selected by cfg.DatabaseURL. SQLite and
// memory stores carry their schema with them; Postgres is migrated by the
// migrate command unless migrate is set.
func OpenDatabase(ctx context.Context, cfg Config, log Logger, migrate bool) (*Database, error) {
	kind := StoreKind(cfg.DatabaseURL)
	db := &Database{Kind: kind}

	switch kind {
	case StoreMemory:
		log.Info("db.disabled.inmemory_store")
		db.Store = messages.NewInMemoryStore()
		return db, nil

	case StoreSQLite:
		st, err := messages.OpenSQLite(strings.TrimPrefix(strings.TrimSpace(cfg.DatabaseURL), sqlitePrefix))
		if err != nil {
			return nil, err
		}
		db.Store = st
		migrate = true

	default:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		st, err := messages.NewPostgresStore(pool, messages.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		db.Store = st
		db.pool = pool
	}

	if migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.Info("db.enabled", "store", kind, "migrated", migrate)
	return db, nil
}

// Enabled reports whether messages outlive the process.
func (d *Database) Enabled() bool { return d.Kind != StoreMemory }

// Migrate applies the store schema when the store manages one.
func (d *Database) Migrate(ctx context.Context) error {
	m, ok := d.Store.(messages.Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

// Ping checks the backing database within timeout.
func (d *Database) Ping(ctx context.Context, timeout time.Duration) error {
	if d.pool != nil {
		return PingDB(ctx, d.pool, timeout)
	}
	if p, ok := d.Store.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.Ping(ctx)
	}
	return nil
}

func (d *Database) Close() {
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
