package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"idempotency/internal/config"
	"idempotency/internal/httpapi"
	"idempotency/pkg/idempotency"
)

// backend is an opened record store plus what the daemon needs around it.
type backend struct {
	store  idempotency.RecordStore
	health httpapi.HealthCheck
	pool   *pgxpool.Pool
	close  func()
}

// openBackend connects to the store named by cfg.StoreBackend and makes sure
// its schema exists.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return &backend{
			store:  idempotency.NewInMemoryStore(),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil

	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// SQLite allows one writer; serialize at the pool
		db.SetMaxOpenConns(1)
		return openSQL(ctx, db, cfg.TableName, idempotency.DialectSQLite)

	case config.BackendMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql: %w", err)
		}
		return openSQL(ctx, db, cfg.TableName, idempotency.DialectMySQL)

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := idempotency.NewPostgresStore(pool, cfg.TableName)
		if err := store.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to init postgres schema: %w", err)
		}
		return &backend{
			store:  store,
			health: pool.Ping,
			pool:   pool,
			close:  pool.Close,
		}, nil

	case config.BackendRedis:
		store, err := idempotency.NewRedisStoreFromURL(cfg.RedisURL, cfg.RedisPrefix, cfg.RedisRetention)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &backend{
			store:  store,
			health: store.Ping,
			close:  func() { store.Close() },
		}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openSQL(ctx context.Context, db *sql.DB, table string, dialect idempotency.SQLDialect) (*backend, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	store := idempotency.NewSQLStore(db, table, dialect)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init %s schema: %w", dialect, err)
	}
	return &backend{
		store:  store,
		health: db.PingContext,
		close:  func() { db.Close() },
	}, nil
}
