package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DB is an ent SQL driver over either a pgx pool or a sqlite file.
type DB struct {
	drv     *entsql.Driver
	pool    *pgxpool.Pool
	dialect string
	logger  *slog.Logger
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to the ledger database. postgres:// DSNs get a pgx pool wrapped
// for ent; anything else is treated as a sqlite file path.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("open ledger: empty dsn")
	}
	if !isPostgres(cfg.DSN) {
		return openSQLite(ctx, cfg, logger)
	}

	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "pdfq"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for ent
	db := &DB{
		drv:     entsql.OpenDB(dialect.Postgres, stdlib.OpenDBFromPool(pool)),
		pool:    pool,
		dialect: dialect.Postgres,
		logger:  logger,
	}
	if err := db.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("successfully connected to database")
	return db, nil
}

func openSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	path := strings.TrimPrefix(cfg.DSN, "sqlite://")
	logger.Info("opening database", "driver", "sqlite", "path", path)
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer
	sqldb.SetMaxOpenConns(1)

	db := &DB{
		drv:     entsql.OpenDB(dialect.SQLite, sqldb),
		dialect: dialect.SQLite,
		logger:  logger,
	}
	if err := db.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const createJobRuns = `CREATE TABLE IF NOT EXISTS job_runs (
	id                  TEXT PRIMARY KEY,
	status              TEXT NOT NULL,
	failure_kind        TEXT NOT NULL DEFAULT '',
	source_file         TEXT NOT NULL DEFAULT '',
	total_pages         INTEGER NOT NULL DEFAULT 0,
	questions_extracted INTEGER NOT NULL DEFAULT 0,
	output_file         TEXT NOT NULL DEFAULT '',
	partial_output      BOOLEAN NOT NULL DEFAULT FALSE,
	message             TEXT NOT NULL DEFAULT '',
	started_at          BIGINT NOT NULL,
	elapsed_ms          BIGINT NOT NULL DEFAULT 0
)`

// matches the started_at index declared in db/ent/schema
const createJobRunsStartedAt = `CREATE INDEX IF NOT EXISTS jobrun_started_at ON job_runs (started_at)`

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range []string{createJobRuns, createJobRunsStartedAt} {
		var res sql.Result
		if err := db.drv.Exec(ctx, stmt, []any{}, &res); err != nil {
			return fmt.Errorf("migrate job_runs: %w", err)
		}
	}
	return nil
}

// Close closes the database connections gracefully
func (db *DB) Close() {
	if db == nil {
		return
	}
	db.logger.Info("closing database connections")
	if err := db.drv.Close(); err != nil {
		db.logger.Error("failed to close ent driver", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// HealthCheck pings the underlying database.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if db.pool != nil {
		return db.pool.Ping(ctx)
	}
	return db.drv.DB().PingContext(ctx)
}
