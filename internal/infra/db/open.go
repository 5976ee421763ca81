package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	pkgconfig "github.com/dysthesis/sift/internal/pkg/config"
	"github.com/dysthesis/sift/internal/resilience/retry"
)

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration.
// The worker is a single process with a small fan-out, so the pool is small.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// ConnectionConfigFromEnv reads DB_* pool settings over the defaults. Invalid
// values fall back and are returned as warnings.
func ConnectionConfigFromEnv() (ConnectionConfig, []string) {
	def := DefaultConnectionConfig()
	positive := func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 1000) }

	maxOpen := pkgconfig.LoadEnvInt("DB_MAX_OPEN_CONNS", def.MaxOpenConns, positive)
	maxIdle := pkgconfig.LoadEnvInt("DB_MAX_IDLE_CONNS", def.MaxIdleConns, positive)
	lifetime := pkgconfig.LoadEnvDuration("DB_CONN_MAX_LIFETIME", def.ConnMaxLifetime, pkgconfig.ValidatePositiveDuration)
	idle := pkgconfig.LoadEnvDuration("DB_CONN_MAX_IDLE_TIME", def.ConnMaxIdleTime, pkgconfig.ValidatePositiveDuration)

	var warnings []string
	warnings = append(warnings, maxOpen.Warnings...)
	warnings = append(warnings, maxIdle.Warnings...)
	warnings = append(warnings, lifetime.Warnings...)
	warnings = append(warnings, idle.Warnings...)
	return ConnectionConfig{
		MaxOpenConns:    maxOpen.Value,
		MaxIdleConns:    maxIdle.Value,
		ConnMaxLifetime: lifetime.Value,
		ConnMaxIdleTime: idle.Value,
	}, warnings
}

// Open opens a pgx-backed pool, applies cfg and verifies the connection.
func Open(ctx context.Context, dsn string, cfg ConnectionConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configure(db, cfg)

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))
	return db, nil
}

// ping retries refused and reset connections, which is what a database
// container still starting up looks like.
func ping(ctx context.Context, db *sql.DB) error {
	return retry.WithBackoff(ctx, retry.DBConfig(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
}

func configure(db *sql.DB, cfg ConnectionConfig) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}
