package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/config"
)

// ErrNotFound is returned when no archived report matches
var ErrNotFound = errors.New("report not found")

// Client archives finished sessions and their event trail
type Client struct {
	db      *sqlx.DB
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// Open connects using cfg, sizes the pool and applies the schema
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver is not configured")
	}
	raw, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		raw.SetMaxOpenConns(1)
	} else {
		raw.SetMaxOpenConns(25)
		raw.SetMaxIdleConns(5)
		raw.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := NewWithDB(raw, logger)
	if err := c.Migrate(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	logger.Info("Database connected", zap.String("driver", cfg.Driver))
	return c, nil
}

// NewWithDB wraps an existing connection
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := circuitbreaker.SettingsFor(circuitbreaker.KindDB)
	settings.IsFailure = func(err error) bool { return !errors.Is(err, sql.ErrNoRows) }
	return &Client{
		db:      db,
		breaker: circuitbreaker.New("database", settings, logger),
		logger:  logger,
	}
}

// Migrate creates the archive tables when missing
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Ping reports database reachability for health checks
func (c *Client) Ping(ctx context.Context) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.db.PingContext(ctx)
	})
}

func (c *Client) Close() error {
	return c.db.Close()
}
