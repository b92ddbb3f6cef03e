// Package database manages the engine's Postgres connection pool, the
// tenant-scoped repository layer, and schema migrations.
package database

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/inspectflow/orchestrator/infrastructure/metrics"
	"github.com/inspectflow/orchestrator/infrastructure/resilience"
)

// PoolConfig configures the connection pool and its health monitor.
type PoolConfig struct {
	DSN                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	HealthCheckInterval time.Duration
	ConnectRetry        resilience.RetryConfig
}

// DefaultPoolConfig returns sensible defaults for the pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     30 * time.Minute,
		HealthCheckInterval: 60 * time.Second,
		ConnectRetry:        resilience.DefaultRetryConfig(),
	}
}

// Pool wraps a *sqlx.DB with connect-with-retry, periodic utilization
// logging, and a graceful shutdown path.
type Pool struct {
	mu     sync.RWMutex
	db     *sqlx.DB
	cfg    PoolConfig
	logger zerolog.Logger
	cron   *cron.Cron
	m      *metrics.Metrics
}

// Open establishes the pool, retrying the initial connection according to
// cfg.ConnectRetry, and starts the periodic health-monitor cron job.
func Open(ctx context.Context, cfg PoolConfig, m *metrics.Metrics) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database: DSN is required")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "connection_pool").Logger()

	p := &Pool{cfg: cfg, logger: logger, m: m}

	var db *sqlx.DB
	err := resilience.Retry(ctx, cfg.ConnectRetry, func() error {
		conn, openErr := sqlx.Open("postgres", cfg.DSN)
		if openErr != nil {
			return openErr
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if pingErr := conn.PingContext(pingCtx); pingErr != nil {
			conn.Close()
			return pingErr
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect after retries: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p.db = db

	p.cron = cron.New()
	interval := cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := p.cron.AddFunc(spec, p.logPoolStats); err != nil {
		return nil, fmt.Errorf("database: schedule health monitor: %w", err)
	}
	p.cron.Start()

	return p, nil
}

// DB returns the underlying *sqlx.DB for repository use.
func (p *Pool) DB() *sqlx.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db
}

// Close stops the health monitor and closes the underlying connection.
func (p *Pool) Close() error {
	if p.cron != nil {
		ctx := p.cron.Stop()
		<-ctx.Done()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Ping verifies connectivity, used by the /ready health check.
func (p *Pool) Ping(ctx context.Context) error {
	db := p.DB()
	if db == nil {
		return fmt.Errorf("database: pool not open")
	}
	return db.PingContext(ctx)
}

func (p *Pool) logPoolStats() {
	db := p.DB()
	if db == nil {
		return
	}
	stats := db.Stats()
	if p.m != nil {
		p.m.SetDatabaseConnections(stats.OpenConnections)
	}

	event := p.logger.Info()
	if stats.MaxOpenConnections > 0 {
		utilization := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections)
		if utilization >= 0.8 {
			event = p.logger.Warn()
		}
		if stats.OpenConnections > 0 && stats.Idle == 0 && stats.InUse == stats.OpenConnections && stats.WaitCount > 0 {
			event = p.logger.Warn()
		}
	}

	event.
		Int("open", stats.OpenConnections).
		Int("in_use", stats.InUse).
		Int("idle", stats.Idle).
		Int64("wait_count", stats.WaitCount).
		Dur("wait_duration", stats.WaitDuration).
		Msg("connection pool stats")
}
