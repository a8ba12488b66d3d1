// Package clickhouse stores the optimizer ledger, breaker state and run
// history in ClickHouse.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config describes how the store reaches ClickHouse.
type Config struct {
	// Addr is either host:port or a clickhouse:// DSN. A DSN carries its own
	// credentials, database and driver settings and overrides the fields
	// below.
	Addr     string
	Database string
	Username string
	Password string
	TLS      *tls.Config

	// Attempts bounds how many times the initial ping is tried. The optimizer
	// usually starts alongside ClickHouse, which may still be coming up.
	Attempts int
	Backoff  time.Duration
}

// DefaultConfig returns the settings for a local single-node ClickHouse.
func DefaultConfig() *Config {
	return &Config{
		Addr:     "localhost:9000",
		Database: "default",
		Username: "default",
		Attempts: 3,
		Backoff:  time.Second,
	}
}

// options translates cfg into driver options. The optimizer writes a few rows
// per run, so the pool stays small.
func (cfg *Config) options() (*clickhouse.Options, error) {
	var opts *clickhouse.Options

	if strings.Contains(cfg.Addr, "://") {
		parsed, err := clickhouse.ParseDSN(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parsing ClickHouse DSN: %w", err)
		}
		opts = parsed
	} else {
		opts = &clickhouse.Options{
			Addr: []string{cfg.Addr},
			Auth: clickhouse.Auth{
				Database: cfg.Database,
				Username: cfg.Username,
				Password: cfg.Password,
			},
			TLS: cfg.TLS,
		}
	}

	if opts.Settings == nil {
		opts.Settings = clickhouse.Settings{}
	}
	if _, ok := opts.Settings["max_execution_time"]; !ok {
		opts.Settings["max_execution_time"] = 30
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 4
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 2
	}
	return opts, nil
}

// Connect opens a pool and waits until ClickHouse answers a ping, backing off
// between attempts.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (driver.Conn, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening ClickHouse pool: %w", err)
	}

	attempts := max(cfg.Attempts, 1)
	backoff := cfg.Backoff

	for attempt := 1; ; attempt++ {
		err = conn.Ping(ctx)
		if err == nil {
			return conn, nil
		}
		if attempt >= attempts {
			break
		}

		logger.Warn("ClickHouse not ready, retrying",
			"addr", strings.Join(opts.Addr, ","),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	conn.Close()
	return nil, fmt.Errorf("ClickHouse unreachable after %d attempts: %w", attempts, err)
}
