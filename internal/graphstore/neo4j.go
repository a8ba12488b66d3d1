package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

const listTransactionsQuery = `SHOW TRANSACTIONS YIELD currentQuery, elapsedTime, startTime`

// Config holds Neo4j connection parameters.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4j is a Driver backed by the official Neo4j Go driver.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Neo4j, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri not set: %w", ErrUnavailable)
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	logger.Info("connected to neo4j", "uri", cfg.URI, "database", cfg.Database)

	return &Neo4j{
		driver:   driver,
		database: cfg.Database,
		logger:   logger,
	}, nil
}

func (n *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: n.database,
	})
}

// ApplyIndex creates the index for label.property if it does not exist.
func (n *Neo4j) ApplyIndex(ctx context.Context, label, property string) error {
	stmt, err := IndexStatement(label, property)
	if err != nil {
		return err
	}

	session := n.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, stmt, nil)
	if err != nil {
		return fmt.Errorf("creating index on %s.%s: %w", label, property, err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("creating index on %s.%s: %w", label, property, err)
	}

	n.logger.Debug("index statement executed", "statement", stmt)
	return nil
}

// ListRecentOperations returns the transactions currently known to the
// server with their elapsed time.
func (n *Neo4j) ListRecentOperations(ctx context.Context) ([]models.OperationTiming, error) {
	session := n.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, listTransactionsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	var ops []models.OperationTiming
	for result.Next(ctx) {
		record := result.Record()

		query, _ := getString(record, "currentQuery")
		if query == "" || strings.HasPrefix(strings.TrimSpace(query), "SHOW TRANSACTIONS") {
			continue
		}

		op := models.OperationTiming{Query: query}
		if v, ok := record.Get("elapsedTime"); ok {
			if d, ok := v.(neo4j.Duration); ok {
				op.DurationMs = durationMs(d)
			}
		}
		if v, ok := record.Get("startTime"); ok {
			if t, ok := v.(time.Time); ok {
				op.StartedAt = t
			}
		}
		ops = append(ops, op)
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	return ops, nil
}

// Close releases the underlying driver.
func (n *Neo4j) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

func getString(record *neo4j.Record, key string) (string, bool) {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// durationMs converts a server duration to milliseconds. Months are not
// a fixed length and never appear in elapsed times, so they are ignored.
func durationMs(d neo4j.Duration) float64 {
	secs := float64(d.Days)*86400 + float64(d.Seconds)
	return secs*1000 + float64(d.Nanos)/1e6
}
