package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const schemaVersion = "2.0.0"

// InitializeSchema creates all required tables if they don't exist
func InitializeSchema(ctx context.Context, conn driver.Conn) error {
	// Create schema_version table first
	if err := createSchemaVersionTable(ctx, conn); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	// Check current schema version
	currentVersion, err := getCurrentSchemaVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	if currentVersion != "" && currentVersion != schemaVersion {
		return fmt.Errorf("schema version mismatch: database has %s, code expects %s", currentVersion, schemaVersion)
	}

	// Create all tables
	tables := []struct {
		name string
		ddl  string
	}{
		{"optimizer_ledger", ledgerTableDDL},
		{"optimizer_breakers", breakersTableDDL},
		{"optimizer_runs", runsTableDDL},
	}

	for _, table := range tables {
		if err := conn.Exec(ctx, table.ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", table.name, err)
		}
	}

	// Update schema version
	if currentVersion == "" {
		if err := setSchemaVersion(ctx, conn, schemaVersion); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}

	return nil
}

func createSchemaVersionTable(ctx context.Context, conn driver.Conn) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY applied_at
	`
	return conn.Exec(ctx, ddl)
}

func getCurrentSchemaVersion(ctx context.Context, conn driver.Conn) (string, error) {
	var version string
	row := conn.QueryRow(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1")
	err := row.Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, conn driver.Conn, version string) error {
	return conn.Exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
}

const ledgerTableDDL = `
CREATE TABLE IF NOT EXISTS optimizer_ledger (
    canonical_key String,
    target_label String,
    target_property String,
    rationale String,

    -- Insertion order
    seq UInt64,
    created_at DateTime64(9)

) ENGINE = ReplacingMergeTree()
ORDER BY canonical_key
SETTINGS index_granularity = 8192
`

const breakersTableDDL = `
CREATE TABLE IF NOT EXISTS optimizer_breakers (
    name String,
    state LowCardinality(String),
    failure_count UInt32,
    last_failure_at Nullable(DateTime64(9)),
    failure_threshold UInt32,
    cooldown_ns Int64,
    updated_at DateTime64(9)

) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY name
SETTINGS index_granularity = 8192
`

const runsTableDDL = `
CREATE TABLE IF NOT EXISTS optimizer_runs (
    id String,
    dry_run UInt8,
    threshold_ms Float64,
    started_at DateTime64(9),
    finished_at DateTime64(9),

    -- Counters
    detected_count UInt32,
    breaker_skipped UInt32,
    failed UInt32,
    breaker_state LowCardinality(String),

    -- JSON encoded suggestion lists
    suggested String,
    applied String

) ENGINE = ReplacingMergeTree(finished_at)
ORDER BY id
SETTINGS index_granularity = 8192
`
