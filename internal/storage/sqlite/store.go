// Package sqlite provides a SQLite-backed storage implementation. It keeps
// the ledger and breaker state across process restarts.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// Fixed width keeps lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed storage.
type Store struct {
	db *sql.DB

	// Serializes ledger inserts so seq stays monotonic.
	ledgerMu  sync.Mutex
	closeOnce sync.Once
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath string
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{DBPath: dbPath}
}

// New creates a new SQLite store with the given configuration.
func New(cfg Config) (*Store, error) {
	// Open database
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	// Run migrations
	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// Clear removes run history and breaker snapshots. Ledger entries are kept.
func (s *Store) Clear(ctx context.Context) error {
	tables := []string{"breakers", "runs"}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Ledger operations

// Contains reports whether the key is in the ledger.
func (s *Store) Contains(ctx context.Context, canonicalKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger WHERE canonical_key = ?", canonicalKey,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return n > 0, nil
}

// Record adds an entry. Re-recording a key keeps the first entry.
func (s *Store) Record(ctx context.Context, entry models.LedgerEntry) error {
	if entry.CanonicalKey == "" {
		return errors.New("canonical key cannot be empty")
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (canonical_key, target_label, target_property, rationale, created_at, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger))
		ON CONFLICT(canonical_key) DO NOTHING
	`, entry.CanonicalKey, entry.TargetLabel, entry.TargetProperty, entry.Rationale,
		entry.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// ListLedger returns entries in insertion order.
func (s *Store) ListLedger(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_key, target_label, target_property, rationale, created_at
		FROM ledger ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var createdAt string
		if err := rows.Scan(&e.CanonicalKey, &e.TargetLabel, &e.TargetProperty, &e.Rationale, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Breaker operations

// LoadBreaker returns a saved breaker snapshot.
func (s *Store) LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error) {
	var (
		snap        models.BreakerSnapshot
		state       string
		lastFailure sql.NullString
		cooldown    int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT name, state, failure_count, last_failure_at, failure_threshold, cooldown_ns
		FROM breakers WHERE name = ?
	`, name).Scan(&snap.Name, &state, &snap.FailureCount, &lastFailure, &snap.FailureThreshold, &cooldown)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BreakerSnapshot{}, fmt.Errorf("breaker %s: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return models.BreakerSnapshot{}, fmt.Errorf("querying breaker: %w", err)
	}

	snap.State = models.ParseBreakerState(state)
	snap.Cooldown = time.Duration(cooldown)
	if lastFailure.Valid {
		if t, err := time.Parse(timeLayout, lastFailure.String); err == nil {
			snap.LastFailureAt = &t
		}
	}
	return snap, nil
}

// SaveBreaker upserts a breaker snapshot.
func (s *Store) SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error {
	if snap.Name == "" {
		return errors.New("breaker name cannot be empty")
	}

	var lastFailure sql.NullString
	if snap.LastFailureAt != nil {
		lastFailure = sql.NullString{String: snap.LastFailureAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breakers (name, state, failure_count, last_failure_at, failure_threshold, cooldown_ns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			failure_count = excluded.failure_count,
			last_failure_at = excluded.last_failure_at,
			failure_threshold = excluded.failure_threshold,
			cooldown_ns = excluded.cooldown_ns,
			updated_at = excluded.updated_at
	`, snap.Name, snap.State.String(), snap.FailureCount, lastFailure,
		snap.FailureThreshold, int64(snap.Cooldown), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving breaker: %w", err)
	}
	return nil
}

// Run history

// SaveRun stores a run report.
func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}

	suggested, err := encodeJSON(report.Suggested)
	if err != nil {
		return err
	}
	applied, err := encodeJSON(report.Applied)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, dry_run, threshold_ms, started_at, finished_at, detected_count,
			breaker_skipped, failed, breaker_state, suggested, applied
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.DryRun, report.ThresholdMs,
		report.StartedAt.UTC().Format(timeLayout), report.FinishedAt.UTC().Format(timeLayout),
		report.DetectedCount, report.BreakerSkipped, report.Failed,
		report.BreakerState.String(), suggested, applied)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	query := `
		SELECT id, dry_run, threshold_ms, started_at, finished_at, detected_count,
		       breaker_skipped, failed, breaker_state, suggested, applied
		FROM runs ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.RunReport{}
	for rows.Next() {
		var (
			r                     models.RunReport
			started, finished     string
			state                 string
			suggested, appliedStr string
		)
		if err := rows.Scan(&r.ID, &r.DryRun, &r.ThresholdMs, &started, &finished, &r.DetectedCount,
			&r.BreakerSkipped, &r.Failed, &state, &suggested, &appliedStr); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		r.BreakerState = models.ParseBreakerState(state)
		if err := decodeJSON(suggested, &r.Suggested); err != nil {
			return nil, err
		}
		if err := decodeJSON(appliedStr, &r.Applied); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Helper functions

// encodeJSON encodes data as JSON string.
func encodeJSON(data interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding JSON: %w", err)
	}
	return string(b), nil
}

// decodeJSON decodes JSON string to target.
func decodeJSON(data string, target interface{}) error {
	if err := json.Unmarshal([]byte(data), target); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}
