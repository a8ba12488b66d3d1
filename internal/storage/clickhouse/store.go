package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Store implements the storage.Storage interface using ClickHouse
type Store struct {
	conn   driver.Conn
	logger *slog.Logger

	// ReplacingMergeTree dedups lazily, so Record checks before inserting.
	ledgerMu sync.Mutex
}

// RunRow mirrors a row in optimizer_runs.
type RunRow struct {
	ID             string
	DryRun         uint8
	ThresholdMs    float64
	StartedAt      time.Time
	FinishedAt     time.Time
	DetectedCount  uint32
	BreakerSkipped uint32
	Failed         uint32
	BreakerState   string
	Suggested      string
	Applied        string
}

// NewStore creates a new ClickHouse storage instance
func NewStore(ctx context.Context, config *Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Connect to ClickHouse
	conn, err := Connect(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	// Initialize schema
	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{
		conn:   conn,
		logger: logger,
	}, nil
}

// Ledger operations

func (s *Store) Contains(ctx context.Context, canonicalKey string) (bool, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, "SELECT count() FROM optimizer_ledger WHERE canonical_key = ?", canonicalKey)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Record(ctx context.Context, entry models.LedgerEntry) error {
	if entry.CanonicalKey == "" {
		return errors.New("canonical key cannot be empty")
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	exists, err := s.Contains(ctx, entry.CanonicalKey)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO optimizer_ledger (canonical_key, target_label, target_property, rationale, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.CanonicalKey, entry.TargetLabel, entry.TargetProperty, entry.Rationale,
		uint64(time.Now().UnixNano()), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListLedger(ctx context.Context) ([]models.LedgerEntry, error) {
	query := `
		SELECT canonical_key, target_label, target_property, rationale, created_at
		FROM optimizer_ledger FINAL
		ORDER BY seq
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.CanonicalKey, &e.TargetLabel, &e.TargetProperty, &e.Rationale, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Breaker operations

func (s *Store) LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error) {
	query := `
		SELECT name, state, failure_count, last_failure_at, failure_threshold, cooldown_ns
		FROM optimizer_breakers FINAL
		WHERE name = ?
	`

	var (
		snap        models.BreakerSnapshot
		state       string
		failures    uint32
		threshold   uint32
		lastFailure *time.Time
		cooldown    int64
	)

	row := s.conn.QueryRow(ctx, query, name)
	err := row.Scan(&snap.Name, &state, &failures, &lastFailure, &threshold, &cooldown)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BreakerSnapshot{}, fmt.Errorf("breaker %s: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return models.BreakerSnapshot{}, fmt.Errorf("querying breaker: %w", err)
	}

	snap.State = models.ParseBreakerState(state)
	snap.FailureCount = int(failures)
	snap.FailureThreshold = int(threshold)
	snap.LastFailureAt = lastFailure
	snap.Cooldown = time.Duration(cooldown)
	return snap, nil
}

func (s *Store) SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error {
	if snap.Name == "" {
		return errors.New("breaker name cannot be empty")
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO optimizer_breakers (name, state, failure_count, last_failure_at, failure_threshold, cooldown_ns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snap.Name, snap.State.String(), uint32(snap.FailureCount), snap.LastFailureAt,
		uint32(snap.FailureThreshold), int64(snap.Cooldown), time.Now())
	if err != nil {
		return fmt.Errorf("saving breaker: %w", err)
	}
	return nil
}

// Run history

func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}

	row, err := toRunRow(report)
	if err != nil {
		return err
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO optimizer_runs")
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	err = batch.Append(
		row.ID,
		row.DryRun,
		row.ThresholdMs,
		row.StartedAt,
		row.FinishedAt,
		row.DetectedCount,
		row.BreakerSkipped,
		row.Failed,
		row.BreakerState,
		row.Suggested,
		row.Applied,
	)
	if err != nil {
		return fmt.Errorf("appending run: %w", err)
	}

	return batch.Send()
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	query := `
		SELECT id, dry_run, threshold_ms, started_at, finished_at, detected_count,
		       breaker_skipped, failed, breaker_state, suggested, applied
		FROM optimizer_runs FINAL
		ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*models.RunReport{}
	for rows.Next() {
		var row RunRow
		err := rows.Scan(
			&row.ID, &row.DryRun, &row.ThresholdMs, &row.StartedAt, &row.FinishedAt,
			&row.DetectedCount, &row.BreakerSkipped, &row.Failed, &row.BreakerState,
			&row.Suggested, &row.Applied,
		)
		if err != nil {
			return nil, err
		}

		report, err := fromRunRow(row)
		if err != nil {
			s.logger.Warn("skipping undecodable run", "id", row.ID, "error", err)
			continue
		}
		runs = append(runs, report)
	}

	return runs, rows.Err()
}

func toRunRow(r *models.RunReport) (RunRow, error) {
	suggested, err := json.Marshal(r.Suggested)
	if err != nil {
		return RunRow{}, fmt.Errorf("encoding suggested: %w", err)
	}
	applied, err := json.Marshal(r.Applied)
	if err != nil {
		return RunRow{}, fmt.Errorf("encoding applied: %w", err)
	}

	row := RunRow{
		ID:             r.ID,
		ThresholdMs:    r.ThresholdMs,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		DetectedCount:  uint32(r.DetectedCount),
		BreakerSkipped: uint32(r.BreakerSkipped),
		Failed:         uint32(r.Failed),
		BreakerState:   r.BreakerState.String(),
		Suggested:      string(suggested),
		Applied:        string(applied),
	}
	if r.DryRun {
		row.DryRun = 1
	}
	return row, nil
}

func fromRunRow(row RunRow) (*models.RunReport, error) {
	r := &models.RunReport{
		ID:             row.ID,
		DryRun:         row.DryRun == 1,
		ThresholdMs:    row.ThresholdMs,
		StartedAt:      row.StartedAt,
		FinishedAt:     row.FinishedAt,
		DetectedCount:  int(row.DetectedCount),
		BreakerSkipped: int(row.BreakerSkipped),
		Failed:         int(row.Failed),
		BreakerState:   models.ParseBreakerState(row.BreakerState),
	}
	if err := json.Unmarshal([]byte(row.Suggested), &r.Suggested); err != nil {
		return nil, fmt.Errorf("decoding suggested: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Applied), &r.Applied); err != nil {
		return nil, fmt.Errorf("decoding applied: %w", err)
	}
	return r, nil
}

// Utility operations

// Clear truncates run history and breaker snapshots. The ledger table is never truncated.
func (s *Store) Clear(ctx context.Context) error {
	tables := []string{"optimizer_breakers", "optimizer_runs"}

	for _, table := range tables {
		if err := s.conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			return fmt.Errorf("truncating table %s: %w", table, err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}
