// Package dual mirrors writes to a secondary backend during migrations.
package dual

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Backend is the storage surface both sides must provide. It matches
// storage.Storage, which imports this package.
type Backend interface {
	Contains(ctx context.Context, canonicalKey string) (bool, error)
	Record(ctx context.Context, entry models.LedgerEntry) error
	ListLedger(ctx context.Context) ([]models.LedgerEntry, error)
	LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error)
	SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error
	SaveRun(ctx context.Context, report *models.RunReport) error
	ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error)
	Clear(ctx context.Context) error
	Close() error
}

// Store wraps two storage backends for dual-write migration.
// Writes go to both primary and secondary.
// Reads come from primary only.
type Store struct {
	primary   Backend
	secondary Backend
	logger    *slog.Logger

	// Tracks in-flight secondary writes so Close can drain them.
	pending sync.WaitGroup
}

// Config holds dual store configuration.
type Config struct {
	Primary   Backend
	Secondary Backend
	Logger    *slog.Logger
}

// New creates a new dual-write store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
	}
}

// dualWrite performs a write to both backends.
// Errors from secondary are logged but don't fail the operation.
func (s *Store) dualWrite(ctx context.Context, op string, primaryWrite func(context.Context) error, secondaryWrite func(context.Context) error) error {
	// Write to primary (this determines success/failure)
	if err := primaryWrite(ctx); err != nil {
		return err
	}

	// The caller's context may end before the secondary write does.
	detached := context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := secondaryWrite(detached); err != nil {
			s.logger.Error("dual-write to secondary failed",
				"operation", op,
				"error", err,
			)
		}
	}()

	return nil
}

// Contains checks the ledger on the primary backend only.
func (s *Store) Contains(ctx context.Context, canonicalKey string) (bool, error) {
	return s.primary.Contains(ctx, canonicalKey)
}

// Record stores a ledger entry in both backends.
func (s *Store) Record(ctx context.Context, entry models.LedgerEntry) error {
	return s.dualWrite(ctx, "Record",
		func(ctx context.Context) error { return s.primary.Record(ctx, entry) },
		func(ctx context.Context) error { return s.secondary.Record(ctx, entry) },
	)
}

// ListLedger lists ledger entries from primary backend only.
func (s *Store) ListLedger(ctx context.Context) ([]models.LedgerEntry, error) {
	return s.primary.ListLedger(ctx)
}

// LoadBreaker loads a breaker snapshot from primary backend only.
func (s *Store) LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error) {
	return s.primary.LoadBreaker(ctx, name)
}

// SaveBreaker stores a breaker snapshot in both backends.
func (s *Store) SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error {
	return s.dualWrite(ctx, "SaveBreaker",
		func(ctx context.Context) error { return s.primary.SaveBreaker(ctx, snap) },
		func(ctx context.Context) error { return s.secondary.SaveBreaker(ctx, snap) },
	)
}

// SaveRun stores a run report in both backends.
func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	return s.dualWrite(ctx, "SaveRun",
		func(ctx context.Context) error { return s.primary.SaveRun(ctx, report) },
		func(ctx context.Context) error { return s.secondary.SaveRun(ctx, report) },
	)
}

// ListRuns lists runs from primary backend only.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	return s.primary.ListRuns(ctx, limit)
}

// Flush blocks until all pending secondary writes have finished.
func (s *Store) Flush() {
	s.pending.Wait()
}

// Clear clears run history and breaker snapshots in both backends.
func (s *Store) Clear(ctx context.Context) error {
	s.Flush()

	// Clear primary first
	if err := s.primary.Clear(ctx); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}

	// Clear secondary (best effort)
	if err := s.secondary.Clear(ctx); err != nil {
		s.logger.Error("failed to clear secondary backend",
			"error", err,
		)
	}

	return nil
}

// Close closes both backends.
func (s *Store) Close() error {
	s.Flush()

	primaryErr := s.primary.Close()
	secondaryErr := s.secondary.Close()

	if primaryErr != nil {
		return fmt.Errorf("close primary: %w", primaryErr)
	}
	if secondaryErr != nil {
		return fmt.Errorf("close secondary: %w", secondaryErr)
	}

	return nil
}
