// Package storage defines persistence for the optimizer's ledger, breaker
// state and run history.
package storage

import (
	"context"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Ledger records canonical keys whose index has been created.
// Entries are only ever added.
type Ledger interface {
	Contains(ctx context.Context, canonicalKey string) (bool, error)
	Record(ctx context.Context, entry models.LedgerEntry) error
	ListLedger(ctx context.Context) ([]models.LedgerEntry, error)
}

// BreakerStore persists breaker snapshots by name.
type BreakerStore interface {
	// LoadBreaker returns models.ErrNotFound when nothing was saved.
	LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error)
	SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error
}

// RunHistory keeps optimizer run reports.
type RunHistory interface {
	SaveRun(ctx context.Context, report *models.RunReport) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error)
}

// Storage is the full persistence surface.
// Implementations must be safe for concurrent use.
type Storage interface {
	Ledger
	BreakerStore
	RunHistory

	// Clear removes run history and breaker snapshots. The ledger is
	// append-only and survives a Clear.
	Clear(ctx context.Context) error

	// Close the storage (for cleanup, e.g., DB connections)
	Close() error
}
