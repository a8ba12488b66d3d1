// Package memory provides an in-memory storage implementation. State lives
// for the lifetime of the process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// DefaultMaxRuns bounds the retained run history.
const DefaultMaxRuns = 500

// Store is an in-memory storage.
type Store struct {
	// Ledger: canonical key -> entry, plus insertion order
	ledger   map[string]models.LedgerEntry
	order    []string
	ledgermu sync.RWMutex

	// Breaker snapshots by name
	breakers   map[string]models.BreakerSnapshot
	breakersmu sync.RWMutex

	// Run history, oldest first
	runs    []*models.RunReport
	maxRuns int
	runsmu  sync.RWMutex
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		ledger:   make(map[string]models.LedgerEntry),
		breakers: make(map[string]models.BreakerSnapshot),
		maxRuns:  DefaultMaxRuns,
	}
}

// Contains reports whether the key is in the ledger.
func (s *Store) Contains(ctx context.Context, canonicalKey string) (bool, error) {
	s.ledgermu.RLock()
	defer s.ledgermu.RUnlock()

	_, ok := s.ledger[canonicalKey]
	return ok, nil
}

// Record adds an entry. Re-recording a key keeps the first entry.
func (s *Store) Record(ctx context.Context, entry models.LedgerEntry) error {
	if entry.CanonicalKey == "" {
		return errors.New("canonical key cannot be empty")
	}

	s.ledgermu.Lock()
	defer s.ledgermu.Unlock()

	if _, exists := s.ledger[entry.CanonicalKey]; exists {
		return nil
	}
	s.ledger[entry.CanonicalKey] = entry
	s.order = append(s.order, entry.CanonicalKey)
	return nil
}

// ListLedger returns entries in insertion order.
func (s *Store) ListLedger(ctx context.Context) ([]models.LedgerEntry, error) {
	s.ledgermu.RLock()
	defer s.ledgermu.RUnlock()

	entries := make([]models.LedgerEntry, 0, len(s.order))
	for _, key := range s.order {
		entries = append(entries, s.ledger[key])
	}
	return entries, nil
}

// LoadBreaker returns a saved breaker snapshot.
func (s *Store) LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error) {
	s.breakersmu.RLock()
	defer s.breakersmu.RUnlock()

	snap, ok := s.breakers[name]
	if !ok {
		return models.BreakerSnapshot{}, fmt.Errorf("breaker %s: %w", name, models.ErrNotFound)
	}
	return snap, nil
}

// SaveBreaker stores a breaker snapshot.
func (s *Store) SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error {
	if snap.Name == "" {
		return errors.New("breaker name cannot be empty")
	}

	s.breakersmu.Lock()
	defer s.breakersmu.Unlock()

	s.breakers[snap.Name] = snap
	return nil
}

// SaveRun appends a run report, dropping the oldest beyond the limit.
func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}

	s.runsmu.Lock()
	defer s.runsmu.Unlock()

	s.runs = append(s.runs, report)
	if len(s.runs) > s.maxRuns {
		s.runs = s.runs[len(s.runs)-s.maxRuns:]
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	s.runsmu.RLock()
	defer s.runsmu.RUnlock()

	runs := make([]*models.RunReport, len(s.runs))
	copy(runs, s.runs)

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Clear removes run history and breaker snapshots. Ledger entries are kept.
func (s *Store) Clear(ctx context.Context) error {
	s.breakersmu.Lock()
	s.breakers = make(map[string]models.BreakerSnapshot)
	s.breakersmu.Unlock()

	s.runsmu.Lock()
	s.runs = nil
	s.runsmu.Unlock()

	return nil
}

// Close is a no-op for in-memory storage.
func (s *Store) Close() error {
	return nil
}
