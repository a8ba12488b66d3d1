//go:build integration
// +build integration

package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// TestClickHouseIntegration tests basic ClickHouse operations
// Run with: go test -tags=integration ./internal/storage/clickhouse -v
func TestClickHouseIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()

	// Create logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Use default config
	config := DefaultConfig()
	config.Attempts = 1

	// Create store
	store, err := NewStore(ctx, config, logger)
	if err != nil {
		t.Skipf("ClickHouse not available: %v", err)
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	t.Run("Ledger", func(t *testing.T) {
		// Clear keeps the ledger, so each run records under its own label.
		now := time.Now().UTC()
		label := fmt.Sprintf("Client%d", now.UnixNano())
		first := models.NewLedgerEntry(models.NewSuggestion(label, "phone", "first"), now)
		dup := models.NewLedgerEntry(models.NewSuggestion(label, "phone", "second"), now)

		if err := store.Record(ctx, first); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if err := store.Record(ctx, dup); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		ok, err := store.Contains(ctx, first.CanonicalKey)
		if err != nil || !ok {
			t.Fatalf("Contains() = %v, %v", ok, err)
		}

		entries, err := store.ListLedger(ctx)
		if err != nil {
			t.Fatalf("ListLedger failed: %v", err)
		}
		var mine []models.LedgerEntry
		for _, e := range entries {
			if e.CanonicalKey == first.CanonicalKey {
				mine = append(mine, e)
			}
		}
		if len(mine) != 1 || mine[0].Rationale != "first" {
			t.Errorf("unexpected entries: %+v", mine)
		}
	})

	t.Run("Breaker", func(t *testing.T) {
		if _, err := store.LoadBreaker(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		at := time.Now().UTC()
		snap := models.BreakerSnapshot{
			Name:             "index-apply",
			State:            models.BreakerOpen,
			FailureCount:     3,
			LastFailureAt:    &at,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		}
		if err := store.SaveBreaker(ctx, snap); err != nil {
			t.Fatalf("SaveBreaker failed: %v", err)
		}

		got, err := store.LoadBreaker(ctx, "index-apply")
		if err != nil {
			t.Fatalf("LoadBreaker failed: %v", err)
		}
		if got.State != models.BreakerOpen || got.FailureCount != 3 || got.LastFailureAt == nil {
			t.Errorf("unexpected snapshot: %+v", got)
		}
	})

	t.Run("Runs", func(t *testing.T) {
		base := time.Now().UTC()
		for i, id := range []string{"a", "b"} {
			r := models.NewRunReport(id, 100, true, base.Add(time.Duration(i)*time.Second))
			r.FinishedAt = r.StartedAt
			if err := store.SaveRun(ctx, r); err != nil {
				t.Fatalf("SaveRun failed: %v", err)
			}
		}

		runs, err := store.ListRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "b" {
			t.Errorf("unexpected runs: %d", len(runs))
		}
	})
}
