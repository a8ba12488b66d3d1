package dual

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sergeeey/TERAG111-sub002/internal/storage/memory"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

func TestDualWrite(t *testing.T) {
	// Create two in-memory backends for testing
	primary := memory.New()
	secondary := memory.New()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	})
	defer store.Close()

	ctx := context.Background()

	entry := models.NewLedgerEntry(models.NewSuggestion("Client", "phone", "MATCH ..."), time.Now())
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Wait for async secondary write
	store.Flush()

	for name, backend := range map[string]*memory.Store{"primary": primary, "secondary": secondary} {
		ok, err := backend.Contains(ctx, "Client.phone")
		if err != nil || !ok {
			t.Errorf("%s: Contains() = %v, %v, want true", name, ok, err)
		}
	}
}

func TestReadFromPrimary(t *testing.T) {
	primary := memory.New()
	secondary := memory.New()

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
	})
	defer store.Close()

	ctx := context.Background()

	// Write directly to primary only
	snap := models.BreakerSnapshot{Name: "index-apply", State: models.BreakerOpen, FailureCount: 3}
	if err := primary.SaveBreaker(ctx, snap); err != nil {
		t.Fatalf("primary SaveBreaker failed: %v", err)
	}

	// Read via DualStore should return primary's data
	got, err := store.LoadBreaker(ctx, "index-apply")
	if err != nil {
		t.Fatalf("LoadBreaker failed: %v", err)
	}
	if got.State != models.BreakerOpen {
		t.Errorf("expected OPEN, got %s", got.State)
	}

	// Secondary should not have it
	_, err = secondary.LoadBreaker(ctx, "index-apply")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound in secondary, got %v", err)
	}
}

func TestSecondaryWriteFailure(t *testing.T) {
	primary := memory.New()
	secondary := &failingStore{}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	})
	defer store.Close()

	ctx := context.Background()

	// Write should succeed even if secondary fails
	report := models.NewRunReport("run-1", 100, true, time.Now())
	if err := store.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun should succeed even if secondary fails: %v", err)
	}
	store.Flush()

	runs, err := primary.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("primary ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("expected run-1 in primary, got %d runs", len(runs))
	}
}

func TestPrimaryWriteFailure(t *testing.T) {
	secondary := memory.New()
	store := New(Config{
		Primary:   &failingStore{},
		Secondary: secondary,
	})
	defer store.Close()

	ctx := context.Background()
	entry := models.NewLedgerEntry(models.NewSuggestion("Client", "phone", ""), time.Now())
	if err := store.Record(ctx, entry); err == nil {
		t.Fatal("expected primary error to surface")
	}
	store.Flush()

	// Secondary must not receive writes the primary rejected
	if ok, _ := secondary.Contains(ctx, "Client.phone"); ok {
		t.Error("secondary written despite primary failure")
	}
}

func TestSecondaryOutlivesCallerContext(t *testing.T) {
	primary := memory.New()
	secondary := &ctxCheckingStore{Store: memory.New()}

	store := New(Config{
		Primary:   primary,
		Secondary: secondary,
	})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	snap := models.BreakerSnapshot{Name: "index-apply"}
	if err := store.SaveBreaker(ctx, snap); err != nil {
		t.Fatalf("SaveBreaker failed: %v", err)
	}
	cancel()
	store.Flush()

	if _, err := secondary.LoadBreaker(context.Background(), "index-apply"); err != nil {
		t.Errorf("secondary write lost after caller cancelled: %v", err)
	}
}

// failingStore is a mock storage that always fails writes
type failingStore struct{}

func (f *failingStore) Contains(ctx context.Context, canonicalKey string) (bool, error) {
	return false, nil
}

func (f *failingStore) Record(ctx context.Context, entry models.LedgerEntry) error {
	return errors.New("simulated failure")
}

func (f *failingStore) ListLedger(ctx context.Context) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (f *failingStore) LoadBreaker(ctx context.Context, name string) (models.BreakerSnapshot, error) {
	return models.BreakerSnapshot{}, models.ErrNotFound
}

func (f *failingStore) SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error {
	return errors.New("simulated failure")
}

func (f *failingStore) SaveRun(ctx context.Context, report *models.RunReport) error {
	return errors.New("simulated failure")
}

func (f *failingStore) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	return nil, nil
}

func (f *failingStore) Clear(ctx context.Context) error {
	return nil
}

func (f *failingStore) Close() error {
	return nil
}

// ctxCheckingStore rejects writes made with a finished context.
type ctxCheckingStore struct {
	*memory.Store
}

func (c *ctxCheckingStore) SaveBreaker(ctx context.Context, snap models.BreakerSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.SaveBreaker(ctx, snap)
}
