package optimizer

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sergeeey/TERAG111-sub002/internal/breaker"
	"github.com/sergeeey/TERAG111-sub002/internal/storage/memory"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// sliceDetector yields fixed records at or above the threshold.
type sliceDetector []models.SlowOperation

func (d sliceDetector) Detect(ctx context.Context, thresholdMs float64) iter.Seq[models.SlowOperation] {
	return func(yield func(models.SlowOperation) bool) {
		for _, rec := range d {
			if rec.DurationMs < thresholdMs {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// fakeApplier records calls and fails for labels in failLabels, or for
// everything when failAll is set.
type fakeApplier struct {
	mu         sync.Mutex
	calls      []string
	failAll    bool
	failLabels map[string]bool
	delay      time.Duration
}

func (f *fakeApplier) ApplyIndex(ctx context.Context, label, property string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, label+"."+property)
	if f.failAll || f.failLabels[label] {
		return errors.New("store rejected schema change")
	}
	return nil
}

func (f *fakeApplier) setFailAll(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = v
}

func (f *fakeApplier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func record(ms float64, text string) models.SlowOperation {
	return models.SlowOperation{
		OperationText: text,
		DurationMs:    ms,
		ObservedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:        models.SourceLog,
	}
}

func newTestOptimizer(det sliceDetector, applier IndexApplier, b *breaker.Breaker) (*Optimizer, *memory.Store) {
	store := memory.New()
	if b == nil {
		b = breaker.New(breaker.Config{Name: "index-apply", FailureThreshold: 3, Cooldown: time.Hour})
	}
	o := New(Config{
		Detector:     det,
		Applier:      applier,
		Ledger:       store,
		Breaker:      b,
		BreakerStore: store,
		History:      store,
	})
	return o, store
}

func TestRunScenarioDryRun(t *testing.T) {
	det := sliceDetector{
		record(150.2, "MATCH (n:Client) WHERE n.phone = '+77001234567' RETURN n"),
	}
	applier := &fakeApplier{}
	o, _ := newTestOptimizer(det, applier, nil)

	report, err := o.Run(context.Background(), 100, true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.DryRun || report.DetectedCount != 1 {
		t.Errorf("unexpected report header: %+v", report)
	}
	if len(report.Suggested) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(report.Suggested))
	}
	s := report.Suggested[0]
	if s.TargetLabel != "Client" || s.TargetProperty != "phone" || s.CanonicalKey != "Client.phone" {
		t.Errorf("unexpected suggestion: %+v", s)
	}
	if len(report.Applied) != 0 {
		t.Errorf("dry run applied %d suggestions", len(report.Applied))
	}
	if applier.callCount() != 0 {
		t.Errorf("dry run invoked the store %d times", applier.callCount())
	}
}

func TestRunIdempotent(t *testing.T) {
	det := sliceDetector{
		record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n"),
		record(300, "MATCH (o:Order {status: 'open'}) RETURN o"),
	}
	applier := &fakeApplier{}
	o, store := newTestOptimizer(det, applier, nil)
	ctx := context.Background()

	first, err := o.Run(ctx, 100, false)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(first.Applied) != 2 {
		t.Fatalf("first run applied %d, want 2", len(first.Applied))
	}
	for _, s := range first.Applied {
		if !s.Applied {
			t.Errorf("%s not marked applied", s.CanonicalKey)
		}
	}

	second, err := o.Run(ctx, 100, false)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(second.Applied) != 0 || len(second.Suggested) != 0 {
		t.Errorf("second run re-suggested: suggested=%d applied=%d", len(second.Suggested), len(second.Applied))
	}
	if second.DetectedCount != 2 {
		t.Errorf("second run detected %d, want 2", second.DetectedCount)
	}
	if applier.callCount() != 2 {
		t.Errorf("store called %d times, want 2", applier.callCount())
	}

	entries, _ := store.ListLedger(ctx)
	if len(entries) != 2 || entries[0].CanonicalKey != "Client.phone" {
		t.Errorf("unexpected ledger: %+v", entries)
	}
}

func TestRunDedupWithinRun(t *testing.T) {
	det := sliceDetector{
		record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n"),
		record(200, "MATCH (c:Client) WHERE c.phone = '2' RETURN c.name"),
	}

	for _, dryRun := range []bool{true, false} {
		applier := &fakeApplier{}
		o, _ := newTestOptimizer(det, applier, nil)

		report, err := o.Run(context.Background(), 100, dryRun)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(report.Suggested) != 1 {
			t.Errorf("dry_run=%v: expected 1 surviving suggestion, got %d", dryRun, len(report.Suggested))
		}
		if report.Suggested[0].Rationale != det[0].OperationText {
			t.Errorf("rationale should come from the first record, got %q", report.Suggested[0].Rationale)
		}
		if !dryRun && applier.callCount() != 1 {
			t.Errorf("store called %d times, want 1", applier.callCount())
		}
	}
}

func TestRunSkipsUnrecognized(t *testing.T) {
	det := sliceDetector{
		record(500, "MATCH (a:Person)-[:KNOWS]->(b:Person) RETURN b"),
		record(500, "MATCH (n:Client) RETURN count(n)"),
		record(50, "MATCH (n:Client) WHERE n.phone = '1' RETURN n"),
	}
	o, _ := newTestOptimizer(det, &fakeApplier{}, nil)

	report, err := o.Run(context.Background(), 100, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.DetectedCount != 2 {
		t.Errorf("DetectedCount = %d, want 2", report.DetectedCount)
	}
	if len(report.Suggested) != 0 {
		t.Errorf("expected no suggestions, got %+v", report.Suggested)
	}
}

func TestRunBreakerTrip(t *testing.T) {
	var det sliceDetector
	for _, label := range []string{"A", "B", "C", "D", "E"} {
		det = append(det, record(150, "MATCH (n:"+label+") WHERE n.key = 1 RETURN n"))
	}
	applier := &fakeApplier{failAll: true}
	o, store := newTestOptimizer(det, applier, nil)
	ctx := context.Background()

	report, err := o.Run(ctx, 100, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Failed != 3 {
		t.Errorf("Failed = %d, want 3", report.Failed)
	}
	if report.BreakerSkipped != 2 {
		t.Errorf("BreakerSkipped = %d, want 2", report.BreakerSkipped)
	}
	if applier.callCount() != 3 {
		t.Errorf("store called %d times, want 3", applier.callCount())
	}
	if report.BreakerState != models.BreakerOpen {
		t.Errorf("BreakerState = %s, want OPEN", report.BreakerState)
	}
	if len(report.Applied) != 0 {
		t.Errorf("expected nothing applied, got %d", len(report.Applied))
	}

	entries, _ := store.ListLedger(ctx)
	if len(entries) != 0 {
		t.Errorf("failed applies must not be ledgered, got %d entries", len(entries))
	}

	snap, err := store.LoadBreaker(ctx, "index-apply")
	if err != nil {
		t.Fatalf("breaker state not persisted: %v", err)
	}
	if snap.State != models.BreakerOpen || snap.FailureCount != 3 {
		t.Errorf("unexpected persisted snapshot: %+v", snap)
	}
}

func TestRunRetriesAfterRecovery(t *testing.T) {
	det := sliceDetector{
		record(150, "MATCH (n:A) WHERE n.key = 1 RETURN n"),
		record(150, "MATCH (n:B) WHERE n.key = 1 RETURN n"),
		record(150, "MATCH (n:C) WHERE n.key = 1 RETURN n"),
	}
	applier := &fakeApplier{failAll: true}
	b := breaker.New(breaker.Config{Name: "index-apply", FailureThreshold: 3, Cooldown: 20 * time.Millisecond})
	o, _ := newTestOptimizer(det, applier, b)
	ctx := context.Background()

	first, _ := o.Run(ctx, 100, false)
	if first.Failed != 3 || first.BreakerState != models.BreakerOpen {
		t.Fatalf("expected tripped breaker, got failed=%d state=%s", first.Failed, first.BreakerState)
	}

	applier.setFailAll(false)
	time.Sleep(40 * time.Millisecond)

	second, _ := o.Run(ctx, 100, false)
	if len(second.Applied) != 3 {
		t.Errorf("expected all suggestions applied after recovery, got %d", len(second.Applied))
	}
	if second.BreakerState != models.BreakerClosed {
		t.Errorf("BreakerState = %s, want CLOSED", second.BreakerState)
	}
}

func TestRunInvalidThreshold(t *testing.T) {
	o, _ := newTestOptimizer(nil, &fakeApplier{}, nil)

	if _, err := o.Run(context.Background(), -1, true); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("Run(-1) err = %v, want ErrInvalidThreshold", err)
	}
}

func TestRunHistoryRecorded(t *testing.T) {
	det := sliceDetector{record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n")}
	o, store := newTestOptimizer(det, &fakeApplier{}, nil)
	ctx := context.Background()

	report, _ := o.Run(ctx, 100, true)

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.ID {
		t.Fatalf("run not recorded: %+v", runs)
	}
	if report.ID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("unexpected report timing: %+v", report)
	}
	if report.ThresholdMs != 100 {
		t.Errorf("ThresholdMs = %v, want 100", report.ThresholdMs)
	}
}

func TestConcurrentLiveRunsApplyOnce(t *testing.T) {
	det := sliceDetector{
		record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n"),
		record(150, "MATCH (o:Order) WHERE o.status = 'x' RETURN o"),
	}
	applier := &fakeApplier{delay: 5 * time.Millisecond}
	o, _ := newTestOptimizer(det, applier, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			threshold := float64(100 + i%2)
			if _, err := o.Run(context.Background(), threshold, false); err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if applier.callCount() != 2 {
		t.Errorf("store called %d times, want exactly 2: %v", applier.callCount(), applier.calls)
	}
}

// gatedApplier blocks its first call until release is closed.
type gatedApplier struct {
	fakeApplier
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedApplier) ApplyIndex(ctx context.Context, label, property string) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeApplier.ApplyIndex(ctx, label, property)
}

func TestLiveRunCancelledMidway(t *testing.T) {
	det := sliceDetector{
		record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n"),
		record(150, "MATCH (o:Order) WHERE o.status = 'x' RETURN o"),
		record(150, "MATCH (p:Product) WHERE p.sku = 'y' RETURN p"),
	}
	applier := &gatedApplier{entered: make(chan struct{}), release: make(chan struct{})}
	o, store := newTestOptimizer(det, applier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan *models.RunReport, 1)
	go func() {
		report, _ := o.Run(ctx, 100, false)
		first <- report
	}()

	<-applier.entered
	cancel()

	second := make(chan *models.RunReport, 1)
	go func() {
		report, _ := o.Run(context.Background(), 100, false)
		second <- report
	}()
	close(applier.release)

	a, b := <-first, <-second

	if a.ID == b.ID {
		t.Fatalf("callers shared report %s", a.ID)
	}
	for _, r := range []*models.RunReport{a, b} {
		attempted := len(r.Applied) + r.Failed + r.BreakerSkipped
		if len(r.Suggested) != attempted {
			t.Errorf("run %s: %d suggested, %d attempted", r.ID, len(r.Suggested), attempted)
		}
	}
	if len(a.Applied) != 1 {
		t.Errorf("cancelled run applied %d, want 1", len(a.Applied))
	}
	if len(b.Applied) != 2 {
		t.Errorf("healthy run applied %d, want the remaining 2", len(b.Applied))
	}

	entries, _ := store.ListLedger(context.Background())
	if len(entries) != 3 || applier.callCount() != 3 {
		t.Errorf("ledger has %d entries after %d applies, want 3 and 3", len(entries), applier.callCount())
	}
}

type flakyLedger struct {
	*memory.Store
	failContains string
	failRecord   bool
}

func (f *flakyLedger) Contains(ctx context.Context, key string) (bool, error) {
	if key == f.failContains {
		return false, errors.New("ledger unavailable")
	}
	return f.Store.Contains(ctx, key)
}

func (f *flakyLedger) Record(ctx context.Context, entry models.LedgerEntry) error {
	if f.failRecord {
		return errors.New("ledger read-only")
	}
	return f.Store.Record(ctx, entry)
}

func TestRunLedgerErrors(t *testing.T) {
	det := sliceDetector{
		record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n"),
		record(150, "MATCH (o:Order) WHERE o.status = 'x' RETURN o"),
	}
	applier := &fakeApplier{}
	ledger := &flakyLedger{Store: memory.New(), failContains: "Client.phone", failRecord: true}
	o := New(Config{
		Detector: det,
		Applier:  applier,
		Ledger:   ledger,
	})

	report, err := o.Run(context.Background(), 100, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Lookup failure skips the suggestion entirely
	if applier.callCount() != 1 || !strings.HasPrefix(applier.calls[0], "Order.") {
		t.Errorf("unexpected store calls: %v", applier.calls)
	}
	// Record failure after a successful apply still reports it applied
	if len(report.Applied) != 1 || report.Applied[0].CanonicalKey != "Order.status" {
		t.Errorf("unexpected applied: %+v", report.Applied)
	}
}

func TestRunCancelledContext(t *testing.T) {
	det := sliceDetector{record(150, "MATCH (n:Client) WHERE n.phone = '1' RETURN n")}
	applier := &fakeApplier{}
	o, _ := newTestOptimizer(det, applier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Run(ctx, 100, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if applier.callCount() != 0 {
		t.Errorf("store called after cancellation")
	}
	if len(report.Suggested) != 0 {
		t.Errorf("cancelled run listed %d unattempted suggestions", len(report.Suggested))
	}
	if report.Failed != 0 || report.BreakerState != models.BreakerClosed {
		t.Errorf("cancellation must not count as a failure: %+v", report)
	}
}

func TestRestoreBreaker(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	b := breaker.New(breaker.Config{Name: "index-apply"})

	if err := RestoreBreaker(ctx, b, store); err != nil {
		t.Fatalf("RestoreBreaker with nothing saved: %v", err)
	}
	if b.State() != models.BreakerClosed {
		t.Errorf("State = %s, want CLOSED", b.State())
	}

	now := time.Now()
	_ = store.SaveBreaker(ctx, models.BreakerSnapshot{
		Name: "index-apply", State: models.BreakerOpen, FailureCount: 3, LastFailureAt: &now,
	})
	if err := RestoreBreaker(ctx, b, store); err != nil {
		t.Fatalf("RestoreBreaker failed: %v", err)
	}
	if b.State() != models.BreakerOpen {
		t.Errorf("State = %s, want OPEN", b.State())
	}
}
