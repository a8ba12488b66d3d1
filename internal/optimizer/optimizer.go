// Package optimizer runs the detect, advise, dedup and apply pipeline.
//
// A run detects slow operations, derives index suggestions, drops keys the
// ledger already holds and, unless it is a dry run, applies the rest through
// the breaker. Live runs against the same optimizer are serialized; dry runs
// take no lock.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sergeeey/TERAG111-sub002/internal/advisor"
	"github.com/sergeeey/TERAG111-sub002/internal/breaker"
	"github.com/sergeeey/TERAG111-sub002/internal/detector"
	"github.com/sergeeey/TERAG111-sub002/internal/storage"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// ErrInvalidThreshold is returned for negative or NaN thresholds.
var ErrInvalidThreshold = errors.New("invalid threshold")

// IndexApplier creates indexes in the graph store.
type IndexApplier interface {
	ApplyIndex(ctx context.Context, label, property string) error
}

// Config wires an Optimizer. Detector, Applier, Ledger and Breaker are
// required; BreakerStore and History are optional.
type Config struct {
	Detector     detector.Detector
	Applier      IndexApplier
	Ledger       storage.Ledger
	Breaker      *breaker.Breaker
	BreakerStore storage.BreakerStore
	History      storage.RunHistory
	Logger       *slog.Logger
}

// Optimizer orchestrates runs.
type Optimizer struct {
	detector     detector.Detector
	applier      IndexApplier
	ledger       storage.Ledger
	breaker      *breaker.Breaker
	breakerStore storage.BreakerStore
	history      storage.RunHistory
	logger       *slog.Logger

	now   func() time.Time
	newID func() string

	liveMu sync.Mutex
}

// New creates an Optimizer.
func New(cfg Config) *Optimizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = breaker.New(breaker.Config{Name: "index-apply", Logger: cfg.Logger})
	}

	return &Optimizer{
		detector:     cfg.Detector,
		applier:      cfg.Applier,
		ledger:       cfg.Ledger,
		breaker:      cfg.Breaker,
		breakerStore: cfg.BreakerStore,
		history:      cfg.History,
		logger:       cfg.Logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Breaker returns the breaker guarding index creation.
func (o *Optimizer) Breaker() *breaker.Breaker {
	return o.breaker
}

// Run performs one optimizer run. It always returns a report unless the
// threshold is invalid. Concurrent live runs execute one after another, each
// under its caller's context and with its own report.
func (o *Optimizer) Run(ctx context.Context, thresholdMs float64, dryRun bool) (*models.RunReport, error) {
	if thresholdMs < 0 || math.IsNaN(thresholdMs) || math.IsInf(thresholdMs, 0) {
		return nil, fmt.Errorf("threshold %v: %w", thresholdMs, ErrInvalidThreshold)
	}

	if dryRun {
		return o.run(ctx, thresholdMs, true), nil
	}

	o.liveMu.Lock()
	defer o.liveMu.Unlock()
	return o.run(ctx, thresholdMs, false), nil
}

func (o *Optimizer) run(ctx context.Context, thresholdMs float64, dryRun bool) *models.RunReport {
	report := models.NewRunReport(o.newID(), thresholdMs, dryRun, o.now())
	logger := o.logger.With("run_id", report.ID, "dry_run", dryRun)

	seen := make(map[string]bool)

	for rec := range o.detector.Detect(ctx, thresholdMs) {
		report.DetectedCount++

		s, ok := advisor.Suggest(rec)
		if !ok {
			continue
		}
		if seen[s.CanonicalKey] {
			continue
		}
		seen[s.CanonicalKey] = true

		known, err := o.ledger.Contains(ctx, s.CanonicalKey)
		if err != nil {
			logger.Warn("ledger lookup failed, skipping suggestion",
				"canonical_key", s.CanonicalKey,
				"error", err,
			)
			continue
		}
		if known {
			continue
		}

		// A cancelled live run stops before listing suggestions it will not attempt
		if !dryRun && ctx.Err() != nil {
			break
		}

		report.Suggested = append(report.Suggested, s)
		if dryRun {
			continue
		}
		o.apply(ctx, logger, report, s)
	}

	report.FinishedAt = o.now()
	report.BreakerState = o.breaker.State()

	observeRun(report, o.breaker.Name())
	o.saveRun(ctx, logger, report)

	logger.Info("optimizer run finished",
		"detected", report.DetectedCount,
		"suggested", len(report.Suggested),
		"applied", len(report.Applied),
		"failed", report.Failed,
		"breaker_skipped", report.BreakerSkipped,
		"breaker_state", report.BreakerState.String(),
	)
	return report
}

// apply creates the index for s through the breaker and records the outcome.
func (o *Optimizer) apply(ctx context.Context, logger *slog.Logger, report *models.RunReport, s models.Suggestion) {
	err := o.breaker.Do(ctx, func(ctx context.Context) error {
		return o.applier.ApplyIndex(ctx, s.TargetLabel, s.TargetProperty)
	})
	if !errors.Is(err, breaker.ErrOpen) {
		o.persistBreaker(ctx, logger)
	}

	switch {
	case errors.Is(err, breaker.ErrOpen):
		report.BreakerSkipped++

	case err != nil:
		report.Failed++
		logger.Warn("index apply failed",
			"canonical_key", s.CanonicalKey,
			"error", err,
		)

	default:
		s.Applied = true
		report.Suggested[len(report.Suggested)-1].Applied = true
		report.Applied = append(report.Applied, s)

		entry := models.NewLedgerEntry(s, o.now())
		if err := o.ledger.Record(ctx, entry); err != nil {
			logger.Warn("recording ledger entry failed",
				"canonical_key", s.CanonicalKey,
				"error", err,
			)
		}
	}
}

func (o *Optimizer) persistBreaker(ctx context.Context, logger *slog.Logger) {
	if o.breakerStore == nil {
		return
	}
	if err := o.breakerStore.SaveBreaker(context.WithoutCancel(ctx), o.breaker.Snapshot()); err != nil {
		logger.Warn("saving breaker state failed", "error", err)
	}
}

func (o *Optimizer) saveRun(ctx context.Context, logger *slog.Logger, report *models.RunReport) {
	if o.history == nil {
		return
	}
	if err := o.history.SaveRun(context.WithoutCancel(ctx), report); err != nil {
		logger.Warn("saving run report failed", "error", err)
	}
}

// RestoreBreaker loads the saved state for b from store, if any.
func RestoreBreaker(ctx context.Context, b *breaker.Breaker, store storage.BreakerStore) error {
	snap, err := store.LoadBreaker(ctx, b.Name())
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading breaker %s: %w", b.Name(), err)
	}
	b.Restore(snap)
	return nil
}
