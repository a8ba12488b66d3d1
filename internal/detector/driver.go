package detector

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// OperationLister is the optional store capability that reports recently
// executed operations with their timings.
type OperationLister interface {
	ListRecentOperations(ctx context.Context) ([]models.OperationTiming, error)
}

// DriverDetector asks the store for recent operations instead of scraping logs.
type DriverDetector struct {
	lister OperationLister
	parser *Parser
	logger *slog.Logger
	now    func() time.Time
}

// NewDriverDetector creates a detector backed by lister.
func NewDriverDetector(lister OperationLister, parser *Parser, logger *slog.Logger) *DriverDetector {
	if parser == nil {
		parser = NewParser(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DriverDetector{
		lister: lister,
		parser: parser,
		logger: logger,
		now:    time.Now,
	}
}

// Detect lists operations once per call. Listing errors yield nothing.
func (d *DriverDetector) Detect(ctx context.Context, thresholdMs float64) iter.Seq[models.SlowOperation] {
	return func(yield func(models.SlowOperation) bool) {
		ops, err := d.lister.ListRecentOperations(ctx)
		if err != nil {
			d.logger.Debug("listing recent operations failed", "error", err)
			return
		}

		for _, op := range ops {
			if op.DurationMs < thresholdMs || !d.parser.HasKeyword(op.Query) {
				continue
			}

			observed := op.StartedAt
			if observed.IsZero() {
				observed = d.now()
			}

			rec := models.SlowOperation{
				OperationText: strings.TrimSpace(op.Query),
				DurationMs:    op.DurationMs,
				ObservedAt:    observed,
				Source:        models.SourceDriver,
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Multi chains detectors, yielding each one's records in order.
type Multi []Detector

// Detect runs every detector in sequence.
func (m Multi) Detect(ctx context.Context, thresholdMs float64) iter.Seq[models.SlowOperation] {
	return func(yield func(models.SlowOperation) bool) {
		for _, d := range m {
			for rec := range d.Detect(ctx, thresholdMs) {
				if !yield(rec) {
					return
				}
			}
		}
	}
}
