package models

import "time"

// RunReport is the outcome of one optimizer run.
type RunReport struct {
	ID             string       `json:"id"`
	DryRun         bool         `json:"dry_run"`
	ThresholdMs    float64      `json:"threshold_ms"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	DetectedCount  int          `json:"detected_count"`
	Suggested      []Suggestion `json:"suggested"`
	Applied        []Suggestion `json:"applied"`
	BreakerSkipped int          `json:"breaker_skipped"`
	Failed         int          `json:"failed"`
	BreakerState   BreakerState `json:"breaker_state"`
}

// NewRunReport creates an empty report with non-nil slices.
func NewRunReport(id string, thresholdMs float64, dryRun bool, startedAt time.Time) *RunReport {
	return &RunReport{
		ID:          id,
		DryRun:      dryRun,
		ThresholdMs: thresholdMs,
		StartedAt:   startedAt,
		Suggested:   []Suggestion{},
		Applied:     []Suggestion{},
	}
}
