// Package models defines the core data structures for slow-operation tracking
// and index optimization.
package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// Origin tags for SlowOperation.Source.
const (
	SourceLog    = "log"
	SourceOTLP   = "otlp"
	SourceDriver = "driver"
)

// SlowOperation is one observed store operation whose duration reached the
// detection threshold. Values are never mutated after detection.
type SlowOperation struct {
	OperationText string    `json:"operation_text"`
	DurationMs    float64   `json:"duration_ms"`
	ObservedAt    time.Time `json:"observed_at"`
	Source        string    `json:"source"`
}

// OperationTiming is a raw operation/duration pair reported by a store driver.
type OperationTiming struct {
	Query      string
	DurationMs float64
	StartedAt  time.Time
}
