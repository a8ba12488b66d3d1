package models

import "time"

// BreakerState is the state of a safety breaker.
type BreakerState int

const (
	// BreakerClosed lets calls pass through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls without invoking the guarded operation.
	BreakerOpen
	// BreakerHalfOpen permits a single trial call.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseBreakerState is the inverse of String. Unknown names map to closed.
func ParseBreakerState(s string) BreakerState {
	switch s {
	case "OPEN":
		return BreakerOpen
	case "HALF_OPEN":
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BreakerState) UnmarshalText(b []byte) error {
	*s = ParseBreakerState(string(b))
	return nil
}

// BreakerSnapshot is the persistable state of a breaker.
type BreakerSnapshot struct {
	Name             string        `json:"name"`
	State            BreakerState  `json:"state"`
	FailureCount     int           `json:"failure_count"`
	LastFailureAt    *time.Time    `json:"last_failure_at,omitempty"`
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown_ns"`
}
