// Package breaker implements a failure-tripped breaker that guards a single
// side-effecting operation path.
//
// States:
//
//   - CLOSED: calls pass through. A success resets the failure count; a
//     failure increments it and trips the breaker once it reaches the
//     threshold.
//   - OPEN: calls are rejected with ErrOpen without invoking the operation
//     until the cooldown has elapsed since the last failure.
//   - HALF_OPEN: exactly one trial call is let through. Success closes the
//     breaker, failure re-opens it.
//
// The breaker never reaches a terminal state. Safe for concurrent use.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("breaker open")

var errPanicked = errors.New("operation panicked")

// Defaults for Config.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// Config configures a Breaker.
type Config struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *slog.Logger
}

// Breaker guards one operation path.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         models.BreakerState
	failures      int
	lastFailureAt *time.Time
	trialActive   bool
}

// New creates a closed breaker. Non-positive settings fall back to defaults.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		now:       time.Now,
		state:     models.BreakerClosed,
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An OPEN breaker whose cooldown has
// elapsed still reports OPEN until the next call moves it to HALF_OPEN.
func (b *Breaker) State() models.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Guard runs op through the breaker. When the breaker rejects the call, op is
// not invoked and the error is ErrOpen.
func Guard[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !b.acquire() {
		return zero, ErrOpen
	}

	// A panicking op counts as a failure; the panic still reaches the caller.
	done := false
	defer func() {
		if !done {
			b.record(errPanicked)
		}
	}()

	result, err := op(ctx)
	done = true
	b.record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// Do is Guard for operations without a result.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// acquire decides whether a call may proceed.
func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case models.BreakerClosed:
		return true

	case models.BreakerOpen:
		if b.lastFailureAt != nil && b.now().Sub(*b.lastFailureAt) < b.cooldown {
			return false
		}
		b.transitionLocked(models.BreakerHalfOpen)
		b.trialActive = true
		return true

	case models.BreakerHalfOpen:
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	}

	return false
}

// record applies the outcome of an attempted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	halfOpen := b.state == models.BreakerHalfOpen
	b.trialActive = false

	// A caller giving up says nothing about the store.
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		b.failures = 0
		if halfOpen {
			b.transitionLocked(models.BreakerClosed)
		}
		return
	}

	now := b.now()
	b.lastFailureAt = &now
	b.failures++

	switch {
	case halfOpen:
		b.transitionLocked(models.BreakerOpen)
	case b.state == models.BreakerClosed && b.failures >= b.threshold:
		b.transitionLocked(models.BreakerOpen)
	}
}

// transitionLocked changes state. Must be called with lock held.
func (b *Breaker) transitionLocked(to models.BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.Info("breaker state changed",
		"breaker", b.name,
		"from", from.String(),
		"to", to.String(),
		"failure_count", b.failures,
	)
}

// Snapshot returns the persistable state.
func (b *Breaker) Snapshot() models.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := models.BreakerSnapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failures,
		FailureThreshold: b.threshold,
		Cooldown:         b.cooldown,
	}
	if b.lastFailureAt != nil {
		t := *b.lastFailureAt
		snap.LastFailureAt = &t
	}
	return snap
}

// Restore loads a previously saved state. Threshold and cooldown stay as
// configured. A saved HALF_OPEN state is restored as OPEN so the trial is
// re-negotiated after the cooldown.
func (b *Breaker) Restore(snap models.BreakerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = snap.State
	if b.state == models.BreakerHalfOpen {
		b.state = models.BreakerOpen
	}
	b.failures = max(snap.FailureCount, 0)
	b.lastFailureAt = nil
	if snap.LastFailureAt != nil {
		t := *snap.LastFailureAt
		b.lastFailureAt = &t
	}
	b.trialActive = false
}
