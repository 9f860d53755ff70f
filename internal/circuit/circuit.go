// Package circuit provides a generic per-named-operation circuit breaker.
// It is a thin, typed wrapper around sony/gobreaker so callers get
// gobreaker's closed/open/half-open state machine without depending on
// its package directly everywhere a breaker is needed.
package circuit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/anortham/codesearch-engine/internal/engineerr"
)

// State mirrors gobreaker's three states under the engine's own names.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Breaker wraps a named gobreaker.CircuitBreaker.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// Options configures a Breaker. Zero values fall back to sensible defaults:
// 5 consecutive failures trips the breaker, 30s cooldown before half-open.
type Options struct {
	MaxFailures  uint32
	ResetTimeout time.Duration
	// OnStateChange is called whenever the breaker transitions, useful for
	// logging from the caller without this package importing a logger.
	OnStateChange func(name string, from, to State)
}

// New creates a named Breaker.
func New(name string, opts Options) *Breaker {
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	resetTimeout := opts.ResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	if opts.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			opts.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
		}
	}

	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, resolving a timed-out Open to HalfOpen.
func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// Execute runs fn under the breaker. If the breaker is open, it returns a
// CodeCircuitOpen engineerr.Error (retryable) without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return engineerr.New(engineerr.CodeCircuitOpen, "circuit breaker '"+b.name+"' is open", err)
	}
	return err
}

// ExecuteWithFallback runs fn under the breaker, invoking fallback instead
// of propagating the open-circuit error.
func ExecuteWithFallback[T any](b *Breaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fallback()
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// ExecuteContext runs fn under the breaker, honoring ctx cancellation before
// attempting the call.
func ExecuteContext(ctx context.Context, b *Breaker, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Execute(func() error { return fn(ctx) })
}
