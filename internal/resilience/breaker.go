package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"bulletin/internal/types"

	"github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen is returned (wrapped in a types.AppError with
// ErrCodeServiceUnavailable) when a call is rejected without being invoked.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState mirrors the three states of the guard.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	Name string

	// Threshold is the number of consecutive failures that trips the breaker.
	Threshold int

	// Timeout is how long the breaker stays open before allowing a trial call.
	Timeout time.Duration

	// IsFailure decides whether an error counts against the dependency.
	// Nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to BreakerState)
}

// DefaultBreakerSettings returns threshold 5 and timeout 60s.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:      name,
		Threshold: 5,
		Timeout:   60 * time.Second,
	}
}

// Breaker is a three-state circuit breaker around one remote dependency.
// A single instance is shared by every caller of that dependency; gobreaker
// serializes its own state and Breaker guards the failure bookkeeping it
// exposes on top.
type Breaker[T any] struct {
	name      string
	cb        *gobreaker.CircuitBreaker[T]
	isFailure func(error) bool

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// NewBreaker creates a Breaker. Zero Threshold or Timeout fall back to the
// defaults.
func NewBreaker[T any](s BreakerSettings) *Breaker[T] {
	def := DefaultBreakerSettings(s.Name)
	if s.Threshold <= 0 {
		s.Threshold = def.Threshold
	}
	if s.Timeout <= 0 {
		s.Timeout = def.Timeout
	}

	b := &Breaker[T]{name: s.Name}
	isFailure := s.IsFailure
	threshold := uint32(s.Threshold)

	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if isFailure != nil && !isFailure(err) {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if s.OnStateChange != nil {
				s.OnStateChange(name, convertState(from), convertState(to))
			}
		},
	})

	b.isFailure = func(err error) bool {
		return err != nil && (isFailure == nil || isFailure(err))
	}
	return b
}

// Execute runs fn through the breaker. While open, fn is not invoked and the
// returned error satisfies errors.Is(err, ErrBreakerOpen).
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, types.NewAppError(
			types.ErrCodeServiceUnavailable,
			fmt.Sprintf("%s is temporarily unavailable", b.name),
			fmt.Errorf("%w: %w", ErrBreakerOpen, err),
		)
	}

	b.record(err)
	return result, err
}

func (b *Breaker[T]) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isFailure(err) {
		b.failures++
		b.lastFailure = time.Now()
		return
	}
	b.failures = 0
}

// Name returns the dependency name the breaker guards.
func (b *Breaker[T]) Name() string { return b.name }

// State returns the current state. An open breaker whose timeout has elapsed
// reports half_open.
func (b *Breaker[T]) State() BreakerState {
	return convertState(b.cb.State())
}

// Failures returns the number of consecutive failures observed.
func (b *Breaker[T]) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastFailureTime returns when the most recent failure was recorded.
func (b *Breaker[T]) LastFailureTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// IsOpen reports whether err was produced by a rejecting breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrBreakerOpen)
}

func convertState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
