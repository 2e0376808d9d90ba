// Package circuitbreaker guards calls to shared backends such as Redis.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// TransitionFunc observes state changes, e.g. for metrics.
type TransitionFunc func(name, from, to string)

type Settings struct {
	Name string
	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold uint32
	// SuccessThreshold requests are let through while half-open.
	SuccessThreshold uint32
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(s Settings, log *zap.Logger, onTransition TransitionFunc) *CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	threshold := s.FailureThreshold

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.SuccessThreshold,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var ce *callerError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if onTransition != nil {
				onTransition(name, from.String(), to.String())
			}
		},
	})}
}

// Execute runs action unless the breaker is open. A nil breaker runs action
// directly. Context cancellation by the caller is not counted as a failure.
func (b *CircuitBreaker) Execute(ctx context.Context, action func() error) error {
	if b == nil {
		return action()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := action()
		if err != nil && ctx.Err() != nil {
			return nil, &callerError{err}
		}
		return nil, err
	})
	var ce *callerError
	if errors.As(err, &ce) {
		return ce.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (b *CircuitBreaker) State() string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}

// callerError passes through gobreaker without counting against the backend.
type callerError struct{ err error }

func (e *callerError) Error() string { return e.err.Error() }
