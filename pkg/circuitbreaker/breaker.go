package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Settings tunes a breaker. Zero values fall back to the defaults below.
type Settings struct {
	Name             string
	MaxHalfOpen      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	ConsecutiveFails uint32
}

// Breaker guards calls to one remote dependency.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

func New[T any](s Settings, log *zap.Logger) *Breaker[T] {
	if s.MaxHalfOpen == 0 {
		s.MaxHalfOpen = 1
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.ConsecutiveFails == 0 {
		s.ConsecutiveFails = 5
	}
	threshold := s.ConsecutiveFails
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpen,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
		},
	})}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether err came from a rejected call rather than from fn.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
