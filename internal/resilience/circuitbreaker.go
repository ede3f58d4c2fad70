// Package resilience wraps outbound calls with circuit breakers.
package resilience

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/imrishuroy/storefront-fulfillment/internal/metrics"
)

// ErrUnavailable is returned when a breaker rejects a call without attempting it.
var ErrUnavailable = errors.New("dependency unavailable")

// Settings tunes a breaker. Zero values take the defaults used by NewCircuitBreaker.
type Settings struct {
	MaxRequests  uint32        // requests allowed in half-open state
	Interval     time.Duration // window to track failures
	Timeout      time.Duration // time to wait before half-open
	MinRequests  uint32
	FailureRatio float64
}

func (s Settings) withDefaults() Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 15 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.MinRequests == 0 {
		s.MinRequests = 3
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}
	return s
}

// CircuitBreaker wraps gobreaker with metrics.
type CircuitBreaker struct {
	cb      *gobreaker.CircuitBreaker
	name    string
	service string
}

// NewCircuitBreaker creates a breaker reporting to the circuit_breaker_* metrics.
func NewCircuitBreaker(name, service string, s Settings) *CircuitBreaker {
	s = s.withDefaults()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: func(cbName string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(service, cbName).Set(stateValue(to))
			log.WithFields(log.Fields{
				"circuit": cbName,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(service, name).Set(0)
	return &CircuitBreaker{cb: cb, name: name, service: service}
}

// Execute runs fn through the breaker. Rejections are reported as ErrUnavailable.
func (b *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(b.service, b.name).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit %s: %w", b.name, ErrUnavailable)
		}
	}
	return result, err
}

// State returns the current breaker state name.
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
