// Package retry provides bounded retries with exponential backoff for routing attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // Maximum number of attempts (including initial)
	InitialDelay  time.Duration `json:"initial_delay"`  // Delay before the first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Upper bound for any single delay, 0 = unbounded
	BackoffFactor float64       `json:"backoff_factor"` // Multiplier for exponential backoff
}

// DefaultConfig mirrors the agent defaults: 3 attempts, 1s base delay, doubling.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
}

// ConfigFor builds a doubling policy from an agent's retry budget and base delay.
func ConfigFor(maxRetries int, baseDelay time.Duration) Config {
	cfg := DefaultConfig
	if maxRetries > 0 {
		cfg.MaxAttempts = maxRetries
	}
	if baseDelay >= 0 {
		cfg.InitialDelay = baseDelay
	}
	return cfg
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Timeouts and operation failures are retried;
// validation errors, open circuits and cancellation are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Let the circuit breaker handle recovery
	var openErr *circuit.OpenError
	if errors.As(err, &openErr) {
		return false
	}

	return !agenterrors.Is(err, agenterrors.KindValidation)
}

// NotifyFunc is called before each backoff sleep.
type NotifyFunc func(attempt int, err error, delay time.Duration)

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
	Notify     NotifyFunc
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = DefaultConfig.BackoffFactor
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the delay before the given attempt number (1-based).
// Attempt 2 waits InitialDelay, attempt 3 twice that, and so on.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))

	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}
	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Do runs fn until it succeeds, returns a non-retryable error or the attempts are used up.
// The last error is returned unchanged so its classification survives.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.CalculateDelay(attempt)
			if p.Notify != nil {
				p.Notify(attempt-1, lastErr, delay)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return fmt.Errorf("retry cancelled after %d attempts: %w", attempt-1, ctx.Err())
				case <-timer.C:
				}
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.ShouldRetry(err) {
			break
		}
	}

	return lastErr
}
