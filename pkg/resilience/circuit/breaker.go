// Package circuit provides a three-state circuit breaker that isolates a failing agent
// from further dispatch attempts and probes it again after a cooldown.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/logx"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the target recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"` // Failures before opening
	ResetTimeout     time.Duration `json:"reset_timeout" yaml:"reset_timeout"`         // Time in OPEN before probing
	HalfOpenTimeout  time.Duration `json:"half_open_timeout" yaml:"half_open_timeout"` // Time in HALF_OPEN before closing
}

// DefaultConfig provides the standard thresholds.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 3,
	ResetTimeout:     30 * time.Second,
	HalfOpenTimeout:  15 * time.Second,
}

// ConfigFor derives breaker thresholds from an agent's retry budget and timeout.
func ConfigFor(maxRetries int, timeout time.Duration) Config {
	cfg := DefaultConfig
	if maxRetries > 0 {
		cfg.FailureThreshold = maxRetries
	}
	if timeout > 0 {
		cfg.ResetTimeout = timeout
		cfg.HalfOpenTimeout = timeout / 2
	}
	return cfg
}

// OpenError is returned, wrapped in an OPERATION error, when a call is rejected.
type OpenError struct {
	Name      string
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is OPEN (retry in %s)", e.Name, e.Remaining.Round(time.Millisecond))
}

// Snapshot is a read-only copy of breaker state.
type Snapshot struct {
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
}

// StateChangeFunc is notified after every transition.
type StateChangeFunc func(name string, from, to State)

// Breaker guards calls to one agent.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Breaker struct {
	name     string
	config   Config
	now      func() time.Time
	onChange StateChangeFunc
	logger   *logx.Logger

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a closed circuit breaker.
func New(name string, config Config, opts ...Option) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	b := &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		logger: logx.NewLogger("circuit:" + name),
		state:  Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastStateChange = b.now()
	return b
}

type transition struct{ from, to State }

// Execute runs op through the breaker. Rejections and failures are returned as OPERATION
// errors tagged with callContext; the original error stays reachable via errors.Is/As.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error, callContext string) error {
	if err := b.before(callContext); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err == nil)

	if err != nil {
		return agenterrors.Wrap(agenterrors.KindOperation, callContext, err, "operation failed")
	}
	return nil
}

// before applies time-based transitions and decides whether the call may proceed.
func (b *Breaker) before(callContext string) error {
	var changes []transition

	b.mu.Lock()
	now := b.now()
	if b.state == Open {
		elapsed := now.Sub(b.lastStateChange)
		if elapsed < b.config.ResetTimeout {
			remaining := b.config.ResetTimeout - elapsed
			b.mu.Unlock()
			return agenterrors.Wrap(agenterrors.KindOperation, callContext,
				&OpenError{Name: b.name, Remaining: remaining}, "call rejected")
		}
		changes = append(changes, b.setState(HalfOpen, now))
	}
	if b.state == HalfOpen && now.Sub(b.lastStateChange) >= b.config.HalfOpenTimeout && b.config.HalfOpenTimeout > 0 {
		changes = append(changes, b.setState(Closed, now))
	}
	b.mu.Unlock()

	b.notify(changes)
	return nil
}

func (b *Breaker) record(success bool) {
	var changes []transition

	b.mu.Lock()
	now := b.now()
	if success {
		if b.state == HalfOpen {
			changes = append(changes, b.setState(Closed, now))
		}
		b.failures = 0
	} else {
		b.failures++
		b.lastFailureTime = now
		logx.Debug(logx.WithComponent(context.Background(), b.logger.Component()), "circuit",
			"failure recorded: count=%d threshold=%d state=%s", b.failures, b.config.FailureThreshold, b.state)
		if b.state != Open && b.failures >= b.config.FailureThreshold {
			changes = append(changes, b.setState(Open, now))
		}
	}
	b.mu.Unlock()

	b.notify(changes)
}

// setState must be called with mu held.
func (b *Breaker) setState(to State, now time.Time) transition {
	from := b.state
	b.state = to
	b.lastStateChange = now
	if to == Closed {
		b.failures = 0
	}
	return transition{from: from, to: to}
}

func (b *Breaker) notify(changes []transition) {
	for _, c := range changes {
		if c.to == Open {
			b.logger.Warn("⚡ circuit OPENED (%s → %s)", c.from, c.to)
		} else {
			b.logger.Info("circuit %s → %s", c.from, c.to)
		}
		if b.onChange != nil {
			b.onChange(b.name, c.from, c.to)
		}
	}
}

// CanAttempt reports whether a call made now would be let through, without changing state.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != Open || b.now().Sub(b.lastStateChange) >= b.config.ResetTimeout
}

// State returns the current state. Pending time-based transitions are applied on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state,
		Failures:        b.failures,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// Config returns the breaker configuration.
func (b *Breaker) Config() Config {
	return b.config
}

// Reset manually returns the breaker to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var changes []transition
	if b.state != Closed {
		changes = append(changes, b.setState(Closed, b.now()))
	}
	b.failures = 0
	b.mu.Unlock()

	b.notify(changes)
}
