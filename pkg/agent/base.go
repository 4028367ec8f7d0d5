package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/logx"
	"switchboard/pkg/proto"
	"switchboard/pkg/resilience/timeout"
)

// BaseAgent implements Agent around a Handler. It tracks state and last activity,
// bounds each message by the configured timeout and owns a private WorkQueue.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type BaseAgent struct {
	config  Config
	handler Handler
	logger  *logx.Logger
	queue   *WorkQueue
	slots   *semaphore.Weighted
	now     func() time.Time

	mu         sync.RWMutex
	state      State
	lastActive time.Time
}

// Option configures a BaseAgent.
type Option func(*BaseAgent)

// WithClock overrides the time source used for LastActiveTime.
func WithClock(now func() time.Time) Option {
	return func(a *BaseAgent) { a.now = now }
}

// WithLogger overrides the agent's logger.
func WithLogger(l *logx.Logger) Option {
	return func(a *BaseAgent) { a.logger = l }
}

// NewBaseAgent validates config (after filling defaults) and creates an idle agent.
func NewBaseAgent(config Config, handler Handler, opts ...Option) (*BaseAgent, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, agenterrors.Validation("new agent "+config.Name, "handler is required")
	}

	a := &BaseAgent{
		config:  config,
		handler: handler,
		logger:  logx.NewLogger(config.Name),
		queue:   NewWorkQueue(config.MaxQueueSize),
		slots:   semaphore.NewWeighted(int64(config.MaxConcurrentTasks)),
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.lastActive = a.now()
	return a, nil
}

// Name returns the agent's name.
func (a *BaseAgent) Name() string { return a.config.Name }

// Config returns the agent's effective configuration.
func (a *BaseAgent) Config() Config { return a.config }

// Logger returns the agent's logger.
func (a *BaseAgent) Logger() *logx.Logger { return a.logger }

// State returns the current lifecycle state.
func (a *BaseAgent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// LastActiveTime returns when the agent last started or finished a message.
func (a *BaseAgent) LastActiveTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActive
}

// SetState records a state change and refreshes LastActiveTime.
func (a *BaseAgent) SetState(state State) {
	a.mu.Lock()
	prev := a.state
	a.state = state
	a.lastActive = a.now()
	a.mu.Unlock()

	if prev != state {
		logx.DebugState(logx.WithComponent(context.Background(), a.config.Name), "agent", "transition", state.String(), "from "+prev.String())
	}
}

// ProcessMessage runs the handler for msg, racing it against the configured timeout.
// The agent is WORKING while the handler runs, IDLE after a success and ERROR after a
// failure or timeout. At most MaxConcurrentTasks messages are processed at once.
func (a *BaseAgent) ProcessMessage(ctx context.Context, msg *proto.Message) error {
	if err := a.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: waiting for a processing slot: %w", a.config.Name, err)
	}
	defer a.slots.Release(1)

	a.SetState(StateWorking)
	start := a.now()

	err := timeout.Run(ctx, a.config.Timeout(), a.config.Name, func(ctx context.Context) error {
		return a.handler.HandleMessage(ctx, msg)
	})
	elapsed := a.now().Sub(start)

	if err != nil {
		a.SetState(StateError)
		a.logger.Error("message %s (%s) failed after %v: %v", msg.ID, msg.Type, elapsed, err)
		return err
	}

	a.SetState(StateIdle)
	a.logger.Debug("message %s (%s) processed in %v", msg.ID, msg.Type, elapsed)
	return nil
}

// EnqueueMessage validates msg, adds it to the private work queue and starts draining
// the queue in the background if no drain is running.
func (a *BaseAgent) EnqueueMessage(msg *proto.Message) error {
	if err := msg.Validate(); err != nil {
		return err //nolint:wrapcheck // Already classified as VALIDATION
	}
	if err := a.queue.Enqueue(msg); err != nil {
		a.logger.Warn("rejecting message %s: %v", msg.ID, err)
		return err
	}
	if generation, ok := a.queue.claim(); ok {
		go a.drain(generation)
	}
	return nil
}

func (a *BaseAgent) drain(generation uint64) {
	for {
		msg, ok := a.queue.next(generation)
		if !ok {
			return
		}
		// Failures are already logged and reflected in the agent state.
		_ = a.ProcessMessage(context.Background(), msg)
	}
}

// QueueLen returns the number of messages waiting in the private queue.
func (a *BaseAgent) QueueLen() int { return a.queue.Len() }

// IsDraining reports whether the private queue is being drained.
func (a *BaseAgent) IsDraining() bool { return a.queue.IsProcessing() }

// EmergencyStop drops everything in the private queue and forces the agent IDLE.
// A message already being handled is not interrupted.
func (a *BaseAgent) EmergencyStop() {
	dropped := a.queue.Len()
	a.queue.Clear()
	a.SetState(StateIdle)
	a.logger.Warn("🛑 emergency stop: dropped %d queued messages", dropped)
}
