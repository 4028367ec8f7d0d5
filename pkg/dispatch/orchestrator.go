// Package dispatch routes messages from a shared priority queue to registered agents,
// isolating unhealthy agents behind per-agent circuit breakers.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"switchboard/pkg/agent"
	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/health"
	"switchboard/pkg/metrics"
	"switchboard/pkg/persistence"
	"switchboard/pkg/proto"
	"switchboard/pkg/resilience/circuit"
	"switchboard/pkg/resilience/retry"
	"switchboard/pkg/resilience/timeout"
	"switchboard/pkg/telemetry"
)

// DefaultName is the orchestrator's agent name.
const DefaultName = "orchestrator"

// DefaultRetryDelay is the base backoff between routing attempts.
const DefaultRetryDelay = time.Second

// Journal persists delivery outcomes.
type Journal interface {
	RecordOutcome(ctx context.Context, rec persistence.OutcomeRecord) error
}

// EventLog records accepted messages.
type EventLog interface {
	WriteAccepted(msg *proto.Message) error
}

// Config configures an Orchestrator.
type Config struct {
	// Agent holds the orchestrator's own limits. MaxQueueSize bounds the shared queue;
	// MaxRetries and TimeoutMs apply to every routed agent.
	Agent agent.Config `yaml:"agent"`
	// RetryDelay is the base backoff between routing attempts and the pause after a requeue.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// RoutingTimeout bounds a whole routing sequence including retries. Zero means no bound.
	RoutingTimeout time.Duration `yaml:"routing_timeout"`
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Agent:      agent.NewConfig(DefaultName),
		RetryDelay: DefaultRetryDelay,
	}
}

// agentStateInfo is the orchestrator's bookkeeping for one registered agent.
type agentStateInfo struct {
	agent        agent.Agent
	breaker      *circuit.Breaker
	metrics      *health.Metrics
	messageTypes []proto.MsgType

	mu         sync.Mutex
	state      agent.State
	lastActive time.Time
	errorCount int
}

func (i *agentStateInfo) snapshot() (agent.State, time.Time, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state, i.lastActive, i.errorCount
}

func (i *agentStateInfo) setState(state agent.State, now time.Time) {
	i.mu.Lock()
	i.state = state
	i.lastActive = now
	i.mu.Unlock()
}

// Orchestrator is itself an agent: messages sent to it are queued by priority and routed
// to their target agents by a single drain loop.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Orchestrator struct {
	*agent.BaseAgent

	config   Config
	queue    *PriorityMessageQueue
	now      func() time.Time
	recorder metrics.Recorder
	journal  Journal
	eventLog EventLog
	tracer   trace.Tracer
	observer Observer

	mu     sync.RWMutex
	agents map[string]*agentStateInfo
	routes map[proto.MsgType]string

	loopMu     sync.Mutex
	running    bool
	stopped    bool
	idle       chan struct{}
	wake       chan struct{}
	wg         sync.WaitGroup
	loopCtx    context.Context //nolint:containedctx // Lifetime of the drain loop
	cancelLoop context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source used for health bookkeeping and breakers.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithJournal persists every delivery outcome.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithEventLog records every accepted message.
func WithEventLog(l EventLog) Option {
	return func(o *Orchestrator) { o.eventLog = l }
}

// WithTracer wraps each routing step in a span.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithObserver registers a callback for delivery outcomes.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// NewOrchestrator creates an orchestrator with an empty routing table.
func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = DefaultName
	}
	cfg.Agent = cfg.Agent.WithDefaults()
	if cfg.RetryDelay < 0 {
		return nil, agenterrors.Validation("new orchestrator", "retry delay must not be negative")
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	o := &Orchestrator{
		config:   cfg,
		queue:    NewPriorityMessageQueue(),
		now:      time.Now,
		recorder: metrics.Nop{},
		tracer:   noop.NewTracerProvider().Tracer(DefaultName),
		agents:   make(map[string]*agentStateInfo),
		routes:   make(map[proto.MsgType]string),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.queue.now = o.now
	o.loopCtx, o.cancelLoop = context.WithCancel(context.Background())

	base, err := agent.NewBaseAgent(cfg.Agent, agent.HandlerFunc(o.ProcessMessage), agent.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	o.BaseAgent = base
	return o, nil
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config { return o.config }

// RegisterAgent makes ag routable and, for each message type, the default target for
// messages of that type without an explicit target.
func (o *Orchestrator) RegisterAgent(ag agent.Agent, messageTypes ...proto.MsgType) error {
	if ag == nil {
		return agenterrors.Validation("register agent", "agent is nil")
	}
	name := ag.Name()

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.agents[name]; exists {
		return agenterrors.Validation("register agent", "agent %s is already registered", name)
	}
	for _, mt := range messageTypes {
		if owner, taken := o.routes[mt]; taken {
			return agenterrors.Validation("register agent", "message type %s is already routed to %s", mt, owner)
		}
	}

	breakerCfg := circuit.ConfigFor(o.config.Agent.MaxRetries, o.config.Agent.Timeout())
	o.agents[name] = &agentStateInfo{
		agent: ag,
		breaker: circuit.New(name, breakerCfg,
			circuit.WithClock(o.now),
			circuit.WithStateChange(o.onCircuitChange)),
		metrics:      health.NewMetrics(health.WithClock(o.now)),
		messageTypes: append([]proto.MsgType(nil), messageTypes...),
		state:        agent.StateIdle,
		lastActive:   o.now(),
	}
	for _, mt := range messageTypes {
		o.routes[mt] = name
	}

	o.Logger().Info("registered agent %s (types: %v)", name, messageTypes)
	return nil
}

// UnregisterAgent removes an agent and its routes. Messages already queued for it are
// dropped when dequeued.
func (o *Orchestrator) UnregisterAgent(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	info, exists := o.agents[name]
	if !exists {
		return agenterrors.Validation("unregister agent", "agent %s is not registered", name)
	}
	for _, mt := range info.messageTypes {
		if o.routes[mt] == name {
			delete(o.routes, mt)
		}
	}
	delete(o.agents, name)

	o.Logger().Info("unregistered agent %s", name)
	return nil
}

// RegisteredAgents returns the names of all registered agents, sorted.
func (o *Orchestrator) RegisteredAgents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route fills in msg.TargetAgent from the routing table when it is empty and returns the
// resulting target ("" when none is known).
func (o *Orchestrator) Route(msg *proto.Message) string {
	if msg.TargetAgent != "" {
		return msg.TargetAgent
	}
	o.mu.RLock()
	target := o.routes[msg.Type]
	o.mu.RUnlock()
	msg.TargetAgent = target
	return target
}

func (o *Orchestrator) lookup(name string) (*agentStateInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	info, ok := o.agents[name]
	return info, ok
}

// ProcessMessage accepts msg into the shared queue and makes sure the drain loop is
// running. It returns once the message is queued; delivery happens asynchronously.
func (o *Orchestrator) ProcessMessage(_ context.Context, msg *proto.Message) error {
	if msg == nil {
		return agenterrors.Validation("orchestrator", "message is nil")
	}
	if o.queue.Full(o.config.Agent.MaxQueueSize) {
		return o.queueFullError()
	}
	o.Route(msg)
	if err := msg.Validate(); err != nil {
		return err //nolint:wrapcheck // Already classified as VALIDATION
	}

	o.loopMu.Lock()
	if o.stopped {
		o.loopMu.Unlock()
		return agenterrors.New(agenterrors.KindOperation, o.Name(), "orchestrator is stopped")
	}
	if o.queue.Full(o.config.Agent.MaxQueueSize) {
		o.loopMu.Unlock()
		return o.queueFullError()
	}
	o.queue.Enqueue(msg)
	o.startLoopLocked()
	o.loopMu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}

	if o.eventLog != nil {
		if err := o.eventLog.WriteAccepted(msg); err != nil {
			o.Logger().Warn("failed to write event log for %s: %v", msg.ID, err)
		}
	}
	o.recorder.ObserveAccepted(msg.Type.String())
	o.reportQueueDepth()
	o.Logger().Debug("accepted %s", msg)
	return nil
}

func (o *Orchestrator) queueFullError() error {
	return agenterrors.Newf(agenterrors.KindOperation, o.Name(),
		"dispatch queue is full (capacity %d)", o.config.Agent.MaxQueueSize)
}

// EnqueueMessage resolves the target from the routing table, then hands msg to the
// orchestrator's own work queue, which forwards it to ProcessMessage.
func (o *Orchestrator) EnqueueMessage(msg *proto.Message) error {
	if msg != nil {
		o.Route(msg)
	}
	return o.BaseAgent.EnqueueMessage(msg)
}

// startLoopLocked starts the drain loop unless it is already running. loopMu must be held.
func (o *Orchestrator) startLoopLocked() {
	if o.running {
		return
	}
	o.running = true
	o.idle = make(chan struct{})
	o.queue.SetProcessing(true)
	o.wg.Add(1)
	go o.drainLoop(o.loopCtx, o.idle)
}

func (o *Orchestrator) drainLoop(ctx context.Context, idle chan struct{}) {
	defer o.wg.Done()
	defer close(idle)

	for {
		if ctx.Err() != nil {
			o.finishLoop()
			return
		}

		item, ok := o.queue.Dequeue()
		if !ok {
			o.loopMu.Lock()
			if o.queue.Size() == 0 {
				o.running = false
				o.queue.SetProcessing(false)
				o.loopMu.Unlock()
				return
			}
			o.loopMu.Unlock()
			continue
		}

		outcome := o.step(ctx, item)
		o.report(outcome)

		if outcome.Kind == Requeued && !o.anyRoutable() {
			o.pause(ctx)
		}
	}
}

// pause waits RetryDelay before retrying queued messages whose targets are all cooling
// down. A newly accepted message ends the pause early.
func (o *Orchestrator) pause(ctx context.Context) {
	timer := time.NewTimer(o.config.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-o.wake:
	}
}

// anyRoutable reports whether some queued message would be delivered or dropped rather
// than requeued again.
func (o *Orchestrator) anyRoutable() bool {
	for _, target := range o.queue.Targets() {
		info, ok := o.lookup(target)
		if !ok || info.breaker.CanAttempt() || !o.mayRequeue(info) {
			return true
		}
	}
	return false
}

// mayRequeue reports whether a message for an unhealthy agent goes back in the queue.
// It is dropped once the agent has failed MaxRetries consecutive deliveries.
func (o *Orchestrator) mayRequeue(info *agentStateInfo) bool {
	_, _, errorCount := info.snapshot()
	return errorCount < o.config.Agent.MaxRetries
}

func (o *Orchestrator) finishLoop() {
	o.loopMu.Lock()
	o.running = false
	o.queue.SetProcessing(false)
	o.loopMu.Unlock()
}

// step handles one dequeued item and reports what happened to it.
func (o *Orchestrator) step(ctx context.Context, item *QueueItem) DeliveryOutcome {
	msg := item.Message
	outcome := DeliveryOutcome{Item: item, Agent: msg.TargetAgent}

	info, ok := o.lookup(msg.TargetAgent)
	if !ok {
		outcome.Kind, outcome.Reason = Dropped, DropUnknownTarget
		outcome.At = o.now()
		return outcome
	}

	if !o.IsAgentHealthy(msg.TargetAgent) {
		if o.mayRequeue(info) {
			o.queue.Requeue(item)
			outcome.Kind = Requeued
		} else {
			outcome.Kind, outcome.Reason = Dropped, DropUnhealthy
		}
		outcome.At = o.now()
		return outcome
	}

	start := o.now()
	attempts, err := o.routeMessage(ctx, info, msg)
	outcome.At = o.now()
	outcome.Duration = outcome.At.Sub(start)
	outcome.Attempts = attempts
	if err != nil {
		outcome.Kind, outcome.Reason, outcome.Err = Dropped, DropDeliveryFailed, err
		if ctx.Err() != nil {
			outcome.Reason = DropShutdown
		}
		return outcome
	}
	outcome.Kind = Delivered
	return outcome
}

// routeMessage delivers msg to the agent behind info: retries wrap the circuit breaker,
// which wraps a timeout around the agent's ProcessMessage.
func (o *Orchestrator) routeMessage(ctx context.Context, info *agentStateInfo, msg *proto.Message) (int, error) {
	name := info.agent.Name()

	ctx, span := o.tracer.Start(ctx, "route "+msg.Type.String(), trace.WithAttributes(
		telemetry.AttrMessageID.String(msg.ID),
		telemetry.AttrMessageType.String(msg.Type.String()),
		telemetry.AttrPriority.Int(msg.PriorityValue()),
		telemetry.AttrAgent.String(name),
	))
	defer span.End()

	if o.config.RoutingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RoutingTimeout)
		defer cancel()
	}

	info.setState(agent.StateWorking, o.now())
	start := o.now()

	policy := retry.NewPolicy(retry.ConfigFor(o.config.Agent.MaxRetries, o.config.RetryDelay), nil)
	policy.Notify = func(attempt int, err error, delay time.Duration) {
		o.Logger().Warn("delivery of %s to %s failed (attempt %d), retrying in %v: %v", msg.ID, name, attempt, delay, err)
	}

	attempts := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		return info.breaker.Execute(ctx, func(ctx context.Context) error {
			return timeout.Run(ctx, o.config.Agent.Timeout(), name, func(ctx context.Context) error {
				return info.agent.ProcessMessage(ctx, msg)
			})
		}, "route to "+name)
	})
	elapsed := o.now().Sub(start)
	span.SetAttributes(telemetry.AttrAttempts.Int(attempts))
	o.recorder.ObserveDelivery(name, err == nil, elapsed)

	if err != nil {
		info.mu.Lock()
		info.state = agent.StateError
		info.lastActive = o.now()
		info.errorCount++
		info.mu.Unlock()
		info.metrics.RecordError(elapsed)

		telemetry.RecordError(span, err)
		return attempts, agenterrors.Wrap(agenterrors.KindOperation, "route",
			err, fmt.Sprintf("failed to deliver %s to %s after %d attempt(s)", msg.ID, name, attempts))
	}

	info.mu.Lock()
	info.state = agent.StateIdle
	info.lastActive = o.now()
	info.errorCount = 0
	info.mu.Unlock()
	info.metrics.RecordSuccess(elapsed)

	telemetry.RecordSuccess(span)
	return attempts, nil
}

// report logs, counts, journals and publishes an outcome.
func (o *Orchestrator) report(outcome DeliveryOutcome) {
	msg := outcome.Item.Message
	switch outcome.Kind {
	case Delivered:
		o.Logger().Info("✅ delivered %s to %s (%d attempt(s), %v)", msg.ID, outcome.Agent, outcome.Attempts, outcome.Duration)
	case Requeued:
		o.Logger().Warn("🔄 %s is unhealthy, requeued %s (requeue %d)", outcome.Agent, msg.ID, outcome.Item.Requeues)
	case Dropped:
		if outcome.Err != nil {
			o.Logger().Error("❌ dropped %s for %s (%s): %v", msg.ID, outcome.Agent, outcome.Reason, outcome.Err)
		} else {
			o.Logger().Warn("❌ dropped %s for %s (%s)", msg.ID, outcome.Agent, outcome.Reason)
		}
	}

	o.recorder.ObserveOutcome(outcome.Agent, outcome.Kind.String(), string(outcome.Reason))
	o.reportQueueDepth()

	if o.journal != nil {
		if err := o.journal.RecordOutcome(context.Background(), outcome.record()); err != nil {
			o.Logger().Warn("failed to journal outcome for %s: %v", msg.ID, err)
		}
	}
	if o.observer != nil {
		o.observer(outcome)
	}
}

func (o *Orchestrator) reportQueueDepth() {
	stats := o.queue.Stats()
	o.recorder.SetQueueDepth(proto.TierHigh.String(), stats.High)
	o.recorder.SetQueueDepth(proto.TierNormal.String(), stats.Normal)
	o.recorder.SetQueueDepth(proto.TierLow.String(), stats.Low)
}

func (o *Orchestrator) onCircuitChange(name string, from, to circuit.State) {
	o.recorder.ObserveCircuitTransition(name, from.String(), to.String())
}

// GetQueueStats returns the shared queue's tier counts.
func (o *Orchestrator) GetQueueStats() QueueStats {
	return o.queue.Stats()
}

// Drain blocks until the queue is empty and the drain loop has exited, or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	for {
		o.loopMu.Lock()
		if !o.running {
			o.loopMu.Unlock()
			return nil
		}
		idle := o.idle
		o.loopMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("drain interrupted: %w", ctx.Err())
		}
	}
}

// Stop refuses new messages, cancels the drain loop and waits for it to exit.
// Messages still queued are discarded. Stop is idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.loopMu.Lock()
	alreadyStopped := o.stopped
	o.stopped = true
	o.loopMu.Unlock()
	if alreadyStopped {
		return nil
	}

	o.cancelLoop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.Logger().Warn("orchestrator stop timed out")
		return fmt.Errorf("orchestrator stop: %w", ctx.Err())
	}

	if n := o.queue.Clear(); n > 0 {
		o.Logger().Warn("discarded %d queued messages on stop", n)
	}
	o.reportQueueDepth()
	o.Logger().Info("orchestrator stopped")
	return nil
}

// EmergencyStop drops every queued message, in the shared queue and the orchestrator's
// own work queue, and forces the orchestrator IDLE. Registered agents are untouched.
func (o *Orchestrator) EmergencyStop() {
	if n := o.queue.Clear(); n > 0 {
		o.Logger().Warn("🛑 emergency stop: dropped %d messages from the dispatch queue", n)
	}
	o.BaseAgent.EmergencyStop()
	o.reportQueueDepth()
}
