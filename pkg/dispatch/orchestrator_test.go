package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/agent"
	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/persistence"
	"switchboard/pkg/proto"
)

// fakeAgent is a routable agent whose behaviour is scripted per call.
type fakeAgent struct {
	name string
	fn   func(ctx context.Context, msg *proto.Message, call int) error

	mu    sync.Mutex
	calls int
	seen  []string
}

func (f *fakeAgent) Name() string              { return f.name }
func (f *fakeAgent) State() agent.State        { return agent.StateIdle }
func (f *fakeAgent) LastActiveTime() time.Time { return time.Time{} }

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAgent) seenIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *fakeAgent) ProcessMessage(ctx context.Context, msg *proto.Message) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.seen = append(f.seen, msg.ID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, msg, call)
	}
	return nil
}

// outcomes collects observer callbacks.
type outcomes struct {
	mu  sync.Mutex
	all []DeliveryOutcome
}

func (o *outcomes) observe(out DeliveryOutcome) {
	o.mu.Lock()
	o.all = append(o.all, out)
	o.mu.Unlock()
}

func (o *outcomes) list() []DeliveryOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DeliveryOutcome(nil), o.all...)
}

func (o *outcomes) kinds() []string {
	var out []string
	for _, oc := range o.list() {
		label := oc.Kind.String()
		if oc.Reason != "" {
			label += ":" + string(oc.Reason)
		}
		out = append(out, label)
	}
	return out
}

// fakeJournal collects journaled outcomes.
type fakeJournal struct {
	mu   sync.Mutex
	recs []persistence.OutcomeRecord
}

func (j *fakeJournal) RecordOutcome(_ context.Context, rec persistence.OutcomeRecord) error {
	j.mu.Lock()
	j.recs = append(j.recs, rec)
	j.mu.Unlock()
	return nil
}

var frozen = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig(maxRetries int) Config {
	cfg := DefaultConfig()
	cfg.Agent.MaxRetries = maxRetries
	cfg.Agent.TimeoutMs = 1000
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) (*Orchestrator, *outcomes) {
	t.Helper()
	seen := &outcomes{}
	opts = append([]Option{WithObserver(seen.observe)}, opts...)
	o, err := NewOrchestrator(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	return o, seen
}

func drain(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Drain(ctx))
}

func ping(target string) *proto.Message {
	return proto.NewMessage("PING", target, proto.NewGenericPayload(map[string]any{"hello": "world"}))
}

func TestDeliversMessage(t *testing.T) {
	o, seen := newTestOrchestrator(t, testConfig(3))
	echo := &fakeAgent{name: "echo"}
	require.NoError(t, o.RegisterAgent(echo))

	msg := ping("echo")
	require.NoError(t, o.ProcessMessage(context.Background(), msg))
	drain(t, o)

	assert.Equal(t, []string{msg.ID}, echo.seenIDs())
	require.Len(t, seen.list(), 1)
	out := seen.list()[0]
	assert.Equal(t, Delivered, out.Kind)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "echo", out.Agent)

	stats := o.GetQueueStats()
	assert.Zero(t, stats.Total)
	assert.False(t, stats.IsProcessing)
}

func TestDispatchesByPriority(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(3))

	release := make(chan struct{})
	blocker := ping("echo")
	echo := &fakeAgent{name: "echo", fn: func(_ context.Context, msg *proto.Message, _ int) error {
		if msg.ID == blocker.ID {
			<-release
		}
		return nil
	}}
	require.NoError(t, o.RegisterAgent(echo))

	require.NoError(t, o.ProcessMessage(context.Background(), blocker))
	require.Eventually(t, func() bool { return echo.callCount() == 1 }, time.Second, time.Millisecond)

	p1 := ping("echo").WithPriority(1)
	p3 := ping("echo").WithPriority(3)
	p7 := ping("echo").WithPriority(7)
	for _, m := range []*proto.Message{p1, p3, p7} {
		require.NoError(t, o.ProcessMessage(context.Background(), m))
	}
	assert.Equal(t, QueueStats{Total: 3, High: 1, Normal: 1, Low: 1, IsProcessing: true}, o.GetQueueStats())

	close(release)
	drain(t, o)
	assert.Equal(t, []string{blocker.ID, p7.ID, p3.ID, p1.ID}, echo.seenIDs())
}

func TestSharedQueueFull(t *testing.T) {
	cfg := testConfig(3)
	cfg.Agent.MaxQueueSize = 2
	o, _ := newTestOrchestrator(t, cfg)

	release := make(chan struct{})
	echo := &fakeAgent{name: "echo", fn: func(ctx context.Context, _ *proto.Message, _ int) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	require.NoError(t, o.RegisterAgent(echo))

	require.NoError(t, o.ProcessMessage(context.Background(), ping("echo")))
	require.Eventually(t, func() bool { return echo.callCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, o.ProcessMessage(context.Background(), ping("echo")))
	require.NoError(t, o.ProcessMessage(context.Background(), ping("echo")))

	err := o.ProcessMessage(context.Background(), ping("echo"))
	require.Error(t, err)
	assert.True(t, agenterrors.Is(err, agenterrors.KindOperation))
	assert.Contains(t, err.Error(), "capacity 2")

	close(release)
	drain(t, o)
}

func TestRejectsInvalidMessages(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(3))

	err := o.ProcessMessage(context.Background(), nil)
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))

	// No route and no explicit target.
	err = o.ProcessMessage(context.Background(), ping(""))
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))

	bad := proto.NewMessage(proto.MsgTypeLintReport, "lint", proto.NewGenericPayload(nil))
	err = o.ProcessMessage(context.Background(), bad)
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))

	assert.Zero(t, o.GetQueueStats().Total)
}

func TestUnknownTargetDropped(t *testing.T) {
	o, seen := newTestOrchestrator(t, testConfig(3))

	require.NoError(t, o.ProcessMessage(context.Background(), ping("ghost")))
	drain(t, o)

	assert.Equal(t, []string{"dropped:unknown_target"}, seen.kinds())
}

func TestRetriesThenDelivers(t *testing.T) {
	o, seen := newTestOrchestrator(t, testConfig(3))
	flaky := &fakeAgent{name: "flaky", fn: func(_ context.Context, _ *proto.Message, call int) error {
		if call == 1 {
			return errors.New("transient")
		}
		return nil
	}}
	require.NoError(t, o.RegisterAgent(flaky))

	require.NoError(t, o.ProcessMessage(context.Background(), ping("flaky")))
	drain(t, o)

	out := seen.list()
	require.Len(t, out, 1)
	assert.Equal(t, Delivered, out[0].Kind)
	assert.Equal(t, 2, out[0].Attempts)

	h, err := o.GetAgentHealth("flaky")
	require.NoError(t, err)
	assert.Equal(t, agent.StateIdle, h.State)
	assert.Zero(t, h.ErrorCount)
	assert.Equal(t, "CLOSED", h.CircuitState)
	assert.Equal(t, int64(1), h.Metrics.MessageCount)
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestTimeoutsAreRetriedThenDropped(t *testing.T) {
	cfg := testConfig(2)
	cfg.Agent.TimeoutMs = 20
	o, seen := newTestOrchestrator(t, cfg)
	slow := &fakeAgent{name: "slow", fn: func(ctx context.Context, _ *proto.Message, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, o.RegisterAgent(slow))

	require.NoError(t, o.ProcessMessage(context.Background(), ping("slow")))
	drain(t, o)

	out := seen.list()
	require.Len(t, out, 1)
	assert.Equal(t, Dropped, out[0].Kind)
	assert.Equal(t, DropDeliveryFailed, out[0].Reason)
	assert.Equal(t, 2, out[0].Attempts)
	assert.True(t, agenterrors.Is(out[0].Err, agenterrors.KindTimeout))
	assert.True(t, agenterrors.Is(out[0].Err, agenterrors.KindOperation))
	assert.Contains(t, out[0].Err.Error(), "slow")
}

// manualClock is a time source the test advances explicitly.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func countKind(kinds []string, want string) int {
	n := 0
	for _, k := range kinds {
		if k == want {
			n++
		}
	}
	return n
}

func TestRequeuedMessageDeliveredAfterCooldown(t *testing.T) {
	clock := &manualClock{now: frozen}
	o, seen := newTestOrchestrator(t, testConfig(2), WithClock(clock.Now))
	flaky := &fakeAgent{name: "flaky", fn: func(_ context.Context, _ *proto.Message, call int) error {
		if call <= 2 {
			return errors.New("down")
		}
		return nil
	}}
	require.NoError(t, o.RegisterAgent(flaky))

	first := ping("flaky")
	second := ping("flaky")
	require.NoError(t, o.ProcessMessage(context.Background(), first))
	require.NoError(t, o.ProcessMessage(context.Background(), second))

	// The first message opens the circuit after two failed attempts. The second keeps
	// being requeued while errorCount (1) is below maxRetries (2).
	require.Eventually(t, func() bool {
		return countKind(seen.kinds(), "requeued") >= 3
	}, 2*time.Second, time.Millisecond)
	assert.False(t, o.IsAgentHealthy("flaky"))
	assert.Equal(t, 2, flaky.callCount(), "open circuit blocks further calls")

	clock.Advance(2 * time.Second)
	drain(t, o)

	kinds := seen.kinds()
	assert.Equal(t, "dropped:delivery_failed", kinds[0])
	assert.Equal(t, "delivered", kinds[len(kinds)-1])
	assert.Equal(t, len(kinds)-2, countKind(kinds, "requeued"))

	last := seen.list()[len(kinds)-1]
	assert.Equal(t, second.ID, last.Item.Message.ID)
	assert.GreaterOrEqual(t, last.Item.Requeues, 3)
	assert.Equal(t, 3, flaky.callCount())

	h, err := o.GetAgentHealth("flaky")
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Equal(t, "CLOSED", h.CircuitState)
	assert.Zero(t, h.ErrorCount)
}

func TestRequeuesDoNotDelayHealthyAgents(t *testing.T) {
	cfg := testConfig(2)
	cfg.RetryDelay = time.Second
	o, seen := newTestOrchestrator(t, cfg, WithClock(func() time.Time { return frozen }))

	broken := &fakeAgent{name: "broken"}
	healthy := &fakeAgent{name: "healthy"}
	require.NoError(t, o.RegisterAgent(broken))
	require.NoError(t, o.RegisterAgent(healthy))

	info, ok := o.lookup("broken")
	require.True(t, ok)
	for range 2 {
		_ = info.breaker.Execute(context.Background(), func(context.Context) error {
			return errors.New("down")
		}, "open circuit")
	}
	require.False(t, o.IsAgentHealthy("broken"))

	for range 3 {
		require.NoError(t, o.ProcessMessage(context.Background(), ping("broken")))
	}
	require.Eventually(t, func() bool {
		return countKind(seen.kinds(), "requeued") >= 1
	}, 2*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, o.ProcessMessage(context.Background(), ping("healthy")))
	require.Eventually(t, func() bool { return healthy.callCount() == 1 }, 500*time.Millisecond, time.Millisecond)
	assert.Less(t, time.Since(start), cfg.RetryDelay)

	assert.Zero(t, broken.callCount())
	assert.Zero(t, countKind(seen.kinds(), "dropped:unhealthy"), "broken messages stay queued")
}

func TestUnhealthyDroppedOnceErrorBudgetSpent(t *testing.T) {
	o, seen := newTestOrchestrator(t, testConfig(2), WithClock(func() time.Time { return frozen }))
	broken := &fakeAgent{name: "broken", fn: func(context.Context, *proto.Message, int) error {
		return errors.New("down")
	}}
	require.NoError(t, o.RegisterAgent(broken))

	require.NoError(t, o.ProcessMessage(context.Background(), ping("broken")))
	drain(t, o)

	info, _ := o.lookup("broken")
	info.mu.Lock()
	info.errorCount = 2
	info.mu.Unlock()

	require.NoError(t, o.ProcessMessage(context.Background(), ping("broken")))
	drain(t, o)

	kinds := seen.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, "dropped:unhealthy", kinds[1])
	assert.Zero(t, seen.list()[1].Item.Requeues)
}

func TestResetAgentRestoresHealth(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(1), WithClock(func() time.Time { return frozen }))
	require.NoError(t, o.RegisterAgent(&fakeAgent{name: "x", fn: func(context.Context, *proto.Message, int) error {
		return errors.New("down")
	}}))
	require.NoError(t, o.ProcessMessage(context.Background(), ping("x")))
	drain(t, o)
	require.False(t, o.IsAgentHealthy("x"))

	require.NoError(t, o.ResetAgent("x"))
	assert.True(t, o.IsAgentHealthy("x"))
	h, _ := o.GetAgentHealth("x")
	assert.Zero(t, h.Metrics.MessageCount)
}

func TestRegisterAndRoute(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(3))
	lint := &fakeAgent{name: "lint"}

	require.NoError(t, o.RegisterAgent(lint, proto.MsgTypeLintReport))

	err := o.RegisterAgent(&fakeAgent{name: "lint"})
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))

	err = o.RegisterAgent(&fakeAgent{name: "lint2"}, proto.MsgTypeLintReport)
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))

	msg := proto.NewMessage(proto.MsgTypeLintReport, "", proto.NewLintReportPayload(&proto.LintReportPayload{Tool: "vet"}))
	assert.Equal(t, "lint", o.Route(msg))
	assert.Equal(t, "lint", msg.TargetAgent)

	require.NoError(t, o.UnregisterAgent("lint"))
	err = o.UnregisterAgent("lint")
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))

	msg.TargetAgent = ""
	assert.Empty(t, o.Route(msg))
	assert.Empty(t, o.RegisteredAgents())
}

func TestGetAgentHealthDegraded(t *testing.T) {
	now := frozen
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	o, _ := newTestOrchestrator(t, testConfig(3), WithClock(clock))
	require.NoError(t, o.RegisterAgent(&fakeAgent{name: "idle"}))

	h, err := o.GetAgentHealth("idle")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, h.Status)

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	h, err = o.GetAgentHealth("idle")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.True(t, h.Healthy, "staleness does not block routing")

	_, err = o.GetAgentHealth("nobody")
	assert.True(t, agenterrors.Is(err, agenterrors.KindValidation))
	assert.Len(t, o.GetAllAgentHealth(), 1)
}

func TestJournalReceivesOutcomes(t *testing.T) {
	j := &fakeJournal{}
	o, _ := newTestOrchestrator(t, testConfig(3), WithJournal(j))
	require.NoError(t, o.RegisterAgent(&fakeAgent{name: "echo"}))

	msg := ping("echo")
	require.NoError(t, o.ProcessMessage(context.Background(), msg))
	drain(t, o)

	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.recs, 1)
	assert.Equal(t, msg.ID, j.recs[0].MessageID)
	assert.Equal(t, persistence.OutcomeDelivered, j.recs[0].Outcome)
	assert.Equal(t, "PING", j.recs[0].MessageType)
}

func TestEnqueueMessageUsesRoutingTable(t *testing.T) {
	o, seen := newTestOrchestrator(t, testConfig(3))
	lint := &fakeAgent{name: "lint"}
	require.NoError(t, o.RegisterAgent(lint, proto.MsgTypeLintReport))

	msg := proto.NewMessage(proto.MsgTypeLintReport, "", proto.NewLintReportPayload(&proto.LintReportPayload{Tool: "vet"}))
	require.NoError(t, o.EnqueueMessage(msg))

	require.Eventually(t, func() bool { return len(seen.list()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, Delivered, seen.list()[0].Kind)
}

func TestStop(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(3))
	require.NoError(t, o.RegisterAgent(&fakeAgent{name: "echo"}))

	require.NoError(t, o.Stop(context.Background()))
	require.NoError(t, o.Stop(context.Background()))

	err := o.ProcessMessage(context.Background(), ping("echo"))
	assert.True(t, agenterrors.Is(err, agenterrors.KindOperation))
}

func TestStopInterruptsBlockedDelivery(t *testing.T) {
	o, seen := newTestOrchestrator(t, testConfig(1))
	require.NoError(t, o.RegisterAgent(&fakeAgent{name: "stuck", fn: func(ctx context.Context, _ *proto.Message, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	require.NoError(t, o.ProcessMessage(context.Background(), ping("stuck")))
	require.NoError(t, o.ProcessMessage(context.Background(), ping("stuck")))
	require.Eventually(t, func() bool { return o.GetQueueStats().Total == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Stop(ctx))

	assert.Zero(t, o.GetQueueStats().Total)
	kinds := seen.kinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, "dropped:shutdown", kinds[0])
}
