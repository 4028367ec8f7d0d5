// Package registry is the directory of running agents. It builds the orchestrator and the
// workers, wires worker message types into the orchestrator's routing table, caps the number
// of agents and periodically snapshots each agent's state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"switchboard/pkg/agent"
	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/dispatch"
	"switchboard/pkg/logx"
	"switchboard/pkg/metrics"
	"switchboard/pkg/persistence"
	"switchboard/pkg/proto"
	"switchboard/pkg/workers"
)

// Defaults.
const (
	DefaultMaxAgents           = 10
	DefaultHealthCheckInterval = time.Second
)

// Config bounds the registry.
type Config struct {
	MaxAgents           int           `yaml:"max_agents" json:"max_agents" validate:"gte=0"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" validate:"gte=0"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{MaxAgents: DefaultMaxAgents, HealthCheckInterval: DefaultHealthCheckInterval}
}

// SnapshotJournal persists registry snapshots.
type SnapshotJournal interface {
	RecordSnapshot(ctx context.Context, rec persistence.SnapshotRecord) error
}

// Routable is implemented by agents that declare the message types they serve.
type Routable interface {
	MessageTypes() []proto.MsgType
}

// Snapshot is the registry's coarse view of one agent. It is refreshed on a timer and may
// briefly disagree with the orchestrator's own bookkeeping.
type Snapshot struct {
	LastActive time.Time   `json:"last_active"`
	TakenAt    time.Time   `json:"taken_at"`
	Name       string      `json:"name"`
	State      agent.State `json:"state"`
}

// Registry owns the agents of one process or test.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Registry struct {
	config     Config
	orchConfig dispatch.Config
	orchOpts   []dispatch.Option
	factory    *workers.Factory
	specs      []workers.Spec
	journal    SnapshotJournal
	recorder   metrics.Recorder
	now        func() time.Time
	logger     *logx.Logger

	mu           sync.RWMutex
	agents       map[string]agent.Agent
	snapshots    map[string]Snapshot
	orchestrator *dispatch.Orchestrator

	loopMu sync.Mutex
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithOrchestrator sets the config and options used to build the orchestrator.
func WithOrchestrator(cfg dispatch.Config, opts ...dispatch.Option) Option {
	return func(r *Registry) {
		r.orchConfig = cfg
		r.orchOpts = opts
	}
}

// WithWorkers sets the workers built by InitializeCoreAgents, replacing the defaults.
func WithWorkers(specs ...workers.Spec) Option {
	return func(r *Registry) { r.specs = specs }
}

// WithFactory sets the factory that builds workers.
func WithFactory(f *workers.Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithJournal records every snapshot.
func WithJournal(j SnapshotJournal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithRecorder reports the registry size.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithClock overrides the snapshot time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry. Zero limits take the defaults.
func New(cfg Config, opts ...Option) *Registry {
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}

	r := &Registry{
		config:     cfg,
		orchConfig: dispatch.DefaultConfig(),
		specs:      workers.DefaultSpecs(),
		recorder:   metrics.Nop{},
		now:        time.Now,
		logger:     logx.NewLogger("registry"),
		agents:     make(map[string]agent.Agent),
		snapshots:  make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = workers.NewFactory()
	}
	return r
}

// Config returns the registry limits.
func (r *Registry) Config() Config { return r.config }

// InitializeCoreAgents replaces every registered agent: it stops any previous orchestrator,
// clears the directory, builds and registers a new orchestrator, then builds and registers
// each worker and finally routes each worker's message types to it.
func (r *Registry) InitializeCoreAgents(ctx context.Context) error {
	r.mu.Lock()
	previous := r.orchestrator
	r.orchestrator = nil
	r.agents = make(map[string]agent.Agent)
	r.snapshots = make(map[string]Snapshot)
	r.mu.Unlock()

	if previous != nil {
		if err := previous.Stop(ctx); err != nil {
			r.logger.Warn("previous orchestrator did not stop cleanly: %v", err)
		}
	}

	orch, err := dispatch.NewOrchestrator(r.orchConfig, r.orchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	built := make([]*workers.Worker, 0, len(r.specs))
	for _, spec := range r.specs {
		w, err := r.factory.Build(spec)
		if err != nil {
			_ = orch.Stop(ctx)
			return err
		}
		built = append(built, w)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.installLocked(orch, built); err != nil {
		r.orchestrator = nil
		r.agents = make(map[string]agent.Agent)
		r.recorder.SetRegisteredAgents(0)
		_ = orch.Stop(ctx)
		return err
	}

	r.recorder.SetRegisteredAgents(len(r.agents))
	r.logger.Info("initialized %d agents: %v", len(r.agents), r.namesLocked())
	return nil
}

// installLocked registers orch and the workers and routes each worker's message types.
// On error the caller discards the partially filled directory. r.mu must be held.
func (r *Registry) installLocked(orch *dispatch.Orchestrator, built []*workers.Worker) error {
	if err := r.addLocked(orch.Name(), orch); err != nil {
		return err
	}
	r.orchestrator = orch

	for _, w := range built {
		if err := r.addLocked(w.Name(), w); err != nil {
			return err
		}
	}
	for _, w := range built {
		if err := orch.RegisterAgent(w, w.MessageTypes()...); err != nil {
			return fmt.Errorf("failed to route %s: %w", w.Name(), err)
		}
	}
	return nil
}

// RegisterAgent adds ag under name. It fails on a nil agent, a duplicate name or a full
// registry. Once the orchestrator exists, a Routable agent is also made routable.
func (r *Registry) RegisterAgent(name string, ag agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.addLocked(name, ag); err != nil {
		return err
	}

	if r.orchestrator != nil && ag != agent.Agent(r.orchestrator) {
		var types []proto.MsgType
		if routable, ok := ag.(Routable); ok {
			types = routable.MessageTypes()
		}
		if err := r.orchestrator.RegisterAgent(ag, types...); err != nil {
			delete(r.agents, name)
			return fmt.Errorf("failed to route %s: %w", name, err)
		}
	}

	r.recorder.SetRegisteredAgents(len(r.agents))
	r.logger.Info("registered agent %s (%d/%d)", name, len(r.agents), r.config.MaxAgents)
	return nil
}

func (r *Registry) addLocked(name string, ag agent.Agent) error {
	if ag == nil {
		return agenterrors.Validation("register agent", "agent %q is nil", name)
	}
	if name == "" {
		return agenterrors.Validation("register agent", "agent name is required")
	}
	if _, exists := r.agents[name]; exists {
		return agenterrors.Validation("register agent", "agent %s is already registered", name)
	}
	if len(r.agents) >= r.config.MaxAgents {
		return agenterrors.Newf(agenterrors.KindOperation, "register agent",
			"registry is full (max %d agents)", r.config.MaxAgents)
	}
	r.agents[name] = ag
	return nil
}

// UnregisterAgent removes a worker from the directory and from routing. The orchestrator
// itself is only removed by Dispose.
func (r *Registry) UnregisterAgent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return agenterrors.Validation("unregister agent", "agent %s is not registered", name)
	}
	if r.orchestrator != nil && name == r.orchestrator.Name() {
		return agenterrors.Validation("unregister agent", "the orchestrator cannot be unregistered")
	}

	delete(r.agents, name)
	delete(r.snapshots, name)
	if r.orchestrator != nil {
		if err := r.orchestrator.UnregisterAgent(name); err != nil && !agenterrors.Is(err, agenterrors.KindValidation) {
			return err //nolint:wrapcheck // Already classified
		}
	}
	r.recorder.SetRegisteredAgents(len(r.agents))
	r.logger.Info("unregistered agent %s", name)
	return nil
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[name]
	return ag, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Orchestrator returns the orchestrator, or nil before InitializeCoreAgents.
func (r *Registry) Orchestrator() *dispatch.Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orchestrator
}

// ErrNotInitialized is returned by Submit before InitializeCoreAgents.
var ErrNotInitialized = errors.New("registry has no orchestrator")

// Submit hands msg to the orchestrator.
func (r *Registry) Submit(ctx context.Context, msg *proto.Message) error {
	orch := r.Orchestrator()
	if orch == nil {
		return agenterrors.Wrap(agenterrors.KindOperation, "submit", ErrNotInitialized, "")
	}
	return orch.ProcessMessage(ctx, msg) //nolint:wrapcheck // Classified by the orchestrator
}
