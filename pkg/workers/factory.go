package workers

import (
	"fmt"
	"io"
	"time"

	"switchboard/pkg/agent"
	"switchboard/pkg/logx"
	"switchboard/pkg/proto"
)

// Spec describes one worker to build.
type Spec struct {
	Kind  Kind         `yaml:"kind" json:"kind" validate:"required,oneof=version lint build"`
	Agent agent.Config `yaml:"agent" json:"agent"`
}

// DefaultSpecs returns one worker of each kind with default limits, named after its kind.
func DefaultSpecs() []Spec {
	return []Spec{
		{Kind: KindVersion, Agent: agent.NewConfig(string(KindVersion))},
		{Kind: KindLint, Agent: agent.NewConfig(string(KindLint))},
		{Kind: KindBuild, Agent: agent.NewConfig(string(KindBuild))},
	}
}

// Factory builds workers from specs. All workers built by one factory share its result
// sink, report writer and clock.
type Factory struct {
	sink    ResultSink
	out     io.Writer
	colored bool
	now     func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithResultSink forwards every worker result to sink.
func WithResultSink(sink ResultSink) FactoryOption {
	return func(f *Factory) { f.sink = sink }
}

// WithReportOutput sets where lint reports are written and whether they are coloured.
func WithReportOutput(w io.Writer, colored bool) FactoryOption {
	return func(f *Factory) {
		f.out = w
		f.colored = colored
	}
}

// WithFactoryClock overrides the time source of the built workers.
func WithFactoryClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// NewFactory creates a worker factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	f.out = writerOrDiscard(f.out)
	return f
}

// Build creates the worker described by spec. An empty agent name defaults to the kind.
func (f *Factory) Build(spec Spec) (*Worker, error) {
	cfg := spec.Agent
	if cfg.Name == "" {
		cfg.Name = string(spec.Kind)
	}
	em := emitter{sink: f.sink, now: f.now, name: cfg.Name}

	var (
		handler agent.Handler
		types   []proto.MsgType
	)
	switch spec.Kind {
	case KindVersion:
		handler = &versionHandler{emitter: em}
		types = []proto.MsgType{proto.MsgTypeVersionCheck}
	case KindLint:
		handler = &lintHandler{emitter: em, out: f.out, colored: f.colored}
		types = []proto.MsgType{proto.MsgTypeLintReport}
	case KindBuild:
		handler = &buildHandler{emitter: em, logger: logx.NewLogger(cfg.Name)}
		types = []proto.MsgType{proto.MsgTypeBuildDeploy}
	default:
		return nil, fmt.Errorf("unknown worker kind: %q", spec.Kind)
	}

	base, err := agent.NewBaseAgent(cfg, handler, agent.WithClock(f.now))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s worker: %w", spec.Kind, err)
	}
	return &Worker{BaseAgent: base, kind: spec.Kind, types: types}, nil
}
