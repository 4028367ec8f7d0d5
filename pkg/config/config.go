// Package config loads switchboard configuration.
//
// Values are resolved in this order:
//
//  1. Built-in defaults (Default).
//  2. The YAML file, when one is given. Unknown keys are rejected.
//  3. Environment overrides, one prefix per section: SWITCHBOARD_AGENT_*, SWITCHBOARD_ORCHESTRATOR_*,
//     SWITCHBOARD_REGISTRY_*, SWITCHBOARD_JOURNAL_*, SWITCHBOARD_EVENTLOG_*, SWITCHBOARD_METRICS_*
//     and SWITCHBOARD_TRACING_*. Workers are only configurable in the file.
//  4. Validation. An invalid configuration is never returned.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"switchboard/pkg/agent"
	"switchboard/pkg/dispatch"
	"switchboard/pkg/registry"
	"switchboard/pkg/telemetry"
	"switchboard/pkg/workers"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWITCHBOARD"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// AgentSection holds the limits shared by every agent. MaxRetries and TimeoutMs also drive
// the orchestrator's retry budget and circuit breakers.
type AgentSection struct {
	MaxRetries         int `yaml:"max_retries" split_words:"true" validate:"gte=0"`
	MaxQueueSize       int `yaml:"max_queue_size" split_words:"true" validate:"gte=1"`
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" split_words:"true" validate:"gte=1"`
	TimeoutMs          int `yaml:"timeout_ms" split_words:"true" validate:"gte=1"`
}

// OrchestratorSection configures the dispatch loop.
type OrchestratorSection struct {
	MaxQueueSize   int           `yaml:"max_queue_size" split_words:"true" validate:"gte=1"`
	RetryDelay     time.Duration `yaml:"retry_delay" split_words:"true" validate:"gt=0"`
	RoutingTimeout time.Duration `yaml:"routing_timeout" split_words:"true" validate:"gte=0"`
}

// RegistrySection configures the agent directory.
type RegistrySection struct {
	MaxAgents           int           `yaml:"max_agents" split_words:"true" validate:"gte=1"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" split_words:"true" validate:"gt=0"`
}

// JournalSection configures the SQLite delivery journal.
type JournalSection struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Path    string `yaml:"path" split_words:"true" validate:"required_if=Enabled true"`
}

// EventLogSection configures the JSONL log of accepted messages.
type EventLogSection struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Dir     string `yaml:"dir" split_words:"true" validate:"required_if=Enabled true"`
}

// MetricsSection configures Prometheus metrics. PrometheusURL is only used by the stats
// command to query a server that scrapes switchboard.
type MetricsSection struct {
	Enabled       bool   `yaml:"enabled" split_words:"true"`
	PrometheusURL string `yaml:"prometheus_url" split_words:"true" validate:"omitempty,url"`
}

// WorkerSection declares one worker. Zero limits inherit the agent section.
type WorkerSection struct {
	Kind         workers.Kind `yaml:"kind" validate:"required,oneof=version lint build"`
	Name         string       `yaml:"name"`
	MaxQueueSize int          `yaml:"max_queue_size" validate:"gte=0"`
	TimeoutMs    int          `yaml:"timeout_ms" validate:"gte=0"`
}

// Config is the complete switchboard configuration.
type Config struct {
	Agent        AgentSection        `yaml:"agent"`
	Orchestrator OrchestratorSection `yaml:"orchestrator"`
	Registry     RegistrySection     `yaml:"registry"`
	Journal      JournalSection      `yaml:"journal"`
	EventLog     EventLogSection     `yaml:"eventlog"`
	Metrics      MetricsSection      `yaml:"metrics"`
	Tracing      telemetry.Config    `yaml:"tracing"`
	Workers      []WorkerSection     `yaml:"workers" validate:"dive"`
}

// Default returns the built-in configuration: one worker of each kind, metrics on,
// journal, event log and tracing off.
func Default() *Config {
	return &Config{
		Agent: AgentSection{
			MaxRetries:         agent.DefaultMaxRetries,
			MaxQueueSize:       agent.DefaultMaxQueueSize,
			MaxConcurrentTasks: agent.DefaultMaxConcurrentTasks,
			TimeoutMs:          agent.DefaultTimeoutMs,
		},
		Orchestrator: OrchestratorSection{
			MaxQueueSize: agent.DefaultMaxQueueSize,
			RetryDelay:   dispatch.DefaultRetryDelay,
		},
		Registry: RegistrySection{
			MaxAgents:           registry.DefaultMaxAgents,
			HealthCheckInterval: registry.DefaultHealthCheckInterval,
		},
		Journal:  JournalSection{Path: "switchboard.db"},
		EventLog: EventLogSection{Dir: "logs"},
		Metrics:  MetricsSection{Enabled: true},
		Tracing: telemetry.Config{
			Exporter:     telemetry.ExporterStdout,
			SamplingRate: 1,
			ServiceName:  "switchboard",
		},
		Workers: []WorkerSection{
			{Kind: workers.KindVersion},
			{Kind: workers.KindLint},
			{Kind: workers.KindBuild},
		},
	}
}

// applyDefaults fills values a partial file left at zero.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Agent.MaxQueueSize == 0 {
		cfg.Agent.MaxQueueSize = def.Agent.MaxQueueSize
	}
	if cfg.Agent.MaxConcurrentTasks == 0 {
		cfg.Agent.MaxConcurrentTasks = def.Agent.MaxConcurrentTasks
	}
	if cfg.Agent.TimeoutMs == 0 {
		cfg.Agent.TimeoutMs = def.Agent.TimeoutMs
	}
	if cfg.Orchestrator.MaxQueueSize == 0 {
		cfg.Orchestrator.MaxQueueSize = def.Orchestrator.MaxQueueSize
	}
	if cfg.Orchestrator.RetryDelay == 0 {
		cfg.Orchestrator.RetryDelay = def.Orchestrator.RetryDelay
	}
	if cfg.Registry.MaxAgents == 0 {
		cfg.Registry.MaxAgents = def.Registry.MaxAgents
	}
	if cfg.Registry.HealthCheckInterval == 0 {
		cfg.Registry.HealthCheckInterval = def.Registry.HealthCheckInterval
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = def.Tracing.Exporter
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = def.Tracing.ServiceName
	}
	for i := range cfg.Workers {
		if cfg.Workers[i].Name == "" {
			cfg.Workers[i].Name = string(cfg.Workers[i].Kind)
		}
	}
}

//nolint:gochecknoglobals // validator caches struct metadata and is safe for concurrent use
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, unique worker names and that the registry can hold
// every worker plus the orchestrator.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s fails '%s'", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		name := w.Name
		if name == "" {
			name = string(w.Kind)
		}
		if name == dispatch.DefaultName {
			return fmt.Errorf("%w: worker name %q is reserved", ErrInvalid, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate worker name %q", ErrInvalid, name)
		}
		seen[name] = true
	}
	if len(c.Workers)+1 > c.Registry.MaxAgents {
		return fmt.Errorf("%w: %d workers plus the orchestrator exceed registry.max_agents=%d",
			ErrInvalid, len(c.Workers), c.Registry.MaxAgents)
	}
	return nil
}

// DispatchConfig returns the orchestrator configuration.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Agent: agent.Config{
			Name:               dispatch.DefaultName,
			MaxRetries:         c.Agent.MaxRetries,
			MaxQueueSize:       c.Orchestrator.MaxQueueSize,
			MaxConcurrentTasks: 1,
			TimeoutMs:          c.Agent.TimeoutMs,
		},
		RetryDelay:     c.Orchestrator.RetryDelay,
		RoutingTimeout: c.Orchestrator.RoutingTimeout,
	}
}

// RegistryConfig returns the registry limits.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		MaxAgents:           c.Registry.MaxAgents,
		HealthCheckInterval: c.Registry.HealthCheckInterval,
	}
}

// WorkerSpecs returns one spec per configured worker with inherited limits.
func (c *Config) WorkerSpecs() []workers.Spec {
	specs := make([]workers.Spec, 0, len(c.Workers))
	for _, w := range c.Workers {
		cfg := agent.Config{
			Name:               w.Name,
			MaxRetries:         c.Agent.MaxRetries,
			MaxQueueSize:       c.Agent.MaxQueueSize,
			MaxConcurrentTasks: c.Agent.MaxConcurrentTasks,
			TimeoutMs:          c.Agent.TimeoutMs,
		}
		if cfg.Name == "" {
			cfg.Name = string(w.Kind)
		}
		if w.MaxQueueSize > 0 {
			cfg.MaxQueueSize = w.MaxQueueSize
		}
		if w.TimeoutMs > 0 {
			cfg.TimeoutMs = w.TimeoutMs
		}
		specs = append(specs, workers.Spec{Kind: w.Kind, Agent: cfg})
	}
	return specs
}
