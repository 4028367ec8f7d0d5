// Package kernel wires the switchboard infrastructure from a loaded configuration: metrics,
// journal, event log and tracing around one registry, and tears it down in reverse order.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"switchboard/pkg/config"
	"switchboard/pkg/dispatch"
	"switchboard/pkg/eventlog"
	"switchboard/pkg/logx"
	"switchboard/pkg/metrics"
	"switchboard/pkg/persistence"
	"switchboard/pkg/proto"
	"switchboard/pkg/registry"
	"switchboard/pkg/telemetry"
	"switchboard/pkg/workers"
)

// Options controls where the kernel writes human-facing output.
type Options struct {
	ReportOutput io.Writer // Lint reports; discarded when nil
	TraceOutput  io.Writer // Stdout trace exporter; stderr when nil
	Observer     dispatch.Observer
	Colored      bool
}

// Kernel owns the long-lived services of one switchboard run.
type Kernel struct {
	Config   *config.Config
	Logger   *logx.Logger
	Registry *registry.Registry
	Results  *workers.Collector

	Metrics  *metrics.PrometheusRecorder // nil when metrics are disabled
	Journal  *persistence.Journal        // nil when the journal is disabled
	EventLog *eventlog.Writer            // nil when the event log is disabled
	Tracer   *telemetry.Tracer

	running bool
}

// New builds every service named by cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Kernel, error) {
	k := &Kernel{
		Config:  cfg,
		Logger:  logx.NewLogger("kernel"),
		Results: &workers.Collector{},
	}

	if err := k.initializeServices(opts); err != nil {
		k.closeServices(context.Background())
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices(opts Options) error {
	cfg := k.Config
	var err error

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		k.Metrics = metrics.NewPrometheusRecorder()
		recorder = k.Metrics
	}

	if cfg.Journal.Enabled {
		if k.Journal, err = persistence.Open(cfg.Journal.Path); err != nil {
			return err //nolint:wrapcheck // persistence names the operation
		}
	}

	if cfg.EventLog.Enabled {
		if k.EventLog, err = eventlog.NewWriter(cfg.EventLog.Dir); err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
	}

	traceOut := opts.TraceOutput
	if traceOut == nil {
		traceOut = os.Stderr
	}
	if k.Tracer, err = telemetry.New(cfg.Tracing, telemetry.WithWriter(traceOut)); err != nil {
		return err //nolint:wrapcheck // telemetry names the operation
	}

	orchOpts := []dispatch.Option{
		dispatch.WithRecorder(recorder),
		dispatch.WithTracer(k.Tracer.Tracer()),
	}
	regOpts := []registry.Option{
		registry.WithRecorder(recorder),
		registry.WithWorkers(cfg.WorkerSpecs()...),
		registry.WithFactory(workers.NewFactory(
			workers.WithResultSink(k.Results.Sink()),
			workers.WithReportOutput(opts.ReportOutput, opts.Colored),
		)),
	}
	if k.Journal != nil {
		orchOpts = append(orchOpts, dispatch.WithJournal(k.Journal))
		regOpts = append(regOpts, registry.WithJournal(k.Journal))
	}
	if k.EventLog != nil {
		orchOpts = append(orchOpts, dispatch.WithEventLog(k.EventLog))
	}
	if opts.Observer != nil {
		orchOpts = append(orchOpts, dispatch.WithObserver(opts.Observer))
	}
	regOpts = append(regOpts, registry.WithOrchestrator(cfg.DispatchConfig(), orchOpts...))

	k.Registry = registry.New(cfg.RegistryConfig(), regOpts...)
	k.Logger.Info("kernel services initialized (metrics=%v journal=%v eventlog=%v tracing=%v)",
		k.Metrics != nil, k.Journal != nil, k.EventLog != nil, cfg.Tracing.Enabled)
	return nil
}

// Start builds the agents and starts the snapshot loop.
func (k *Kernel) Start(ctx context.Context) error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}
	if err := k.Registry.InitializeCoreAgents(ctx); err != nil {
		return fmt.Errorf("failed to initialize agents: %w", err)
	}
	k.Registry.Start(ctx)
	k.running = true
	return nil
}

// Submit hands msg to the orchestrator.
func (k *Kernel) Submit(ctx context.Context, msg *proto.Message) error {
	return k.Registry.Submit(ctx, msg) //nolint:wrapcheck // Classified by the orchestrator
}

// Drain waits until every submitted message has been delivered, requeued to exhaustion
// or dropped.
func (k *Kernel) Drain(ctx context.Context) error {
	orch := k.Registry.Orchestrator()
	if orch == nil {
		return nil
	}
	return orch.Drain(ctx) //nolint:wrapcheck // Drain names itself
}

// Stop disposes the registry, then flushes and closes the tracer, event log and journal.
// A final snapshot is journaled before disposal.
func (k *Kernel) Stop(ctx context.Context) error {
	var errs []error
	if k.running {
		k.Registry.RefreshSnapshots(ctx)
		if err := k.Registry.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
		k.running = false
	}
	errs = append(errs, k.closeServices(ctx)...)
	return errors.Join(errs...)
}

func (k *Kernel) closeServices(ctx context.Context) []error {
	var errs []error
	if k.Tracer != nil {
		if err := k.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, logx.Wrap(err, "failed to flush traces"))
		}
		k.Tracer = nil
	}
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			errs = append(errs, logx.Wrap(err, "failed to close event log"))
		}
		k.EventLog = nil
	}
	if k.Journal != nil {
		if err := k.Journal.Close(); err != nil {
			errs = append(errs, logx.Wrap(err, "failed to close journal"))
		}
		k.Journal = nil
	}
	return errs
}
