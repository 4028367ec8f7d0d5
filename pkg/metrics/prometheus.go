package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metric names.
const (
	DeliveriesTotal         = "switchboard_deliveries_total"
	DeliveryDurationSeconds = "switchboard_delivery_duration_seconds"
	CircuitTransitionsTotal = "switchboard_circuit_transitions_total"
	CircuitState            = "switchboard_circuit_state"
	QueueDepth              = "switchboard_queue_depth"
	MessagesAcceptedTotal   = "switchboard_messages_accepted_total"
	RegisteredAgents        = "switchboard_registered_agents"
)

//nolint:gochecknoglobals // Fixed mapping of breaker states to gauge values
var circuitStateValue = map[string]float64{
	"CLOSED":    0,
	"HALF_OPEN": 1,
	"OPEN":      2,
}

// PrometheusRecorder implements Recorder on a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry           *prometheus.Registry
	acceptedTotal      *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	deliveryDuration   *prometheus.HistogramVec
	circuitTransitions *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	queueDepth         *prometheus.GaugeVec
	registeredAgents   prometheus.Gauge
}

// NewPrometheusRecorder creates a recorder with its own registry, so several recorders
// can coexist in one process (tests, multiple registries).
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		acceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MessagesAcceptedTotal,
				Help: "Messages accepted into the dispatch queue by message type",
			},
			[]string{"type"},
		),
		deliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: DeliveriesTotal,
				Help: "Drain loop outcomes by agent, outcome and drop reason",
			},
			[]string{"agent", "outcome", "reason"},
		),
		deliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    DeliveryDurationSeconds,
				Help:    "Time spent routing a message to an agent, including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent", "status"},
		),
		circuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: CircuitTransitionsTotal,
				Help: "Circuit breaker state transitions",
			},
			[]string{"agent", "from", "to"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: CircuitState,
				Help: "Current circuit state per agent (0=closed, 1=half-open, 2=open)",
			},
			[]string{"agent"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: QueueDepth,
				Help: "Messages waiting in the dispatch queue by tier",
			},
			[]string{"tier"},
		),
		registeredAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: RegisteredAgents,
				Help: "Agents currently held by the registry",
			},
		),
	}
}

// ObserveAccepted counts an accepted message.
func (p *PrometheusRecorder) ObserveAccepted(msgType string) {
	p.acceptedTotal.WithLabelValues(msgType).Inc()
}

// ObserveOutcome counts a drain-loop outcome.
func (p *PrometheusRecorder) ObserveOutcome(agent, outcome, reason string) {
	p.deliveriesTotal.WithLabelValues(agent, outcome, reason).Inc()
}

// ObserveDelivery records routing latency.
func (p *PrometheusRecorder) ObserveDelivery(agent string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.deliveryDuration.WithLabelValues(agent, status).Observe(duration.Seconds())
}

// ObserveCircuitTransition counts the transition and updates the state gauge.
func (p *PrometheusRecorder) ObserveCircuitTransition(agent, from, to string) {
	p.circuitTransitions.WithLabelValues(agent, from, to).Inc()
	if v, ok := circuitStateValue[to]; ok {
		p.circuitState.WithLabelValues(agent).Set(v)
	}
}

// SetQueueDepth updates the queue depth gauge for tier.
func (p *PrometheusRecorder) SetQueueDepth(tier string, depth int) {
	p.queueDepth.WithLabelValues(tier).Set(float64(depth))
}

// SetRegisteredAgents updates the registry size gauge.
func (p *PrometheusRecorder) SetRegisteredAgents(n int) {
	p.registeredAgents.Set(float64(n))
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// WriteText writes every metric in the Prometheus text exposition format.
func (p *PrometheusRecorder) WriteText(w io.Writer) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
