package dispatch

import (
	"time"

	"switchboard/pkg/agent"
	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/health"
)

// HealthStatus is the coarse health label reported for an agent.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult describes one registered agent.
type HealthCheckResult struct {
	LastCheck    time.Time          `json:"last_check"`
	LastActive   time.Time          `json:"last_active"`
	Name         string             `json:"name"`
	Status       HealthStatus       `json:"status"`
	State        agent.State        `json:"state"`
	CircuitState string             `json:"circuit_state"`
	Metrics      health.MetricsData `json:"metrics"`
	ErrorCount   int                `json:"error_count"`
	Healthy      bool               `json:"healthy"`
}

// IsAgentHealthy reports whether messages for name may be routed now. The circuit breaker
// is the single authority: an agent is healthy unless its circuit is OPEN and still
// cooling down. Unknown agents are unhealthy.
func (o *Orchestrator) IsAgentHealthy(name string) bool {
	info, ok := o.lookup(name)
	if !ok {
		return false
	}
	return info.breaker.CanAttempt()
}

// GetAgentHealth returns health details for name. An agent that is routable but in the
// ERROR state, or idle for longer than the agent timeout, is reported as degraded.
func (o *Orchestrator) GetAgentHealth(name string) (HealthCheckResult, error) {
	info, ok := o.lookup(name)
	if !ok {
		return HealthCheckResult{}, agenterrors.Validation("agent health", "agent %s is not registered", name)
	}

	now := o.now()
	state, lastActive, errorCount := info.snapshot()
	if own := info.agent.LastActiveTime(); own.After(lastActive) {
		lastActive = own
	}

	result := HealthCheckResult{
		Name:         name,
		Healthy:      info.breaker.CanAttempt(),
		State:        state,
		CircuitState: info.breaker.State().String(),
		ErrorCount:   errorCount,
		LastActive:   lastActive,
		LastCheck:    now,
		Metrics:      info.metrics.Snapshot(),
	}

	switch {
	case !result.Healthy:
		result.Status = StatusUnhealthy
	case state == agent.StateError || now.Sub(lastActive) > o.config.Agent.Timeout():
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}
	return result, nil
}

// GetAllAgentHealth returns health details for every registered agent, sorted by name.
func (o *Orchestrator) GetAllAgentHealth() []HealthCheckResult {
	names := o.RegisteredAgents()
	results := make([]HealthCheckResult, 0, len(names))
	for _, name := range names {
		if r, err := o.GetAgentHealth(name); err == nil {
			results = append(results, r)
		}
	}
	return results
}

// ResetAgent closes the agent's circuit, clears its error count and health metrics.
func (o *Orchestrator) ResetAgent(name string) error {
	info, ok := o.lookup(name)
	if !ok {
		return agenterrors.Validation("reset agent", "agent %s is not registered", name)
	}
	info.breaker.Reset()
	info.metrics.Reset()
	info.mu.Lock()
	info.errorCount = 0
	info.state = agent.StateIdle
	info.mu.Unlock()
	o.Logger().Info("reset health of agent %s", name)
	return nil
}
