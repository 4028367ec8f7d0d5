// Package metrics records dispatch activity: delivery outcomes and latency, circuit
// transitions, queue depth and registry size.
package metrics

import "time"

// Recorder receives dispatch events. Implementations must be safe for concurrent use.
type Recorder interface {
	// ObserveAccepted counts a message accepted into the dispatch queue.
	ObserveAccepted(msgType string)
	// ObserveOutcome counts one drain-loop step for agent.
	ObserveOutcome(agent, outcome, reason string)
	// ObserveDelivery records the duration of a routing attempt sequence.
	ObserveDelivery(agent string, success bool, duration time.Duration)
	// ObserveCircuitTransition records a breaker state change.
	ObserveCircuitTransition(agent, from, to string)
	// SetQueueDepth reports the number of queued messages in a tier.
	SetQueueDepth(tier string, depth int)
	// SetRegisteredAgents reports how many agents the registry holds.
	SetRegisteredAgents(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveAccepted(string)                          {}
func (Nop) ObserveOutcome(string, string, string)           {}
func (Nop) ObserveDelivery(string, bool, time.Duration)     {}
func (Nop) ObserveCircuitTransition(string, string, string) {}
func (Nop) SetQueueDepth(string, int)                       {}
func (Nop) SetRegisteredAgents(int)                         {}
