// Package agent defines the capability contract every routed worker satisfies and the
// embeddable BaseAgent that implements its lifecycle.
package agent

import (
	"context"
	"time"

	"switchboard/pkg/proto"
)

// State is the lifecycle state of an agent.
type State int

const (
	StateIdle State = iota
	StateWorking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWorking:
		return "WORKING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Agent is anything the orchestrator can route messages to.
type Agent interface {
	Name() string
	State() State
	LastActiveTime() time.Time
	ProcessMessage(ctx context.Context, msg *proto.Message) error
}

// Handler performs an agent's actual work for one message. Implementations must return
// promptly once ctx is cancelled.
type Handler interface {
	HandleMessage(ctx context.Context, msg *proto.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *proto.Message) error

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *proto.Message) error {
	return f(ctx, msg)
}
