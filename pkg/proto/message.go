// Package proto defines the message contract routed between agents: the message envelope,
// its typed payload union and the priority tiers used for dispatch ordering.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"switchboard/pkg/agent/agenterrors"
)

// MsgType names the kind of work a message requests. The set is open: the core routes
// any non-empty type, and the types below additionally carry a typed payload.
type MsgType string

const (
	MsgTypeVersionCheck MsgType = "VERSION_CHECK" // Check an installed version against a constraint
	MsgTypeLintReport   MsgType = "LINT_REPORT"   // Format a set of lint findings
	MsgTypeBuildDeploy  MsgType = "BUILD_DEPLOY"  // Run a build followed by a deploy
)

// String returns the string representation of MsgType.
func (mt MsgType) String() string {
	return string(mt)
}

// ParseMsgType normalizes a message type string. Unknown but well-formed types are accepted.
func ParseMsgType(s string) (MsgType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return "", fmt.Errorf("message type is empty")
	}
	return MsgType(normalized), nil
}

// Tier is a coarse priority bucket determining dispatch precedence.
type Tier int

const (
	TierHigh Tier = iota
	TierNormal
	TierLow
)

// String returns the tier label used in stats and metrics.
func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	default:
		return "low"
	}
}

// TierFor maps an optional numeric priority to its tier: above 5 is high, above 2 is
// normal, anything else (including no priority) is low.
func TierFor(priority *int) Tier {
	switch {
	case priority == nil:
		return TierLow
	case *priority > 5:
		return TierHigh
	case *priority > 2:
		return TierNormal
	default:
		return TierLow
	}
}

// Message is the unit of work routed to an agent.
type Message struct {
	ID          string   `json:"id" validate:"required"`
	Type        MsgType  `json:"type" validate:"required"`
	TargetAgent string   `json:"target_agent" validate:"required"`
	Payload     *Payload `json:"payload" validate:"required"`
	Priority    *int     `json:"priority,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty" validate:"gte=0"` // unix milliseconds, 0 when absent
}

//nolint:gochecknoglobals // validator caches struct metadata and is safe for concurrent use
var validate = validator.New(validator.WithRequiredStructEnabled())

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(msgType MsgType, targetAgent string, payload *Payload) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Type:        msgType,
		TargetAgent: targetAgent,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// WithPriority sets the message priority and returns the message for chaining.
func (msg *Message) WithPriority(priority int) *Message {
	msg.Priority = &priority
	return msg
}

// PriorityValue returns the numeric priority, or 0 when none was given.
func (msg *Message) PriorityValue() int {
	if msg.Priority == nil {
		return 0
	}
	return *msg.Priority
}

// Tier returns the dispatch tier of the message.
func (msg *Message) Tier() Tier {
	return TierFor(msg.Priority)
}

// Validate checks the envelope and, for recognized types, that the payload kind matches
// the type and decodes into a valid payload. All failures are VALIDATION errors.
func (msg *Message) Validate() error {
	if msg == nil {
		return agenterrors.Validation("message", "message is nil")
	}
	if err := validate.Struct(msg); err != nil {
		return agenterrors.Wrap(agenterrors.KindValidation, "message", err, describeValidation(err))
	}
	if msg.Payload.Kind == "" {
		return agenterrors.Validation("message", "payload kind is required")
	}

	expected, recognized := PayloadKindFor(msg.Type)
	if !recognized {
		return nil
	}
	if msg.Payload.Kind != expected {
		return agenterrors.Validation("message", "message type %s requires payload kind %s, got %s",
			msg.Type, expected, msg.Payload.Kind)
	}
	if err := msg.Payload.check(); err != nil {
		return agenterrors.Wrap(agenterrors.KindValidation, "message", err, "invalid payload")
	}
	return nil
}

// Clone returns a copy of the message that shares the (immutable) payload data.
func (msg *Message) Clone() *Message {
	clone := *msg
	if msg.Priority != nil {
		p := *msg.Priority
		clone.Priority = &p
	}
	if msg.Payload != nil {
		payload := *msg.Payload
		clone.Payload = &payload
	}
	return &clone
}

// ToJSON serializes the message.
func (msg *Message) ToJSON() ([]byte, error) {
	return json.Marshal(msg)
}

// FromJSON parses a message from its JSON encoding.
func FromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Message: %w", err)
	}
	return &msg, nil
}

// String returns a short description for logs.
func (msg *Message) String() string {
	return fmt.Sprintf("%s(%s → %s, priority=%d)", msg.Type, msg.ID, msg.TargetAgent, msg.PriorityValue())
}

// describeValidation flattens validator field errors into one readable line.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the concrete type
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
