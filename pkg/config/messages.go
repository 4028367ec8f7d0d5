package config

import (
	"encoding/json"
	"fmt"
	"os"

	"switchboard/pkg/proto"
)

// MessageFile is the YAML document accepted by `switchboard run --messages`.
//
//	messages:
//	  - type: VERSION_CHECK
//	    priority: 7
//	    payload: {package: react, installed: 18.2.0, constraint: ^18.0.0}
type MessageFile struct {
	Messages []MessageSpec `yaml:"messages"`
}

// MessageSpec is one message in a MessageFile. Payload is free-form YAML whose kind is
// inferred from the message type. ID defaults to a fresh UUID and Target to the agent
// routed for the type.
type MessageSpec struct {
	Payload  map[string]any `yaml:"payload"`
	Priority *int           `yaml:"priority"`
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Target   string         `yaml:"target"`
}

// LoadMessages reads and converts a message file. Messages are not validated here; the
// orchestrator validates them on submission.
func LoadMessages(path string) ([]*proto.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file: %w", err)
	}
	return ParseMessages(data)
}

// ParseMessages converts a YAML message document.
func ParseMessages(data []byte) ([]*proto.Message, error) {
	var file MessageFile
	if err := decodeYAML(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	msgs := make([]*proto.Message, 0, len(file.Messages))
	for i, spec := range file.Messages {
		msg, err := spec.toMessage()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i+1, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s MessageSpec) toMessage() (*proto.Message, error) {
	msgType, err := proto.ParseMsgType(s.Type)
	if err != nil {
		return nil, err //nolint:wrapcheck // Caller adds the position
	}

	kind, ok := proto.PayloadKindFor(msgType)
	if !ok {
		kind = proto.PayloadKindGeneric
	}
	if s.Payload == nil {
		s.Payload = map[string]any{}
	}
	raw, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON-compatible: %w", err)
	}

	msg := proto.NewMessage(msgType, s.Target, proto.NewRawPayload(kind, raw))
	if s.ID != "" {
		msg.ID = s.ID
	}
	msg.Priority = s.Priority
	return msg, nil
}
