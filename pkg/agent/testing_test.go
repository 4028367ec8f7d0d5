package agent

import (
	"switchboard/pkg/proto"
)

func testMessage(priority *int) *proto.Message {
	msg := proto.NewMessage("PING", "worker", proto.NewGenericPayload(map[string]any{"n": 1}))
	if priority != nil {
		msg.WithPriority(*priority)
	}
	return msg
}

func intPtr(v int) *int { return &v }
