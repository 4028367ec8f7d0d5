package dispatch

import (
	"time"

	"switchboard/pkg/persistence"
)

// OutcomeKind says what the drain loop did with a message.
type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	Requeued
	Dropped
)

func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return persistence.OutcomeDelivered
	case Requeued:
		return persistence.OutcomeRequeued
	case Dropped:
		return persistence.OutcomeDropped
	default:
		return "unknown"
	}
}

// DropReason explains a Dropped outcome.
type DropReason string

const (
	DropUnknownTarget  DropReason = "unknown_target"
	DropUnhealthy      DropReason = "unhealthy"
	DropDeliveryFailed DropReason = "delivery_failed"
	DropShutdown       DropReason = "shutdown"
)

// DeliveryOutcome is the result of one drain-loop step.
type DeliveryOutcome struct {
	At       time.Time
	Err      error // set for DropDeliveryFailed
	Item     *QueueItem
	Agent    string
	Reason   DropReason // empty unless Kind is Dropped
	Kind     OutcomeKind
	Attempts int
	Duration time.Duration
}

// Observer is notified of every outcome, in order, from the drain loop goroutine.
type Observer func(DeliveryOutcome)

func (o DeliveryOutcome) record() persistence.OutcomeRecord {
	rec := persistence.OutcomeRecord{
		RecordedAt:  o.At,
		MessageID:   o.Item.Message.ID,
		MessageType: o.Item.Message.Type.String(),
		Agent:       o.Agent,
		Outcome:     o.Kind.String(),
		Reason:      string(o.Reason),
		Attempts:    o.Attempts,
		Requeues:    o.Item.Requeues,
		Duration:    o.Duration,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}
