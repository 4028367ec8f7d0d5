package agent

import (
	"sync"

	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/proto"
)

// WorkQueue is an agent's private, priority-ordered backlog. Higher priorities are placed
// ahead of lower ones; equal priorities keep arrival order.
type WorkQueue struct {
	mu         sync.Mutex
	items      []*proto.Message
	max        int
	processing bool
	generation uint64 // bumped by Clear; a drain from an older generation stops
}

// NewWorkQueue creates a queue holding at most max messages.
func NewWorkQueue(max int) *WorkQueue {
	if max <= 0 {
		max = DefaultMaxQueueSize
	}
	return &WorkQueue{max: max}
}

// Enqueue inserts msg after every queued message of equal or higher priority.
func (q *WorkQueue) Enqueue(msg *proto.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.max {
		return agenterrors.QueueFull("work queue", q.max)
	}

	p := msg.PriorityValue()
	pos := len(q.items)
	for i, queued := range q.items {
		if queued.PriorityValue() < p {
			pos = i
			break
		}
	}

	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = msg
	return nil
}

// claim marks the queue as draining and returns the drain's generation. It returns false
// if a drain is already running.
func (q *WorkQueue) claim() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing {
		return 0, false
	}
	q.processing = true
	return q.generation, true
}

// next pops the head of the queue for the drain of the given generation. When the queue
// is empty it clears the processing flag in the same critical section, so an Enqueue
// racing with the end of a drain always sees either a running drain or a free flag.
// A drain outlived by Clear gets nothing and leaves the flag to its successor.
func (q *WorkQueue) next(generation uint64) (*proto.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if generation != q.generation {
		return nil, false
	}
	if len(q.items) == 0 {
		q.processing = false
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg, true
}

// Len returns the number of queued messages.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsProcessing reports whether a drain is in progress.
func (q *WorkQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Clear drops all queued messages and resets the processing flag. A drain that is still
// handling a message stops once that message is done.
func (q *WorkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.processing = false
	q.generation++
}

// Snapshot returns the queued messages in processing order.
func (q *WorkQueue) Snapshot() []*proto.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*proto.Message, len(q.items))
	copy(out, q.items)
	return out
}
