package dispatch

import (
	"sync"
	"time"

	"switchboard/pkg/proto"
)

// QueueItem is a message waiting in the dispatch queue.
type QueueItem struct {
	EnqueuedAt time.Time
	Message    *proto.Message
	Requeues   int // times the drain loop has put the item back
}

// QueueStats summarizes the dispatch queue.
type QueueStats struct {
	Total        int  `json:"total"`
	High         int  `json:"high"`
	Normal       int  `json:"normal"`
	Low          int  `json:"low"`
	IsProcessing bool `json:"is_processing"`
}

// PriorityMessageQueue holds messages in three tiers. Dequeue serves high before normal
// before low, and FIFO within a tier.
type PriorityMessageQueue struct {
	mu         sync.Mutex
	tiers      [3][]*QueueItem // indexed by proto.Tier
	processing bool
	now        func() time.Time
}

// NewPriorityMessageQueue creates an empty queue.
func NewPriorityMessageQueue() *PriorityMessageQueue {
	return &PriorityMessageQueue{now: time.Now}
}

// Enqueue appends msg to the back of its tier.
func (q *PriorityMessageQueue) Enqueue(msg *proto.Message) *QueueItem {
	item := &QueueItem{Message: msg}
	q.push(item)
	return item
}

// Requeue puts item back at the end of its tier with a fresh timestamp and bumps its
// requeue count.
func (q *PriorityMessageQueue) Requeue(item *QueueItem) {
	item.Requeues++
	q.push(item)
}

func (q *PriorityMessageQueue) push(item *QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.EnqueuedAt = q.now()
	tier := item.Message.Tier()
	q.tiers[tier] = append(q.tiers[tier], item)
}

// Dequeue removes the oldest item of the highest non-empty tier.
func (q *PriorityMessageQueue) Dequeue() (*QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tiers {
		if len(q.tiers[i]) == 0 {
			continue
		}
		item := q.tiers[i][0]
		q.tiers[i][0] = nil
		q.tiers[i] = q.tiers[i][1:]
		return item, true
	}
	return nil, false
}

// Size returns the total number of queued items.
func (q *PriorityMessageQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

func (q *PriorityMessageQueue) sizeLocked() int {
	n := 0
	for i := range q.tiers {
		n += len(q.tiers[i])
	}
	return n
}

// Targets returns the target agent of every queued item, in dequeue order.
func (q *PriorityMessageQueue) Targets() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	targets := make([]string, 0, q.sizeLocked())
	for i := range q.tiers {
		for _, item := range q.tiers[i] {
			targets = append(targets, item.Message.TargetAgent)
		}
	}
	return targets
}

// Full reports whether the queue holds max or more items.
func (q *PriorityMessageQueue) Full(max int) bool {
	return q.Size() >= max
}

// SetProcessing records whether a drain loop is running.
func (q *PriorityMessageQueue) SetProcessing(processing bool) {
	q.mu.Lock()
	q.processing = processing
	q.mu.Unlock()
}

// IsProcessing reports whether a drain loop is running.
func (q *PriorityMessageQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Stats returns per-tier counts.
func (q *PriorityMessageQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Total:        q.sizeLocked(),
		High:         len(q.tiers[proto.TierHigh]),
		Normal:       len(q.tiers[proto.TierNormal]),
		Low:          len(q.tiers[proto.TierLow]),
		IsProcessing: q.processing,
	}
}

// Clear drops every queued item and returns how many were dropped.
func (q *PriorityMessageQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.sizeLocked()
	for i := range q.tiers {
		q.tiers[i] = nil
	}
	return n
}
