package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/proto"
)

func msgWithPriority(p *int) *proto.Message {
	msg := proto.NewMessage("PING", "echo", proto.NewGenericPayload(nil))
	msg.Priority = p
	return msg
}

func ptr(v int) *int { return &v }

func TestPriorityQueueOrder(t *testing.T) {
	q := NewPriorityMessageQueue()

	low := q.Enqueue(msgWithPriority(ptr(1)))
	normal := q.Enqueue(msgWithPriority(ptr(3)))
	high := q.Enqueue(msgWithPriority(ptr(7)))
	none := q.Enqueue(msgWithPriority(nil))
	normal2 := q.Enqueue(msgWithPriority(ptr(5)))

	var got []*QueueItem
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, item)
	}

	assert.Equal(t, []*QueueItem{high, normal, normal2, low, none}, got)
}

func TestPriorityQueueStats(t *testing.T) {
	q := NewPriorityMessageQueue()
	q.Enqueue(msgWithPriority(ptr(9)))
	q.Enqueue(msgWithPriority(ptr(4)))
	q.Enqueue(msgWithPriority(ptr(4)))
	q.Enqueue(msgWithPriority(nil))
	q.SetProcessing(true)

	stats := q.Stats()
	assert.Equal(t, QueueStats{Total: 4, High: 1, Normal: 2, Low: 1, IsProcessing: true}, stats)
	assert.Equal(t, 4, q.Size())
	assert.True(t, q.Full(4))
	assert.False(t, q.Full(5))
}

func TestRequeueGoesToBackOfTier(t *testing.T) {
	q := NewPriorityMessageQueue()
	first := q.Enqueue(msgWithPriority(ptr(4)))
	second := q.Enqueue(msgWithPriority(ptr(4)))

	item, ok := q.Dequeue()
	require.True(t, ok)
	require.Same(t, first, item)

	q.Requeue(item)
	assert.Equal(t, 1, item.Requeues)

	next, _ := q.Dequeue()
	last, _ := q.Dequeue()
	assert.Same(t, second, next)
	assert.Same(t, first, last)
}

func TestClear(t *testing.T) {
	q := NewPriorityMessageQueue()
	q.Enqueue(msgWithPriority(nil))
	q.Enqueue(msgWithPriority(ptr(8)))

	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Size())
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestTargetsFollowDequeueOrder(t *testing.T) {
	q := NewPriorityMessageQueue()
	assert.Empty(t, q.Targets())

	low := msgWithPriority(nil)
	low.TargetAgent = "lint"
	high := msgWithPriority(ptr(8))
	high.TargetAgent = "build"
	q.Enqueue(low)
	q.Enqueue(high)

	assert.Equal(t, []string{"build", "lint"}, q.Targets())
}
