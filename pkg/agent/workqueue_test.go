package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/agent/agenterrors"
)

func TestWorkQueuePriorityOrderIsStable(t *testing.T) {
	q := NewWorkQueue(10)

	low := testMessage(intPtr(1))
	highA := testMessage(intPtr(3))
	highB := testMessage(intPtr(3))
	mid := testMessage(intPtr(2))
	none := testMessage(nil)

	require.NoError(t, q.Enqueue(low))
	require.NoError(t, q.Enqueue(highA))
	require.NoError(t, q.Enqueue(none))
	require.NoError(t, q.Enqueue(highB))
	require.NoError(t, q.Enqueue(mid))

	got := q.Snapshot()
	require.Len(t, got, 5)
	assert.Equal(t, highA.ID, got[0].ID)
	assert.Equal(t, highB.ID, got[1].ID)
	assert.Equal(t, mid.ID, got[2].ID)
	assert.Equal(t, low.ID, got[3].ID)
	assert.Equal(t, none.ID, got[4].ID)
}

func TestWorkQueueFull(t *testing.T) {
	q := NewWorkQueue(2)
	require.NoError(t, q.Enqueue(testMessage(nil)))
	require.NoError(t, q.Enqueue(testMessage(nil)))

	err := q.Enqueue(testMessage(intPtr(9)))
	require.Error(t, err)
	assert.True(t, agenterrors.Is(err, agenterrors.KindQueueFull))
	assert.Equal(t, 2, q.Len())
}

func TestWorkQueueDrainFlag(t *testing.T) {
	q := NewWorkQueue(5)
	require.NoError(t, q.Enqueue(testMessage(nil)))

	gen, ok := q.claim()
	assert.True(t, ok)
	_, ok = q.claim()
	assert.False(t, ok, "second claim while draining")
	assert.True(t, q.IsProcessing())

	_, ok = q.next(gen)
	assert.True(t, ok)
	_, ok = q.next(gen)
	assert.False(t, ok)
	assert.False(t, q.IsProcessing(), "flag clears once empty")
}

func TestWorkQueueClear(t *testing.T) {
	q := NewWorkQueue(5)
	require.NoError(t, q.Enqueue(testMessage(nil)))
	require.NoError(t, q.Enqueue(testMessage(nil)))
	q.claim()

	q.Clear()
	assert.Zero(t, q.Len())
	assert.False(t, q.IsProcessing())
}

func TestWorkQueueClearRetiresRunningDrain(t *testing.T) {
	q := NewWorkQueue(5)
	require.NoError(t, q.Enqueue(testMessage(nil)))
	stale, ok := q.claim()
	require.True(t, ok)

	q.Clear()
	require.NoError(t, q.Enqueue(testMessage(nil)))
	current, ok := q.claim()
	require.True(t, ok)
	assert.NotEqual(t, stale, current)

	_, ok = q.next(stale)
	assert.False(t, ok, "a drain from before Clear gets nothing")
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.IsProcessing(), "the current drain keeps the flag")

	_, ok = q.next(current)
	assert.True(t, ok)
}
