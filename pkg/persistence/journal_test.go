package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestRecordAndQueryOutcomes(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()
	at := time.UnixMilli(1_760_000_000_000)

	require.NoError(t, j.RecordOutcome(ctx, OutcomeRecord{
		MessageID: "m1", MessageType: "VERSION_CHECK", Agent: "version",
		Outcome: OutcomeDelivered, Attempts: 1, Duration: 40 * time.Millisecond, RecordedAt: at,
	}))
	require.NoError(t, j.RecordOutcome(ctx, OutcomeRecord{
		MessageID: "m2", MessageType: "BUILD_DEPLOY", Agent: "build",
		Outcome: OutcomeDropped, Reason: "unhealthy", Requeues: 3, RecordedAt: at.Add(time.Second),
	}))

	got, err := j.Outcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "m2", got[0].MessageID, "newest first")
	assert.Equal(t, "unhealthy", got[0].Reason)
	assert.Equal(t, 3, got[0].Requeues)
	assert.Equal(t, j.SessionID(), got[0].SessionID)

	assert.Equal(t, "m1", got[1].MessageID)
	assert.Equal(t, 40*time.Millisecond, got[1].Duration)
	assert.True(t, at.Equal(got[1].RecordedAt))

	counts, err := j.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"delivered": 1, "dropped": 1}, counts)
}

func TestOutcomeCheckConstraint(t *testing.T) {
	j, _ := openTestJournal(t)
	err := j.RecordOutcome(context.Background(), OutcomeRecord{MessageID: "x", Agent: "a", Outcome: "lost"})
	assert.Error(t, err)
}

func TestSnapshotsFilterByAgent(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()
	now := time.UnixMilli(1_760_000_000_000)

	for i, name := range []string{"lint", "build", "lint"} {
		require.NoError(t, j.RecordSnapshot(ctx, SnapshotRecord{
			Agent: name, State: "IDLE", LastActive: now, TakenAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	lint, err := j.Snapshots(ctx, "lint", 0)
	require.NoError(t, err)
	assert.Len(t, lint, 2)
	assert.True(t, lint[0].TakenAt.After(lint[1].TakenAt))

	all, err := j.Snapshots(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := j.Snapshots(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSessionsAreIsolated(t *testing.T) {
	j1, path := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j1.RecordOutcome(ctx, OutcomeRecord{MessageID: "a", Agent: "x", Outcome: OutcomeRequeued}))
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	assert.NotEqual(t, j1.SessionID(), j2.SessionID())
	got, err := j2.Outcomes(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSchemaVersionRecorded(t *testing.T) {
	_, path := openTestJournal(t)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}
