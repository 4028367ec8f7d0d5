// Package persistence keeps an SQLite journal of delivery outcomes and registry health
// snapshots. It is an audit trail only: nothing is replayed from it on restart.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"switchboard/pkg/logx"
)

// Outcome labels stored in the journal.
const (
	OutcomeDelivered = "delivered"
	OutcomeRequeued  = "requeued"
	OutcomeDropped   = "dropped"
)

// OutcomeRecord is one drain-loop step.
type OutcomeRecord struct {
	RecordedAt  time.Time     `json:"recorded_at"`
	MessageID   string        `json:"message_id"`
	MessageType string        `json:"message_type"`
	Agent       string        `json:"agent"`
	Outcome     string        `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	SessionID   string        `json:"session_id"`
	Attempts    int           `json:"attempts"`
	Requeues    int           `json:"requeues"`
	Duration    time.Duration `json:"duration"`
}

// SnapshotRecord is the registry's periodic view of one agent.
type SnapshotRecord struct {
	TakenAt    time.Time `json:"taken_at"`
	LastActive time.Time `json:"last_active"`
	Agent      string    `json:"agent"`
	State      string    `json:"state"`
	SessionID  string    `json:"session_id"`
}

// Journal writes and queries the journal database.
type Journal struct {
	db        *sql.DB
	sessionID string
	logger    *logx.Logger
}

// Open opens (creating if needed) the journal at path. Every record written through the
// returned Journal carries a fresh session ID.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	j := &Journal{
		db:        db,
		sessionID: uuid.NewString(),
		logger:    logx.NewLogger("journal"),
	}
	j.logger.Info("📦 journal opened: %s (session: %s)", path, j.sessionID)
	return j, nil
}

// SessionID returns the session this journal writes under.
func (j *Journal) SessionID() string { return j.sessionID }

// RecordOutcome appends a delivery outcome.
func (j *Journal) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO delivery_outcomes
			(session_id, message_id, message_type, agent, outcome, reason, error, attempts, requeues, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.sessionID, rec.MessageID, rec.MessageType, rec.Agent, rec.Outcome, rec.Reason, rec.Error,
		rec.Attempts, rec.Requeues, rec.Duration.Milliseconds(), rec.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", rec.MessageID, err)
	}
	return nil
}

// RecordSnapshot appends a registry snapshot row.
func (j *Journal) RecordSnapshot(ctx context.Context, rec SnapshotRecord) error {
	if rec.TakenAt.IsZero() {
		rec.TakenAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO agent_snapshots (session_id, agent, state, last_active, taken_at) VALUES (?, ?, ?, ?, ?)`,
		j.sessionID, rec.Agent, rec.State, rec.LastActive.UnixMilli(), rec.TakenAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record snapshot for %s: %w", rec.Agent, err)
	}
	return nil
}

// Outcomes returns up to limit most recent outcomes of this session, newest first.
func (j *Journal) Outcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, message_id, message_type, agent, outcome, reason, error, attempts, requeues, duration_ms, recorded_at
		 FROM delivery_outcomes WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		j.sessionID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var durationMs, recordedAt int64
		if err := rows.Scan(&rec.SessionID, &rec.MessageID, &rec.MessageType, &rec.Agent, &rec.Outcome,
			&rec.Reason, &rec.Error, &rec.Attempts, &rec.Requeues, &durationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return out, nil
}

// Snapshots returns up to limit most recent snapshots of agent in this session, newest
// first. An empty agent name returns snapshots of every agent.
func (j *Journal) Snapshots(ctx context.Context, agent string, limit int) ([]SnapshotRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, agent, state, last_active, taken_at FROM agent_snapshots
		 WHERE session_id = ? AND (? = '' OR agent = ?) ORDER BY id DESC LIMIT ?`,
		j.sessionID, agent, agent, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var lastActive, takenAt int64
		if err := rows.Scan(&rec.SessionID, &rec.Agent, &rec.State, &lastActive, &takenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		rec.LastActive = time.UnixMilli(lastActive)
		rec.TakenAt = time.UnixMilli(takenAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}

// CountOutcomes returns the number of outcomes of each kind recorded in this session.
func (j *Journal) CountOutcomes(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM delivery_outcomes WHERE session_id = ? GROUP BY outcome`, j.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcome counts: %w", err)
	}
	return counts, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
