package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/automationservice/flowengine/internal/types"
)

// SQLiteLedger is a Ledger backed by SQLite. The run key is the table's
// primary key, so Claim reduces to an INSERT that conflicts on duplicates —
// the same mechanism serializes racing claimers across processes.
type SQLiteLedger struct {
	conn *sql.DB
}

// OpenSQLite opens (and migrates) a ledger database at the given path.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	l := &SQLiteLedger{conn: conn}
	if err := l.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

func (l *SQLiteLedger) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			workflow_id      TEXT NOT NULL,
			workflow_version INTEGER NOT NULL,
			contact_id       TEXT NOT NULL,
			event_id         TEXT NOT NULL,
			status           TEXT NOT NULL,
			visits           TEXT NOT NULL DEFAULT '[]',
			started_at       TIMESTAMP NOT NULL,
			completed_at     TIMESTAMP,
			last_error       TEXT,
			PRIMARY KEY (workflow_id, workflow_version, contact_id, event_id)
		);
		CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs (completed_at);
	`
	if _, err := l.conn.ExecContext(ctx, schema); err != nil {
		return types.WrapError(types.LEDGER_WRITE_FAILED, "failed to migrate ledger schema", err)
	}
	return nil
}

// Claim inserts a PENDING entry; a primary-key conflict means the run
// already exists and the caller must skip.
func (l *SQLiteLedger) Claim(ctx context.Context, key RunKey) (bool, error) {
	query := `
		INSERT INTO runs (workflow_id, workflow_version, contact_id, event_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`
	result, err := l.conn.ExecContext(ctx, query,
		key.WorkflowID, key.WorkflowVersion, key.ContactID, key.EventID,
		RunStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return false, types.WrapError(types.LEDGER_WRITE_FAILED, "failed to claim run", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, types.WrapError(types.LEDGER_WRITE_FAILED, "failed to read claim result", err)
	}
	return affected == 1, nil
}

// MarkRunning transitions a claimed run to RUNNING.
func (l *SQLiteLedger) MarkRunning(ctx context.Context, key RunKey) error {
	return l.updateStatus(ctx, key, RunStatusRunning, "", false)
}

// RecordVisit appends a node visit to the run's visit log. The append is a
// single json_insert statement: concurrent branch visits of one run must
// never overwrite each other, so no read-modify-write is allowed here.
func (l *SQLiteLedger) RecordVisit(ctx context.Context, key RunKey, visit Visit) error {
	if visit.At.IsZero() {
		visit.At = time.Now()
	}

	encoded, err := json.Marshal(visit)
	if err != nil {
		return types.WrapError(types.LEDGER_WRITE_FAILED, "failed to marshal visit", err)
	}

	query := `
		UPDATE runs SET visits = json_insert(visits, '$[#]', json(?))
		WHERE workflow_id = ? AND workflow_version = ? AND contact_id = ? AND event_id = ?
	`
	result, err := l.conn.ExecContext(ctx, query, string(encoded),
		key.WorkflowID, key.WorkflowVersion, key.ContactID, key.EventID)
	if err != nil {
		return types.WrapError(types.LEDGER_WRITE_FAILED, "failed to record visit", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.LEDGER_WRITE_FAILED, "failed to read visit result", err)
	}
	if affected == 0 {
		return types.NewError(types.RUN_NOT_FOUND, fmt.Sprintf("run %s not found", key))
	}
	return nil
}

// Complete transitions the run to a terminal status with its last error.
func (l *SQLiteLedger) Complete(ctx context.Context, key RunKey, status RunStatus, lastError string) error {
	return l.updateStatus(ctx, key, status, lastError, true)
}

func (l *SQLiteLedger) updateStatus(ctx context.Context, key RunKey, status RunStatus, lastError string, terminal bool) error {
	var query string
	var args []any
	if terminal {
		query = `
			UPDATE runs SET status = ?, last_error = ?, completed_at = ?
			WHERE workflow_id = ? AND workflow_version = ? AND contact_id = ? AND event_id = ?
		`
		args = []any{status, lastError, time.Now().UTC(),
			key.WorkflowID, key.WorkflowVersion, key.ContactID, key.EventID}
	} else {
		query = `
			UPDATE runs SET status = ?
			WHERE workflow_id = ? AND workflow_version = ? AND contact_id = ? AND event_id = ?
		`
		args = []any{status,
			key.WorkflowID, key.WorkflowVersion, key.ContactID, key.EventID}
	}

	result, err := l.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return types.WrapError(types.LEDGER_WRITE_FAILED, "failed to update run status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.LEDGER_WRITE_FAILED, "failed to read update result", err)
	}
	if affected == 0 {
		return types.NewError(types.RUN_NOT_FOUND, fmt.Sprintf("run %s not found", key))
	}
	return nil
}

// Get returns the run for the key.
func (l *SQLiteLedger) Get(ctx context.Context, key RunKey) (*Run, error) {
	query := `
		SELECT status, visits, started_at, completed_at, last_error FROM runs
		WHERE workflow_id = ? AND workflow_version = ? AND contact_id = ? AND event_id = ?
	`
	var run Run
	var visitsJSON string
	var completedAt sql.NullTime
	var lastError sql.NullString

	err := l.conn.QueryRowContext(ctx, query,
		key.WorkflowID, key.WorkflowVersion, key.ContactID, key.EventID,
	).Scan(&run.Status, &visitsJSON, &run.StartedAt, &completedAt, &lastError)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.RUN_NOT_FOUND, fmt.Sprintf("run %s not found", key))
	}
	if err != nil {
		return nil, types.WrapError(types.LEDGER_WRITE_FAILED, "failed to get run", err)
	}

	run.Key = key
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.LastError = lastError.String
	if err := json.Unmarshal([]byte(visitsJSON), &run.Visits); err != nil {
		return nil, types.WrapError(types.LEDGER_WRITE_FAILED, "failed to unmarshal visits", err)
	}
	return &run, nil
}

// Evict deletes terminal runs that completed before the cutoff.
func (l *SQLiteLedger) Evict(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		DELETE FROM runs
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`
	result, err := l.conn.ExecContext(ctx, query,
		RunStatusCompleted, RunStatusFailed, olderThan.UTC())
	if err != nil {
		return 0, types.WrapError(types.LEDGER_WRITE_FAILED, "failed to evict runs", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, types.WrapError(types.LEDGER_WRITE_FAILED, "failed to read evict result", err)
	}
	return int(affected), nil
}
