// Package ledger records workflow run attempts for idempotency and
// observability. The claim operation is the single point guaranteeing
// at-most-one concurrent run per (workflow version, contact, event) triple.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/automationservice/flowengine/internal/types"
)

// RunStatus is the run state machine: PENDING -> RUNNING -> {COMPLETED, FAILED}.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the status is COMPLETED or FAILED.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunKey identifies one run. Re-delivery of the same event for the same
// workflow version and contact maps to the same key, which is how duplicate
// deliveries are rejected.
type RunKey struct {
	WorkflowID      types.ID `json:"workflow_id"`
	WorkflowVersion int      `json:"workflow_version"`
	ContactID       string   `json:"contact_id"`
	EventID         types.ID `json:"event_id"`
}

// String renders the key in a stable form usable as an idempotency-key
// prefix for outbound sends.
func (k RunKey) String() string {
	return fmt.Sprintf("%s:v%d:%s:%s", k.WorkflowID, k.WorkflowVersion, k.ContactID, k.EventID)
}

// VisitOutcome classifies one node visit.
type VisitOutcome string

const (
	VisitCompleted VisitOutcome = "completed"
	VisitSkipped   VisitOutcome = "skipped"
	VisitFailed    VisitOutcome = "failed"
)

// Visit is one recorded node visit. Attempts counts tries including
// retries, so retry state survives process restarts.
type Visit struct {
	NodeID   string       `json:"node_id"`
	Outcome  VisitOutcome `json:"outcome"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// Run is one ledger entry.
type Run struct {
	Key         RunKey     `json:"key"`
	Status      RunStatus  `json:"status"`
	Visits      []Visit    `json:"visits"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// VisitedNodeIDs returns the ordered node IDs visited by the run.
func (r *Run) VisitedNodeIDs() []string {
	ids := make([]string, 0, len(r.Visits))
	for _, v := range r.Visits {
		ids = append(ids, v.NodeID)
	}
	return ids
}

// Ledger persists run attempts.
//
// Claim returns false (no error) when the key already exists: the caller
// lost the claim race or the event is a re-delivery, and simply skips
// execution. Every matched trigger produces exactly one ledger entry.
type Ledger interface {
	// Claim atomically creates a PENDING entry for the key. Returns true
	// when this caller owns the run.
	Claim(ctx context.Context, key RunKey) (bool, error)

	// MarkRunning transitions a claimed run to RUNNING.
	MarkRunning(ctx context.Context, key RunKey) error

	// RecordVisit appends a node visit to the run.
	RecordVisit(ctx context.Context, key RunKey, visit Visit) error

	// Complete transitions the run to a terminal status. lastError is empty
	// for COMPLETED runs.
	Complete(ctx context.Context, key RunKey, status RunStatus, lastError string) error

	// Get returns the run, or a RUN_NOT_FOUND error.
	Get(ctx context.Context, key RunKey) (*Run, error)

	// Evict removes terminal runs older than the retention window and
	// returns how many were evicted.
	Evict(ctx context.Context, olderThan time.Time) (int, error)
}
