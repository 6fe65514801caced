package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/automationservice/flowengine/internal/types"
)

// MemoryLedger is a mutex-guarded in-memory Ledger for tests and the
// simulate command.
type MemoryLedger struct {
	mu   sync.Mutex
	runs map[RunKey]*Run
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{runs: make(map[RunKey]*Run)}
}

// Claim creates a PENDING entry unless the key already exists.
func (l *MemoryLedger) Claim(ctx context.Context, key RunKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.runs[key]; exists {
		return false, nil
	}
	l.runs[key] = &Run{
		Key:       key,
		Status:    RunStatusPending,
		StartedAt: time.Now(),
	}
	return true, nil
}

// MarkRunning transitions a claimed run to RUNNING.
func (l *MemoryLedger) MarkRunning(ctx context.Context, key RunKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, err := l.get(key)
	if err != nil {
		return err
	}
	run.Status = RunStatusRunning
	return nil
}

// RecordVisit appends a node visit to the run.
func (l *MemoryLedger) RecordVisit(ctx context.Context, key RunKey, visit Visit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, err := l.get(key)
	if err != nil {
		return err
	}
	if visit.At.IsZero() {
		visit.At = time.Now()
	}
	run.Visits = append(run.Visits, visit)
	return nil
}

// Complete transitions the run to a terminal status.
func (l *MemoryLedger) Complete(ctx context.Context, key RunKey, status RunStatus, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, err := l.get(key)
	if err != nil {
		return err
	}
	run.Status = status
	run.LastError = lastError
	now := time.Now()
	run.CompletedAt = &now
	return nil
}

// Get returns a copy of the run.
func (l *MemoryLedger) Get(ctx context.Context, key RunKey) (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, err := l.get(key)
	if err != nil {
		return nil, err
	}
	clone := *run
	clone.Visits = append([]Visit(nil), run.Visits...)
	return &clone, nil
}

// Evict removes terminal runs that completed before the cutoff.
func (l *MemoryLedger) Evict(ctx context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, run := range l.runs {
		if run.Status.IsTerminal() && run.CompletedAt != nil && run.CompletedAt.Before(olderThan) {
			delete(l.runs, key)
			evicted++
		}
	}
	return evicted, nil
}

func (l *MemoryLedger) get(key RunKey) (*Run, error) {
	run, ok := l.runs[key]
	if !ok {
		return nil, types.NewError(types.RUN_NOT_FOUND, fmt.Sprintf("run %s not found", key))
	}
	return run, nil
}
