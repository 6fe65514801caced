package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automationservice/flowengine/internal/types"
)

func openTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLedger_ClaimOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	key := testKey("evt-1")

	claimed, err := l.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = l.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = l.Claim(ctx, testKey("evt-2"))
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSQLiteLedger_ConcurrentClaimHasOneWinner(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	key := testKey("evt-1")

	var winners atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := l.Claim(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), winners.Load())
}

func TestSQLiteLedger_RunLifecycle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	key := testKey("evt-1")

	claimed, err := l.Claim(ctx, key)
	require.NoError(t, err)
	require.True(t, claimed)

	run, err := l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)

	require.NoError(t, l.MarkRunning(ctx, key))
	require.NoError(t, l.RecordVisit(ctx, key, Visit{NodeID: "trigger_1", Outcome: VisitCompleted, Attempts: 1}))
	require.NoError(t, l.RecordVisit(ctx, key, Visit{NodeID: "message_1", Outcome: VisitCompleted, Attempts: 2}))
	require.NoError(t, l.Complete(ctx, key, RunStatusCompleted, ""))

	run, err = l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, []string{"trigger_1", "message_1"}, run.VisitedNodeIDs())
	assert.Equal(t, 2, run.Visits[1].Attempts)
	require.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.LastError)
}

func TestSQLiteLedger_ConcurrentVisitsAllRecorded(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	key := testKey("evt-1")

	_, err := l.Claim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, l.MarkRunning(ctx, key))

	// Sibling branches of one run record visits concurrently; none may be
	// lost to an overlapping write.
	nodeIDs := make([]string, 8)
	for i := range nodeIDs {
		nodeIDs[i] = fmt.Sprintf("message_%d", i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			if err := l.RecordVisit(ctx, key, Visit{NodeID: nodeID, Outcome: VisitCompleted, Attempts: 1}); err != nil {
				errs <- err
			}
		}(nodeID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	run, err := l.Get(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, nodeIDs, run.VisitedNodeIDs())
}

func TestSQLiteLedger_FailedRunKeepsError(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	key := testKey("evt-1")

	_, err := l.Claim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, key, RunStatusFailed, "run exceeded its 30s budget"))

	run, err := l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "run exceeded its 30s budget", run.LastError)
}

func TestSQLiteLedger_UnknownRun(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Get(ctx, testKey("evt-missing"))
	require.Error(t, err)
	assert.Equal(t, types.RUN_NOT_FOUND, types.CodeOf(err))

	err = l.MarkRunning(ctx, testKey("evt-missing"))
	require.Error(t, err)
	assert.Equal(t, types.RUN_NOT_FOUND, types.CodeOf(err))

	err = l.RecordVisit(ctx, testKey("evt-missing"), Visit{NodeID: "trigger_1", Outcome: VisitCompleted, Attempts: 1})
	require.Error(t, err)
	assert.Equal(t, types.RUN_NOT_FOUND, types.CodeOf(err))
}

func TestSQLiteLedger_Evict(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	oldKey := testKey("evt-old")
	_, err := l.Claim(ctx, oldKey)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, oldKey, RunStatusCompleted, ""))

	runningKey := testKey("evt-running")
	_, err = l.Claim(ctx, runningKey)
	require.NoError(t, err)
	require.NoError(t, l.MarkRunning(ctx, runningKey))

	evicted, err := l.Evict(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	_, err = l.Get(ctx, oldKey)
	assert.Error(t, err)

	_, err = l.Get(ctx, runningKey)
	assert.NoError(t, err)
}
