package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-journal/internal/domain"
	memstore "coin-journal/internal/storage/memory"
)

func TestReaperFailsStaleRunningJobs(t *testing.T) {
	ledger := memstore.NewJobLedger()
	ctx := context.Background()

	stale, _, err := ledger.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	require.NoError(t, err)
	require.NoError(t, ledger.MarkRunning(ctx, stale.JobID))

	// The reaper's clock is far enough ahead that the job looks orphaned.
	future := time.Now().Add(time.Hour)
	reaper := NewReaper(ReaperOptions{
		Ledger:     ledger,
		MaxRunning: 5 * time.Minute,
		Now:        func() time.Time { return future },
	})

	reaped, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	final, err := ledger.GetByID(ctx, stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Equal(t, domain.FailReasonTimeout, final.FailReason)
}

func TestReaperSkipsFreshAndTerminalJobs(t *testing.T) {
	ledger := memstore.NewJobLedger()
	ctx := context.Background()

	fresh, _, err := ledger.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	require.NoError(t, err)
	require.NoError(t, ledger.MarkRunning(ctx, fresh.JobID))

	finished, _, err := ledger.TryAcquire(ctx, 1, 101, 7, "2026-03-14")
	require.NoError(t, err)
	require.NoError(t, ledger.MarkRunning(ctx, finished.JobID))
	require.NoError(t, ledger.MarkCompleted(ctx, finished.JobID))

	reaper := NewReaper(ReaperOptions{Ledger: ledger})

	reaped, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	got, err := ledger.GetByID(ctx, fresh.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestReaperUnblocksResubmission(t *testing.T) {
	ledger := memstore.NewJobLedger()
	ctx := context.Background()

	orphan, _, err := ledger.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	require.NoError(t, err)
	require.NoError(t, ledger.MarkRunning(ctx, orphan.JobID))

	// While RUNNING, the key is blocked.
	same, inFlight, err := ledger.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	require.NoError(t, err)
	require.True(t, inFlight)
	require.Equal(t, orphan.JobID, same.JobID)

	future := time.Now().Add(time.Hour)
	reaper := NewReaper(ReaperOptions{
		Ledger: ledger,
		Now:    func() time.Time { return future },
	})
	_, err = reaper.Sweep(ctx)
	require.NoError(t, err)

	replacement, inFlight, err := ledger.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	require.NoError(t, err)
	assert.False(t, inFlight, "reaped key must accept a fresh job")
	assert.NotEqual(t, orphan.JobID, replacement.JobID)
}
