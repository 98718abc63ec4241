package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"market_ingestion_service/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(limit int, archive RunArchive) *RunTracker {
	return NewRunTracker(limit, archive, zerolog.Nop())
}

var testKey = models.RunKey{Symbol: "AAPL", ScheduleType: models.ScheduleTypeHistorical}

func TestTryStartCreatesPendingRun(t *testing.T) {
	tracker := newTestTracker(0, nil)

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunStatePending, run.State)
	assert.Equal(t, "AAPL", run.Symbol)
	assert.Equal(t, models.TriggerScheduled, run.TriggerReason)
	assert.False(t, run.StartedAt.IsZero())
}

func TestTryStartRejectsOverlap(t *testing.T) {
	tracker := newTestTracker(0, nil)

	first, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)

	_, err = tracker.TryStart(testKey, models.TriggerScheduled)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Still held while running.
	require.NoError(t, tracker.MarkRunning(first.ID))
	_, err = tracker.TryStart(testKey, models.TriggerManual)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Released once terminal.
	require.NoError(t, tracker.MarkFinished(first.ID, models.RunStateSucceeded, nil))
	_, err = tracker.TryStart(testKey, models.TriggerScheduled)
	assert.NoError(t, err)
}

func TestTryStartConcurrent(t *testing.T) {
	tracker := newTestTracker(0, nil)

	const workers = 32
	var wg sync.WaitGroup
	started := make(chan *models.JobRun, workers)
	rejected := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := tracker.TryStart(testKey, models.TriggerScheduled)
			if err != nil {
				rejected <- err
				return
			}
			started <- run
		}()
	}
	wg.Wait()
	close(started)
	close(rejected)

	assert.Len(t, started, 1)
	assert.Len(t, rejected, workers-1)
	for err := range rejected {
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	tracker := newTestTracker(0, nil)

	_, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)

	_, err = tracker.TryStart(models.RunKey{Symbol: "MSFT", ScheduleType: models.ScheduleTypeHistorical}, models.TriggerScheduled)
	assert.NoError(t, err)

	// Same symbol, different schedule type is a different key.
	_, err = tracker.TryStart(models.RunKey{Symbol: "AAPL", ScheduleType: models.ScheduleTypeLive}, models.TriggerAutoStart)
	assert.NoError(t, err)
}

func TestMarkRunningTransitions(t *testing.T) {
	tracker := newTestTracker(0, nil)

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)

	require.NoError(t, tracker.MarkRunning(run.ID))
	assert.ErrorIs(t, tracker.MarkRunning(run.ID), ErrInvalidTransition)
	assert.ErrorIs(t, tracker.MarkRunning("no-such-run"), ErrUnknownRun)
}

func TestMarkFinishedTerminalIsImmutable(t *testing.T) {
	tracker := newTestTracker(0, nil)

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkRunning(run.ID))
	require.NoError(t, tracker.MarkFinished(run.ID, models.RunStateSucceeded, nil))

	// A late duplicate completion must not rewrite the outcome.
	assert.ErrorIs(t, tracker.MarkFinished(run.ID, models.RunStateFailed, errors.New("late")), ErrInvalidTransition)

	got, err := tracker.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateSucceeded, got.State)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.EndedAt)
}

func TestMarkFinishedPendingOnlyFails(t *testing.T) {
	tracker := newTestTracker(0, nil)

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)

	// A pending run never succeeded; the only terminal exit is failed.
	assert.ErrorIs(t, tracker.MarkFinished(run.ID, models.RunStateSucceeded, nil), ErrInvalidTransition)
	assert.NoError(t, tracker.MarkFinished(run.ID, models.RunStateFailed, errors.New("dispatch rejected")))

	got, err := tracker.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "dispatch rejected", got.Error)
}

func TestMarkFinishedRejectsNonTerminalOutcome(t *testing.T) {
	tracker := newTestTracker(0, nil)

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)
	assert.ErrorIs(t, tracker.MarkFinished(run.ID, models.RunStateRunning, nil), ErrInvalidTransition)
}

func TestHistoryWindowEviction(t *testing.T) {
	tracker := newTestTracker(3, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		run, err := tracker.TryStart(testKey, models.TriggerScheduled)
		require.NoError(t, err)
		require.NoError(t, tracker.MarkRunning(run.ID))
		require.NoError(t, tracker.MarkFinished(run.ID, models.RunStateSucceeded, nil))
		ids = append(ids, run.ID)
	}

	recent := tracker.RecentRuns(testKey, 10)
	require.Len(t, recent, 3)
	// Newest first.
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[2], recent[2].ID)

	// Evicted runs fall out of the id index too.
	_, err := tracker.Run(ids[0])
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestRecentRunsLeadsWithActive(t *testing.T) {
	tracker := newTestTracker(0, nil)

	done, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkRunning(done.ID))
	require.NoError(t, tracker.MarkFinished(done.ID, models.RunStateSucceeded, nil))

	active, err := tracker.TryStart(testKey, models.TriggerManual)
	require.NoError(t, err)

	recent := tracker.RecentRuns(testKey, 10)
	require.Len(t, recent, 2)
	assert.Equal(t, active.ID, recent[0].ID)
	assert.Equal(t, done.ID, recent[1].ID)
}

type captureArchive struct {
	mu   sync.Mutex
	runs []*models.JobRun
	fail bool
}

func (a *captureArchive) ArchiveRun(run *models.JobRun) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return fmt.Errorf("archive down")
	}
	cp := *run
	a.runs = append(a.runs, &cp)
	return nil
}

func TestTerminalRunsAreArchived(t *testing.T) {
	archive := &captureArchive{}
	tracker := newTestTracker(0, archive)

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkRunning(run.ID))
	require.NoError(t, tracker.MarkFinished(run.ID, models.RunStateStopped, nil))

	require.Len(t, archive.runs, 1)
	assert.Equal(t, models.RunStateStopped, archive.runs[0].State)
}

func TestArchiveFailureDoesNotBlockCompletion(t *testing.T) {
	tracker := newTestTracker(0, &captureArchive{fail: true})

	run, err := tracker.TryStart(testKey, models.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkRunning(run.ID))
	assert.NoError(t, tracker.MarkFinished(run.ID, models.RunStateSucceeded, nil))
}
