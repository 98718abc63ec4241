package services

import (
	"path/filepath"
	"testing"
	"time"

	"market_ingestion_service/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T, retention int) *RunArchiveStore {
	t.Helper()
	store, err := NewRunArchiveStore(filepath.Join(t.TempDir(), "runs.db"), retention, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func terminalRun(symbol string, st models.ScheduleType, state models.RunState, startedAt time.Time) *models.JobRun {
	ended := startedAt.Add(time.Minute)
	return &models.JobRun{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		ScheduleType:  st,
		State:         state,
		TriggerReason: models.TriggerScheduled,
		StartedAt:     startedAt,
		EndedAt:       &ended,
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	store := newTestArchive(t, 10)

	run := terminalRun("AAPL", models.ScheduleTypeHistorical, models.RunStateFailed, time.Now().UTC())
	run.Error = "feed unreachable"
	require.NoError(t, store.ArchiveRun(run))

	got, err := store.RecentRuns(run.Key(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, run.ID, got[0].ID)
	assert.Equal(t, models.RunStateFailed, got[0].State)
	assert.Equal(t, "feed unreachable", got[0].Error)
	require.NotNil(t, got[0].EndedAt)
}

func TestArchiveIdempotentOnRedelivery(t *testing.T) {
	store := newTestArchive(t, 10)

	run := terminalRun("AAPL", models.ScheduleTypeHistorical, models.RunStateSucceeded, time.Now().UTC())
	require.NoError(t, store.ArchiveRun(run))
	require.NoError(t, store.ArchiveRun(run))

	got, err := store.RecentRuns(run.Key(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestArchiveRecentRunsNewestFirstPerKey(t *testing.T) {
	store := newTestArchive(t, 10)
	base := time.Now().UTC().Add(-time.Hour)

	var ids []string
	for i := 0; i < 3; i++ {
		run := terminalRun("AAPL", models.ScheduleTypeHistorical, models.RunStateSucceeded, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.ArchiveRun(run))
		ids = append(ids, run.ID)
	}
	// A different key must not bleed into the result.
	other := terminalRun("AAPL", models.ScheduleTypeLive, models.RunStateStopped, base)
	require.NoError(t, store.ArchiveRun(other))

	got, err := store.RecentRuns(models.RunKey{Symbol: "AAPL", ScheduleType: models.ScheduleTypeHistorical}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestArchivePruneKeepsRetentionPerKey(t *testing.T) {
	store := newTestArchive(t, 2)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.ArchiveRun(
			terminalRun("AAPL", models.ScheduleTypeHistorical, models.RunStateSucceeded, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.ArchiveRun(
		terminalRun("MSFT", models.ScheduleTypeHistorical, models.RunStateSucceeded, base)))

	require.NoError(t, store.Prune())

	aapl, err := store.RecentRuns(models.RunKey{Symbol: "AAPL", ScheduleType: models.ScheduleTypeHistorical}, 10)
	require.NoError(t, err)
	assert.Len(t, aapl, 2)

	msft, err := store.RecentRuns(models.RunKey{Symbol: "MSFT", ScheduleType: models.ScheduleTypeHistorical}, 10)
	require.NoError(t, err)
	assert.Len(t, msft, 1)
}

func TestArchiveDeleteBefore(t *testing.T) {
	store := newTestArchive(t, 10)
	now := time.Now().UTC()

	old := terminalRun("AAPL", models.ScheduleTypeHistorical, models.RunStateSucceeded, now.Add(-48*time.Hour))
	recent := terminalRun("AAPL", models.ScheduleTypeHistorical, models.RunStateSucceeded, now)
	require.NoError(t, store.ArchiveRun(old))
	require.NoError(t, store.ArchiveRun(recent))

	require.NoError(t, store.DeleteBefore(now.Add(-24*time.Hour)))

	got, err := store.RecentRuns(recent.Key(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}
