package scheduler

import (
	"testing"
	"time"

	"market_ingestion_service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedule(symbol string, st models.ScheduleType, expr string) *models.Schedule {
	return &models.Schedule{
		Symbol:         symbol,
		ScheduleType:   st,
		CronExpression: expr,
		Enabled:        true,
	}
}

func TestMemoryStoreUpsertAssignsID(t *testing.T) {
	store := NewMemoryScheduleStore()

	saved, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Nil(t, saved.NextRun)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := store.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryScheduleStore()
	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownSchedule)
}

func TestMemoryStoreCronChangeClearsNextRun(t *testing.T) {
	store := NewMemoryScheduleStore()

	saved, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)

	next := time.Now().Add(time.Hour)
	require.NoError(t, store.UpdateRunTimes(saved.ID, &next, nil))

	// Same expression keeps the computed boundary.
	saved.CronExpression = "0 20 * * 1-5"
	kept, err := store.Upsert(saved)
	require.NoError(t, err)
	require.NotNil(t, kept.NextRun)

	// A new expression invalidates it so the loop recomputes.
	kept.CronExpression = "*/15 * * * *"
	changed, err := store.Upsert(kept)
	require.NoError(t, err)
	assert.Nil(t, changed.NextRun)
}

func TestMemoryStoreUpsertPreservesLastRun(t *testing.T) {
	store := NewMemoryScheduleStore()

	saved, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)

	last := time.Now()
	require.NoError(t, store.UpdateRunTimes(saved.ID, nil, &last))

	saved.LastRun = nil
	updated, err := store.Upsert(saved)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
	assert.WithinDuration(t, last, *updated.LastRun, time.Second)
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	store := NewMemoryScheduleStore()

	saved, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)

	assert.NoError(t, store.Delete(saved.ID))
	assert.NoError(t, store.Delete(saved.ID))
	assert.NoError(t, store.Delete("never-existed"))

	_, err = store.Get(saved.ID)
	assert.ErrorIs(t, err, ErrUnknownSchedule)
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryScheduleStore()

	_, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)
	_, err = store.Upsert(newSchedule("AAPL", models.ScheduleTypeLive, "30 9 * * 1-5"))
	require.NoError(t, err)
	_, err = store.Upsert(newSchedule("MSFT", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)

	all, err := store.List("", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	aapl, err := store.List("AAPL", "")
	require.NoError(t, err)
	assert.Len(t, aapl, 2)

	live, err := store.List("", models.ScheduleTypeLive)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "AAPL", live[0].Symbol)
}

func TestMemoryStoreListEnabled(t *testing.T) {
	store := NewMemoryScheduleStore()

	on, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)
	off, err := store.Upsert(newSchedule("MSFT", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)
	require.NoError(t, store.SetEnabled(off.ID, false))

	enabled, err := store.ListEnabled("")
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, on.ID, enabled[0].ID)

	assert.ErrorIs(t, store.SetEnabled("missing", true), ErrUnknownSchedule)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryScheduleStore()

	saved, err := store.Upsert(newSchedule("AAPL", models.ScheduleTypeHistorical, "0 20 * * 1-5"))
	require.NoError(t, err)

	// Mutating a returned schedule must not leak into the store.
	saved.Symbol = "HACKED"
	got, err := store.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
}
