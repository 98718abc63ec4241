package scheduler

import (
	"sync"
	"time"

	"market_ingestion_service/models"

	"github.com/google/uuid"
)

// ScheduleStore holds the set of schedule records. Implementations must
// support concurrent reads; the loop is the only writer of the derived
// NextRun/LastRun fields.
type ScheduleStore interface {
	// Upsert replaces the record for an existing id, or assigns a new id
	// and stores the record. NextRun is cleared whenever the cron
	// expression changes so the loop recomputes it.
	Upsert(s *models.Schedule) (*models.Schedule, error)
	Get(id string) (*models.Schedule, error)
	// Delete is idempotent: removing an unknown id is a no-op.
	Delete(id string) error
	List(symbol string, scheduleType models.ScheduleType) ([]*models.Schedule, error)
	ListEnabled(scheduleType models.ScheduleType) ([]*models.Schedule, error)
	SetEnabled(id string, enabled bool) error
	// UpdateRunTimes persists the loop's derived next/last run instants.
	UpdateRunTimes(id string, nextRun, lastRun *time.Time) error
}

// MemoryScheduleStore is the default in-process store. The service swaps in
// the database-backed repository once the database connection is up.
type MemoryScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]*models.Schedule
}

// NewMemoryScheduleStore creates an empty in-memory schedule store.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string]*models.Schedule)}
}

func (m *MemoryScheduleStore) Upsert(s *models.Schedule) (*models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec := *s
	if rec.ID == "" {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		rec.NextRun = nil
	} else if prev, ok := m.schedules[rec.ID]; ok {
		rec.CreatedAt = prev.CreatedAt
		// NextRun is loop-derived, never caller-supplied: keep the stored
		// boundary unless the expression changed.
		if prev.CronExpression != rec.CronExpression {
			rec.NextRun = nil
		} else {
			rec.NextRun = prev.NextRun
		}
		if rec.LastRun == nil {
			rec.LastRun = prev.LastRun
		}
	} else {
		rec.CreatedAt = now
		rec.NextRun = nil
	}
	rec.UpdatedAt = now

	m.schedules[rec.ID] = &rec
	out := rec
	return &out, nil
}

func (m *MemoryScheduleStore) Get(id string) (*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrUnknownSchedule
	}
	out := *s
	return &out, nil
}

func (m *MemoryScheduleStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *MemoryScheduleStore) List(symbol string, scheduleType models.ScheduleType) ([]*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Schedule
	for _, s := range m.schedules {
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		if scheduleType != "" && s.ScheduleType != scheduleType {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryScheduleStore) ListEnabled(scheduleType models.ScheduleType) ([]*models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Schedule
	for _, s := range m.schedules {
		if !s.Enabled {
			continue
		}
		if scheduleType != "" && s.ScheduleType != scheduleType {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryScheduleStore) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return ErrUnknownSchedule
	}
	s.Enabled = enabled
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryScheduleStore) UpdateRunTimes(id string, nextRun, lastRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return ErrUnknownSchedule
	}
	s.NextRun = nextRun
	if lastRun != nil {
		s.LastRun = lastRun
	}
	s.UpdatedAt = time.Now()
	return nil
}
