package services

import (
	"errors"
	"time"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduleRepository is the database-backed schedule store used once the
// database connection is up. Semantics mirror the in-memory store.
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a schedule repository
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) Upsert(s *models.Schedule) (*models.Schedule, error) {
	rec := *s

	if rec.ID == "" {
		rec.ID = uuid.NewString()
		rec.NextRun = nil
		if err := r.db.Create(&rec).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	}

	var prev models.Schedule
	err := r.db.First(&prev, "id = ?", rec.ID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec.NextRun = nil
		if err := r.db.Create(&rec).Error; err != nil {
			return nil, err
		}
		return &rec, nil
	case err != nil:
		return nil, err
	}

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
	if err := r.db.Save(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ScheduleRepository) Get(id string) (*models.Schedule, error) {
	var s models.Schedule
	if err := r.db.First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scheduler.ErrUnknownSchedule
		}
		return nil, err
	}
	return &s, nil
}

// Delete is idempotent; removing an unknown id is a no-op.
func (r *ScheduleRepository) Delete(id string) error {
	return r.db.Delete(&models.Schedule{}, "id = ?", id).Error
}

func (r *ScheduleRepository) List(symbol string, scheduleType models.ScheduleType) ([]*models.Schedule, error) {
	query := r.db.Model(&models.Schedule{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if scheduleType != "" {
		query = query.Where("schedule_type = ?", scheduleType)
	}

	var out []*models.Schedule
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ScheduleRepository) ListEnabled(scheduleType models.ScheduleType) ([]*models.Schedule, error) {
	query := r.db.Where("enabled = ?", true)
	if scheduleType != "" {
		query = query.Where("schedule_type = ?", scheduleType)
	}

	var out []*models.Schedule
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ScheduleRepository) SetEnabled(id string, enabled bool) error {
	res := r.db.Model(&models.Schedule{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return scheduler.ErrUnknownSchedule
	}
	return nil
}

func (r *ScheduleRepository) UpdateRunTimes(id string, nextRun, lastRun *time.Time) error {
	updates := map[string]interface{}{"next_run": nextRun}
	if lastRun != nil {
		updates["last_run"] = lastRun
	}

	res := r.db.Model(&models.Schedule{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return scheduler.ErrUnknownSchedule
	}
	return nil
}
