package models

import (
	"fmt"
	"time"
)

// ScheduleType distinguishes the two ingestion job kinds a symbol can carry.
type ScheduleType string

const (
	ScheduleTypeHistorical ScheduleType = "historical"
	ScheduleTypeLive       ScheduleType = "live"
)

// Valid reports whether t is one of the known schedule types.
func (t ScheduleType) Valid() bool {
	return t == ScheduleTypeHistorical || t == ScheduleTypeLive
}

// RunKey identifies the serialized execution lane for a symbol and data
// type. At most one run may be pending or running per key at any time.
type RunKey struct {
	Symbol       string       `json:"symbol"`
	ScheduleType ScheduleType `json:"schedule_type"`
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s_%s", k.Symbol, k.ScheduleType)
}

// ScheduleConfig is the type-specific payload carried by a schedule.
// Historical schedules use Intervals/HistoricalDays, live schedules use
// AutoStart/AutoStop/BackfillMinutes; unused fields stay at their zero value.
type ScheduleConfig struct {
	Intervals       []string `json:"intervals,omitempty"`
	HistoricalDays  int      `json:"historical_days,omitempty"`
	AutoStart       bool     `json:"auto_start,omitempty"`
	AutoStop        bool     `json:"auto_stop,omitempty"`
	BackfillMinutes int      `json:"backfill_minutes,omitempty"`
}

// Schedule is one per-symbol, per-type ingestion schedule.
type Schedule struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	Symbol         string         `gorm:"index:idx_schedule_key;not null" json:"symbol"`
	ScheduleType   ScheduleType   `gorm:"index:idx_schedule_key;not null" json:"schedule_type"`
	CronExpression string         `json:"cron_expression"`
	Enabled        bool           `json:"enabled"`
	Config         ScheduleConfig `gorm:"serializer:json" json:"config"`
	// NextRun is a derived cache of the next due instant. Nil forces
	// recomputation on the next scheduler tick.
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Key returns the run key this schedule dispatches under.
func (s *Schedule) Key() RunKey {
	return RunKey{Symbol: s.Symbol, ScheduleType: s.ScheduleType}
}

// RunState is the lifecycle state of a job run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	RunStateStopped   RunState = "stopped"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed || s == RunStateStopped
}

// TriggerReason records what caused a run to start or stop.
type TriggerReason string

const (
	TriggerScheduled TriggerReason = "scheduled"
	TriggerManual    TriggerReason = "manual"
	TriggerAutoStart TriggerReason = "auto_start"
	TriggerAutoStop  TriggerReason = "auto_stop"
)

// JobRun is one execution of an ingestion job for a run key.
type JobRun struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	ScheduleType  ScheduleType  `json:"schedule_type"`
	State         RunState      `json:"state"`
	TriggerReason TriggerReason `json:"trigger_reason"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Key returns the run key this run occupies.
func (r *JobRun) Key() RunKey {
	return RunKey{Symbol: r.Symbol, ScheduleType: r.ScheduleType}
}
