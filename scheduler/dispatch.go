package scheduler

import (
	"time"

	"market_ingestion_service/models"
)

// Dispatcher executes ingestion jobs. Start calls fire and forget: a nil
// return means the job was handed off, not that it finished. Completion
// arrives later as RunEvents on the loop's event channel. A non-nil return
// is a synchronous reject and the loop marks the run failed.
type Dispatcher interface {
	StartHistoricalFetch(runID, symbol string, cfg models.ScheduleConfig) error
	StartLiveStream(runID, symbol string, cfg models.ScheduleConfig) error
	StopLiveStream(symbol string) error
}

// RunEventType tags asynchronous run lifecycle notifications.
type RunEventType string

const (
	RunEventStarted  RunEventType = "started"
	RunEventFinished RunEventType = "finished"
)

// RunEvent is delivered by the dispatcher when a job acknowledges its
// start or reaches a terminal outcome.
type RunEvent struct {
	RunID   string
	Type    RunEventType
	Outcome models.RunState // terminal state, set for finished events
	Err     error
}

// Clock abstracts wall-clock reads so the loop is testable with a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
