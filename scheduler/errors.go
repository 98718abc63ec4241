package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the scheduler core. Admin-facing validation
// errors (ErrInvalidExpression, ErrUnknownSymbol) reject the mutation
// synchronously; per-tick errors are logged and isolated to one schedule.
var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrNoOccurrence      = errors.New("no occurrence within search horizon")
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrUnknownSchedule   = errors.New("unknown schedule")
	ErrUnknownRun        = errors.New("unknown run")
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrAlreadyRunning is a control-flow signal, not a failure: a run for
	// the key is still in flight, so the caller skips this window.
	ErrAlreadyRunning = errors.New("run already in flight for key")
)

// DispatchError wraps a failure reported by the job dispatcher so the loop
// can log it with the schedule that triggered the dispatch.
type DispatchError struct {
	Symbol string
	Op     string // "start_historical", "start_live", "stop_live"
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s for %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
