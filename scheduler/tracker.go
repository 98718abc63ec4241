package scheduler

import (
	"sync"
	"time"

	"market_ingestion_service/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunArchive receives terminal runs for durable history. Archive failures
// are logged, never propagated: the in-memory state is authoritative for
// the overlap guarantee.
type RunArchive interface {
	ArchiveRun(run *models.JobRun) error
}

// lane serializes run state for one (symbol, scheduleType) key.
type lane struct {
	mu      sync.Mutex
	active  *models.JobRun
	history []*models.JobRun // terminal runs, oldest first
}

// RunTracker enforces at-most-one pending/running job per run key and
// retains a bounded window of finished runs per key.
type RunTracker struct {
	mu    sync.RWMutex // guards lanes and runs index only
	lanes map[models.RunKey]*lane
	runs  map[string]*models.JobRun

	historyLimit int
	archive      RunArchive
	log          zerolog.Logger
}

// DefaultRunHistoryLimit bounds per-key terminal run retention when the
// configured limit is zero.
const DefaultRunHistoryLimit = 50

// NewRunTracker creates a run tracker. archive may be nil.
func NewRunTracker(historyLimit int, archive RunArchive, log zerolog.Logger) *RunTracker {
	if historyLimit <= 0 {
		historyLimit = DefaultRunHistoryLimit
	}
	return &RunTracker{
		lanes:        make(map[models.RunKey]*lane),
		runs:         make(map[string]*models.JobRun),
		historyLimit: historyLimit,
		archive:      archive,
		log:          log.With().Str("component", "run_tracker").Logger(),
	}
}

func (t *RunTracker) lane(key models.RunKey) *lane {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.lanes[key]
	if !ok {
		l = &lane{}
		t.lanes[key] = l
	}
	return l
}

// TryStart atomically checks for an in-flight run on key and, if the lane
// is free, creates a new pending run. Returns ErrAlreadyRunning without
// mutating anything when a pending or running job holds the lane. This is
// the synchronization point that prevents overlapping ingestion for a key.
func (t *RunTracker) TryStart(key models.RunKey, reason models.TriggerReason) (*models.JobRun, error) {
	l := t.lane(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil && !l.active.State.Terminal() {
		return nil, ErrAlreadyRunning
	}

	run := &models.JobRun{
		ID:            uuid.NewString(),
		Symbol:        key.Symbol,
		ScheduleType:  key.ScheduleType,
		State:         models.RunStatePending,
		TriggerReason: reason,
		StartedAt:     time.Now(),
	}
	l.active = run

	t.mu.Lock()
	t.runs[run.ID] = run
	t.mu.Unlock()

	out := *run
	return &out, nil
}

// MarkRunning transitions a pending run to running once the dispatcher
// acknowledges the start.
func (t *RunTracker) MarkRunning(runID string) error {
	run, l, err := t.find(runID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if run.State != models.RunStatePending {
		return ErrInvalidTransition
	}
	run.State = models.RunStateRunning
	return nil
}

// MarkFinished transitions a run to a terminal outcome and records it in
// the key's history window. Duplicate completion events hit the terminal
// check and return ErrInvalidTransition; callers log, never retry.
func (t *RunTracker) MarkFinished(runID string, outcome models.RunState, runErr error) error {
	if !outcome.Terminal() {
		return ErrInvalidTransition
	}
	run, l, err := t.find(runID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch run.State {
	case models.RunStatePending:
		// Before the dispatcher acknowledged, the only exit is a reject.
		if outcome != models.RunStateFailed {
			return ErrInvalidTransition
		}
	case models.RunStateRunning:
	default:
		return ErrInvalidTransition
	}

	now := time.Now()
	run.State = outcome
	run.EndedAt = &now
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if l.active != nil && l.active.ID == run.ID {
		l.active = nil
	}
	l.history = append(l.history, run)
	if len(l.history) > t.historyLimit {
		evicted := l.history[0]
		l.history = l.history[1:]
		t.mu.Lock()
		delete(t.runs, evicted.ID)
		t.mu.Unlock()
	}

	if t.archive != nil {
		if err := t.archive.ArchiveRun(run); err != nil {
			t.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to archive run")
		}
	}
	return nil
}

// ActiveRun returns the pending or running job for key, or nil.
func (t *RunTracker) ActiveRun(key models.RunKey) *models.JobRun {
	t.mu.RLock()
	l, ok := t.lanes[key]
	t.mu.RUnlock()
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return nil
	}
	out := *l.active
	return &out
}

// RecentRuns returns up to limit runs for key, newest first, with the
// in-flight run (if any) leading.
func (t *RunTracker) RecentRuns(key models.RunKey, limit int) []*models.JobRun {
	if limit <= 0 {
		limit = t.historyLimit
	}

	t.mu.RLock()
	l, ok := t.lanes[key]
	t.mu.RUnlock()
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.JobRun
	if l.active != nil {
		cp := *l.active
		out = append(out, &cp)
	}
	for i := len(l.history) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *l.history[i]
		out = append(out, &cp)
	}
	return out
}

// Run returns the tracked run with the given id.
func (t *RunTracker) Run(runID string) (*models.JobRun, error) {
	run, l, err := t.find(runID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	out := *run
	l.mu.Unlock()
	return &out, nil
}

// ActiveRuns returns a snapshot of all in-flight runs across keys.
func (t *RunTracker) ActiveRuns() []*models.JobRun {
	t.mu.RLock()
	lanes := make([]*lane, 0, len(t.lanes))
	for _, l := range t.lanes {
		lanes = append(lanes, l)
	}
	t.mu.RUnlock()

	var out []*models.JobRun
	for _, l := range lanes {
		l.mu.Lock()
		if l.active != nil {
			cp := *l.active
			out = append(out, &cp)
		}
		l.mu.Unlock()
	}
	return out
}

func (t *RunTracker) find(runID string) (*models.JobRun, *lane, error) {
	t.mu.RLock()
	run, ok := t.runs[runID]
	t.mu.RUnlock()
	if !ok {
		return nil, nil, ErrUnknownRun
	}
	return run, t.lane(run.Key()), nil
}
