package scheduler

import (
	"errors"
	"sync"
	"time"

	"market_ingestion_service/models"

	"github.com/rs/zerolog"
)

const (
	// DefaultTickInterval matches cron's minute granularity.
	DefaultTickInterval = time.Minute
	eventQueueSize      = 256
)

// Loop is the coordination core: each tick it reads the enabled schedules,
// asks the cron evaluator which are due, guards dispatch through the run
// tracker and hands the work to the dispatcher. Ticks never overlap; within
// a tick schedules are evaluated concurrently because each decision only
// touches its own run key.
type Loop struct {
	store      ScheduleStore
	tracker    *RunTracker
	dispatcher Dispatcher
	clock      Clock
	log        zerolog.Logger

	tickInterval time.Duration
	events       chan RunEvent

	// stopIssued marks run ids the loop has already issued a stop for, so
	// one running live job receives exactly one StopLiveStream call even
	// when duplicate schedules share a key.
	stopIssued sync.Map

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLoop wires the scheduler loop with its collaborators. clock may be nil
// to use the system clock.
func NewLoop(store ScheduleStore, tracker *RunTracker, dispatcher Dispatcher, clock Clock, log zerolog.Logger) *Loop {
	if clock == nil {
		clock = SystemClock()
	}
	return &Loop{
		store:        store,
		tracker:      tracker,
		dispatcher:   dispatcher,
		clock:        clock,
		log:          log.With().Str("component", "scheduler_loop").Logger(),
		tickInterval: DefaultTickInterval,
		events:       make(chan RunEvent, eventQueueSize),
	}
}

// SetTickInterval overrides the tick cadence. Only effective before Start.
func (l *Loop) SetTickInterval(d time.Duration) {
	if d > 0 {
		l.tickInterval = d
	}
}

// Events returns the channel dispatchers deliver run lifecycle events on.
func (l *Loop) Events() chan<- RunEvent { return l.events }

// SetDispatcher installs the dispatcher. Dispatchers consume the loop's
// event channel, so construction order forces this to happen after NewLoop.
// Only effective before Start.
func (l *Loop) SetDispatcher(d Dispatcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dispatcher = d
}

// Tracker exposes the run tracker for the admin API.
func (l *Loop) Tracker() *RunTracker { return l.tracker }

// Store exposes the schedule store for the admin API.
func (l *Loop) Store() ScheduleStore {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store
}

// SwapStore replaces the schedule store, migrating nothing: callers are
// expected to swap before any schedules exist in the old store, or to have
// re-seeded the new one. Used when the database comes up after boot.
func (l *Loop) SwapStore(store ScheduleStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = store
}

// Start launches the tick and event goroutines. Safe to call once.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})

	l.wg.Add(2)
	go l.tickLoop()
	go l.eventLoop()
	l.log.Info().Dur("tick_interval", l.tickInterval).Msg("scheduler loop started")
}

// Stop halts ticking and event consumption. In-flight jobs are not
// cancelled; their completion events are dropped after shutdown.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
	l.log.Info().Msg("scheduler loop stopped")
}

func (l *Loop) tickLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Tick(l.clock.Now())
		}
	}
}

func (l *Loop) eventLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopCh:
			return
		case ev := <-l.events:
			l.handleEvent(ev)
		}
	}
}

func (l *Loop) handleEvent(ev RunEvent) {
	switch ev.Type {
	case RunEventStarted:
		if err := l.tracker.MarkRunning(ev.RunID); err != nil {
			l.log.Warn().Err(err).Str("run_id", ev.RunID).Msg("stale start event")
		}
	case RunEventFinished:
		if err := l.tracker.MarkFinished(ev.RunID, ev.Outcome, ev.Err); err != nil {
			// Duplicate or stale delivery from the dispatcher; log only.
			l.log.Warn().Err(err).Str("run_id", ev.RunID).Str("outcome", string(ev.Outcome)).Msg("dropped completion event")
		}
	default:
		l.log.Warn().Str("type", string(ev.Type)).Msg("unknown run event type")
	}
}

// Tick evaluates every enabled schedule against now. Exported so tests and
// the manual-trigger path can drive the loop without the ticker.
func (l *Loop) Tick(now time.Time) {
	l.mu.Lock()
	store := l.store
	l.mu.Unlock()

	schedules, err := store.ListEnabled("")
	if err != nil {
		l.log.Error().Err(err).Msg("failed to list enabled schedules")
		return
	}

	var wg sync.WaitGroup
	for _, s := range schedules {
		wg.Add(1)
		go func(s *models.Schedule) {
			defer wg.Done()
			l.evaluate(store, now, s)
		}(s)
	}
	wg.Wait()

	// Drop stop markers for runs that have reached a terminal state.
	l.stopIssued.Range(func(k, _ any) bool {
		run, err := l.tracker.Run(k.(string))
		if err != nil || run.State.Terminal() {
			l.stopIssued.Delete(k)
		}
		return true
	})
}

// evaluate handles one schedule for one tick. Errors are logged and
// confined here so one bad schedule cannot block the others.
func (l *Loop) evaluate(store ScheduleStore, now time.Time, s *models.Schedule) {
	if s.ScheduleType == models.ScheduleTypeLive {
		l.checkAutoStop(now, s)
	}

	if s.NextRun == nil {
		next, err := NextOccurrence(s.CronExpression, now)
		if err != nil {
			// Bad expression: treat the schedule as never due until the
			// admin corrects it.
			l.log.Error().Err(err).Str("schedule_id", s.ID).Str("symbol", s.Symbol).Msg("schedule has no computable next run")
			return
		}
		if err := store.UpdateRunTimes(s.ID, &next, nil); err != nil {
			l.log.Warn().Err(err).Str("schedule_id", s.ID).Msg("failed to persist next run")
		}
		return
	}

	if now.Before(*s.NextRun) {
		return
	}

	switch s.ScheduleType {
	case models.ScheduleTypeHistorical:
		l.fireHistorical(store, now, s)
	case models.ScheduleTypeLive:
		l.fireLive(store, now, s)
	default:
		l.log.Warn().Str("schedule_id", s.ID).Str("type", string(s.ScheduleType)).Msg("unknown schedule type")
	}
}

func (l *Loop) fireHistorical(store ScheduleStore, now time.Time, s *models.Schedule) {
	run, err := l.tracker.TryStart(s.Key(), models.TriggerScheduled)
	if errors.Is(err, ErrAlreadyRunning) {
		// Prior run still in flight: skip without advancing NextRun so the
		// schedule stays due and fires once the run completes.
		l.log.Debug().Str("schedule_id", s.ID).Str("symbol", s.Symbol).Msg("historical fetch already in flight, skipping tick")
		return
	}
	if err != nil {
		l.log.Error().Err(err).Str("schedule_id", s.ID).Msg("try-start failed")
		return
	}

	if err := l.dispatcher.StartHistoricalFetch(run.ID, s.Symbol, s.Config); err != nil {
		derr := &DispatchError{Symbol: s.Symbol, Op: "start_historical", Err: err}
		l.log.Error().Err(derr).Str("run_id", run.ID).Msg("historical dispatch rejected")
		if merr := l.tracker.MarkFinished(run.ID, models.RunStateFailed, derr); merr != nil {
			l.log.Warn().Err(merr).Str("run_id", run.ID).Msg("failed to mark rejected run")
		}
	} else {
		l.log.Info().Str("run_id", run.ID).Str("symbol", s.Symbol).Strs("intervals", s.Config.Intervals).Msg("historical fetch dispatched")
	}

	// The schedule fired; the next cron boundary applies whether or not the
	// dispatch was rejected (retry waits for the next occurrence).
	l.advance(store, now, s)
}

func (l *Loop) fireLive(store ScheduleStore, now time.Time, s *models.Schedule) {
	if !s.Config.AutoStart {
		// Start boundary reached but auto-start is off; consume the window
		// so the schedule is not re-evaluated as due every tick.
		l.advance(store, now, s)
		return
	}

	run, err := l.tracker.TryStart(s.Key(), models.TriggerAutoStart)
	if errors.Is(err, ErrAlreadyRunning) {
		l.log.Debug().Str("schedule_id", s.ID).Str("symbol", s.Symbol).Msg("live stream already running, skipping start")
		return
	}
	if err != nil {
		l.log.Error().Err(err).Str("schedule_id", s.ID).Msg("try-start failed")
		return
	}

	if err := l.dispatcher.StartLiveStream(run.ID, s.Symbol, s.Config); err != nil {
		derr := &DispatchError{Symbol: s.Symbol, Op: "start_live", Err: err}
		l.log.Error().Err(derr).Str("run_id", run.ID).Msg("live dispatch rejected")
		if merr := l.tracker.MarkFinished(run.ID, models.RunStateFailed, derr); merr != nil {
			l.log.Warn().Err(merr).Str("run_id", run.ID).Msg("failed to mark rejected run")
		}
	} else {
		l.log.Info().Str("run_id", run.ID).Str("symbol", s.Symbol).Msg("live stream dispatched")
	}

	l.advance(store, now, s)
}

// checkAutoStop stops a running live job once the market-close boundary is
// passed. Runs every tick, independent of the schedule being due.
func (l *Loop) checkAutoStop(now time.Time, s *models.Schedule) {
	if !s.Config.AutoStop {
		return
	}
	active := l.tracker.ActiveRun(s.Key())
	if active == nil || active.State != models.RunStateRunning {
		return
	}
	if IsMarketOpen(now) {
		return
	}
	if _, issued := l.stopIssued.LoadOrStore(active.ID, struct{}{}); issued {
		return
	}

	if err := l.dispatcher.StopLiveStream(s.Symbol); err != nil {
		derr := &DispatchError{Symbol: s.Symbol, Op: "stop_live", Err: err}
		l.log.Error().Err(derr).Str("run_id", active.ID).Msg("live stop failed")
		if merr := l.tracker.MarkFinished(active.ID, models.RunStateFailed, derr); merr != nil {
			l.log.Warn().Err(merr).Str("run_id", active.ID).Msg("failed to mark stopped run")
		}
		return
	}

	if err := l.tracker.MarkFinished(active.ID, models.RunStateStopped, nil); err != nil {
		l.log.Warn().Err(err).Str("run_id", active.ID).Msg("failed to mark stopped run")
		return
	}
	l.log.Info().Str("run_id", active.ID).Str("symbol", s.Symbol).Msg("live stream auto-stopped after market close")
}

func (l *Loop) advance(store ScheduleStore, now time.Time, s *models.Schedule) {
	next, err := NextOccurrence(s.CronExpression, now)
	if err != nil {
		l.log.Error().Err(err).Str("schedule_id", s.ID).Msg("failed to advance next run")
		return
	}
	if err := store.UpdateRunTimes(s.ID, &next, &now); err != nil {
		l.log.Warn().Err(err).Str("schedule_id", s.ID).Msg("failed to persist run times")
	}
}

// RunNow manually triggers a schedule outside its cron cadence. The same
// overlap guard applies: a second trigger while a run is in flight returns
// ErrAlreadyRunning.
func (l *Loop) RunNow(scheduleID string) (*models.JobRun, error) {
	l.mu.Lock()
	store := l.store
	l.mu.Unlock()

	s, err := store.Get(scheduleID)
	if err != nil {
		return nil, err
	}

	run, err := l.tracker.TryStart(s.Key(), models.TriggerManual)
	if err != nil {
		return nil, err
	}

	var derr error
	switch s.ScheduleType {
	case models.ScheduleTypeLive:
		derr = l.dispatcher.StartLiveStream(run.ID, s.Symbol, s.Config)
	default:
		derr = l.dispatcher.StartHistoricalFetch(run.ID, s.Symbol, s.Config)
	}
	if derr != nil {
		wrapped := &DispatchError{Symbol: s.Symbol, Op: "start_" + string(s.ScheduleType), Err: derr}
		if merr := l.tracker.MarkFinished(run.ID, models.RunStateFailed, wrapped); merr != nil {
			l.log.Warn().Err(merr).Str("run_id", run.ID).Msg("failed to mark rejected run")
		}
		return nil, wrapped
	}

	now := l.clock.Now()
	if err := store.UpdateRunTimes(s.ID, s.NextRun, &now); err != nil {
		l.log.Warn().Err(err).Str("schedule_id", s.ID).Msg("failed to persist last run")
	}
	return run, nil
}

// StopLive issues a manual stop for the schedule's running live job.
func (l *Loop) StopLive(scheduleID string) (*models.JobRun, error) {
	l.mu.Lock()
	store := l.store
	l.mu.Unlock()

	s, err := store.Get(scheduleID)
	if err != nil {
		return nil, err
	}
	if s.ScheduleType != models.ScheduleTypeLive {
		return nil, ErrUnknownRun
	}

	active := l.tracker.ActiveRun(s.Key())
	if active == nil || active.State != models.RunStateRunning {
		return nil, ErrUnknownRun
	}
	if _, issued := l.stopIssued.LoadOrStore(active.ID, struct{}{}); issued {
		return nil, ErrInvalidTransition
	}

	if err := l.dispatcher.StopLiveStream(s.Symbol); err != nil {
		derr := &DispatchError{Symbol: s.Symbol, Op: "stop_live", Err: err}
		if merr := l.tracker.MarkFinished(active.ID, models.RunStateFailed, derr); merr != nil {
			l.log.Warn().Err(merr).Str("run_id", active.ID).Msg("failed to mark stopped run")
		}
		return nil, derr
	}
	if err := l.tracker.MarkFinished(active.ID, models.RunStateStopped, nil); err != nil {
		return nil, err
	}
	return l.tracker.Run(active.ID)
}
