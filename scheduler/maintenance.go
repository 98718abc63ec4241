package scheduler

import (
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// MaintenanceHooks are the housekeeping callbacks the maintenance
// scheduler drives. Nil hooks are skipped.
type MaintenanceHooks struct {
	// PruneRunArchive trims the durable run history to its retention bound.
	PruneRunArchive func() error
	// RefreshAvailability rebuilds the data-availability cache.
	RefreshAvailability func() error
	// CleanupPriceData removes price data past its retention window.
	CleanupPriceData func() error
}

// Maintenance runs the fixed housekeeping jobs around the scheduler loop.
type Maintenance struct {
	cron  *gocron.Scheduler
	hooks MaintenanceHooks
	log   zerolog.Logger
}

// NewMaintenance creates the maintenance scheduler. Jobs run in the market
// timezone so "after close" times line up with trading hours.
func NewMaintenance(hooks MaintenanceHooks, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		cron:  gocron.NewScheduler(marketLocation()),
		hooks: hooks,
		log:   log.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers and launches all maintenance jobs.
func (m *Maintenance) Start() {
	// Refresh availability stats daily after market close.
	m.cron.Every(1).Day().At("16:30").Do(func() {
		m.runHook("refresh_availability", m.hooks.RefreshAvailability)
	})

	// Trim run history daily before the open.
	m.cron.Every(1).Day().At("01:00").Do(func() {
		m.runHook("prune_run_archive", m.hooks.PruneRunArchive)
	})

	// Remove old price data weekly while markets are closed.
	m.cron.Every(1).Week().Sunday().At("02:00").Do(func() {
		m.runHook("cleanup_price_data", m.hooks.CleanupPriceData)
	})

	m.cron.StartAsync()
	m.log.Info().Msg("maintenance jobs started")
}

// Stop halts all maintenance jobs.
func (m *Maintenance) Stop() {
	m.cron.Stop()
	m.log.Info().Msg("maintenance jobs stopped")
}

func (m *Maintenance) runHook(name string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		m.log.Error().Err(err).Str("job", name).Msg("maintenance job failed")
		return
	}
	m.log.Info().Str("job", name).Msg("maintenance job completed")
}
