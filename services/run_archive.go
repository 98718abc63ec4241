package services

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market_ingestion_service/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// RunArchiveStore persists terminal job runs to SQLite so run history
// survives restarts. The in-memory tracker stays authoritative for the
// overlap guarantee; this store only serves history queries.
type RunArchiveStore struct {
	db        *sql.DB
	retention int
	log       zerolog.Logger
}

// NewRunArchiveStore opens (or creates) the archive database at path.
func NewRunArchiveStore(path string, retention int, log zerolog.Logger) (*RunArchiveStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping run archive: %w", err)
	}

	store := &RunArchiveStore{
		db:        db,
		retention: retention,
		log:       log.With().Str("component", "run_archive").Logger(),
	}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *RunArchiveStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			id             TEXT PRIMARY KEY,
			symbol         TEXT NOT NULL,
			schedule_type  TEXT NOT NULL,
			state          TEXT NOT NULL,
			trigger_reason TEXT NOT NULL,
			started_at     TIMESTAMP NOT NULL,
			ended_at       TIMESTAMP,
			error          TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_job_runs_key
			ON job_runs (symbol, schedule_type, started_at DESC);
	`)
	return err
}

// ArchiveRun inserts a terminal run. Re-delivery of the same run id
// overwrites the row, which keeps the archive idempotent.
func (s *RunArchiveStore) ArchiveRun(run *models.JobRun) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO job_runs
			(id, symbol, schedule_type, state, trigger_reason, started_at, ended_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, string(run.ScheduleType), string(run.State),
		string(run.TriggerReason), run.StartedAt, run.EndedAt, run.Error,
	)
	return err
}

// RecentRuns returns up to limit archived runs for a key, newest first.
func (s *RunArchiveStore) RecentRuns(key models.RunKey, limit int) ([]*models.JobRun, error) {
	if limit <= 0 {
		limit = s.retention
	}

	rows, err := s.db.Query(`
		SELECT id, symbol, schedule_type, state, trigger_reason, started_at, ended_at, error
		FROM job_runs
		WHERE symbol = ? AND schedule_type = ?
		ORDER BY started_at DESC
		LIMIT ?`,
		key.Symbol, string(key.ScheduleType), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.JobRun
	for rows.Next() {
		var run models.JobRun
		var endedAt sql.NullTime
		var runErr sql.NullString
		if err := rows.Scan(&run.ID, &run.Symbol, &run.ScheduleType, &run.State,
			&run.TriggerReason, &run.StartedAt, &endedAt, &runErr); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t := endedAt.Time
			run.EndedAt = &t
		}
		if runErr.Valid {
			run.Error = runErr.String
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

// Prune trims each key's history to the configured retention count,
// evicting oldest-first.
func (s *RunArchiveStore) Prune() error {
	res, err := s.db.Exec(`
		DELETE FROM job_runs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY symbol, schedule_type
					ORDER BY started_at DESC
				) AS rn
				FROM job_runs
			) WHERE rn > ?
		)`, s.retention)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info().Int64("evicted", n).Msg("pruned run archive")
	}
	return nil
}

// DeleteBefore removes archived runs that started before the cutoff.
func (s *RunArchiveStore) DeleteBefore(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM job_runs WHERE started_at < ?`, cutoff)
	return err
}

// Close closes the underlying database.
func (s *RunArchiveStore) Close() error {
	return s.db.Close()
}
