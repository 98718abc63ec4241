package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Search horizon for NextOccurrence. Expressions that never match inside
// this window (e.g. "0 0 31 2 *") report ErrNoOccurrence instead of
// spinning forward forever.
const cronSearchHorizon = 4 * 365 * 24 * time.Hour

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// parseExpression parses a 5-field cron expression, wrapping failures in
// ErrInvalidExpression.
func parseExpression(expr string) (cron.Schedule, error) {
	if fields := strings.Fields(expr); len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidExpression, len(fields))
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return sched, nil
}

// ValidateExpression checks that expr is a well-formed 5-field cron
// expression (minute hour day-of-month month day-of-week). Used at
// schedule creation so a bad expression is rejected before it is stored.
func ValidateExpression(expr string) error {
	_, err := parseExpression(expr)
	return err
}

// NextOccurrence returns the earliest instant strictly after `after` that
// matches expr. Granularity is one minute; day-of-month and day-of-week
// follow the cron convention (OR when both are restricted). The result is
// deterministic for a given (expr, after) pair.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	sched, err := parseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}

	next := sched.Next(after)
	if next.IsZero() || next.Sub(after) > cronSearchHorizon {
		return time.Time{}, fmt.Errorf("%w: %q after %s", ErrNoOccurrence, expr, after.Format(time.RFC3339))
	}
	return next, nil
}
