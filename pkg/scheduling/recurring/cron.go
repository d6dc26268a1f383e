package recurring

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/common/validation"
)

// parser accepts the standard five-field format, an optional leading seconds
// field and descriptors such as "@hourly" or "@every 5m".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse returns the schedule described by expr.
func Parse(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, errors.NewValidationError("recurring", "cron", expr, "cannot be empty").
			WithHint(`use a cron expression such as "*/5 * * * *" or "@hourly"`)
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.NewValidationError("recurring", "cron", expr, err.Error()).
			WithHint(`use "min hour dom month dow", an optional leading seconds field, or a descriptor`)
	}
	return schedule, nil
}

// Validate reports whether expr can be parsed.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextRuns returns the next n activation times of expr after from, evaluated
// in loc. A nil loc means time.Local.
func NextRuns(expr string, from time.Time, loc *time.Location, n int) ([]time.Time, error) {
	if err := validation.ValidateNonNegative("recurring", "count", n); err != nil {
		return nil, err
	}
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	runs := make([]time.Time, 0, n)
	current := from.In(loc)
	for i := 0; i < n; i++ {
		current = schedule.Next(current)
		if current.IsZero() {
			break
		}
		runs = append(runs, current)
	}
	return runs, nil
}

// everySchedule fires at a fixed interval from the previous activation.
type everySchedule struct {
	interval time.Duration
}

func (e everySchedule) Next(t time.Time) time.Time {
	return t.Add(e.interval)
}

// onceSchedule has no activation after the first one.
type onceSchedule struct{}

func (o onceSchedule) Next(time.Time) time.Time {
	return time.Time{}
}
