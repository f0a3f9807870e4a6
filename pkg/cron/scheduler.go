package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for schedules that can never fire.
var ErrInvalidSchedule = errors.New("invalid schedule")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextRun returns the next fire time after now, in Unix
// milliseconds. An "at" schedule in the past returns its own time, which
// callers treat as due immediately.
func CalculateNextRun(schedule Schedule, now time.Time) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextAt(schedule)
	case ScheduleKindEvery:
		return nextEvery(schedule, now)
	case ScheduleKindCron:
		return nextCron(schedule, now)
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, schedule.Kind)
	}
}

// Validate reports whether schedule can be computed.
func (s Schedule) Validate() error {
	_, err := CalculateNextRun(s, time.Now())
	return err
}

func nextAt(schedule Schedule) (int64, error) {
	if schedule.At == "" {
		return 0, fmt.Errorf("%w: 'at' schedule requires 'at' field", ErrInvalidSchedule)
	}

	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid timestamp: %v", ErrInvalidSchedule, err)
	}

	return t.UnixMilli(), nil
}

func nextEvery(schedule Schedule, now time.Time) (int64, error) {
	if schedule.EveryMs <= 0 {
		return 0, fmt.Errorf("%w: 'every' schedule requires positive 'everyMs'", ErrInvalidSchedule)
	}

	nowMs := now.UnixMilli()
	if schedule.AnchorMs == nil {
		return nowMs + schedule.EveryMs, nil
	}

	anchor := *schedule.AnchorMs
	elapsed := nowMs - anchor
	if elapsed < 0 {
		return anchor, nil
	}

	periods := elapsed / schedule.EveryMs
	return anchor + (periods+1)*schedule.EveryMs, nil
}

func nextCron(schedule Schedule, now time.Time) (int64, error) {
	if schedule.Expr == "" {
		return 0, fmt.Errorf("%w: 'cron' schedule requires 'expr' field", ErrInvalidSchedule)
	}

	sched, err := cronParser.Parse(schedule.Expr)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidSchedule, err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid timezone: %v", ErrInvalidSchedule, err)
		}
		now = now.In(loc)
	}

	return sched.Next(now).UnixMilli(), nil
}
