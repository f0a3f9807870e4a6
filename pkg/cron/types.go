package cron

import (
	"context"
	"time"

	"github.com/harun/trackq/internal/metrics"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for job execution
type Schedule struct {
	Kind ScheduleKind `json:"kind" mapstructure:"kind"`

	// For "at" schedule, RFC 3339
	At string `json:"at,omitempty" mapstructure:"at"`

	// For "every" schedule
	EveryMs  int64  `json:"everyMs,omitempty" mapstructure:"everyMs"`
	AnchorMs *int64 `json:"anchorMs,omitempty" mapstructure:"anchorMs"`

	// For "cron" schedule, 5-field format
	Expr string `json:"expr,omitempty" mapstructure:"expr"`
	TZ   string `json:"tz,omitempty" mapstructure:"tz"`
}

// JobSpec declares a job: the call to push and when to push it.
type JobSpec struct {
	Name     string            `json:"name" mapstructure:"name"`
	Schedule Schedule          `json:"schedule" mapstructure:"schedule"`
	Call     commandqueue.Call `json:"call" mapstructure:"call"`
	Disabled bool              `json:"disabled,omitempty" mapstructure:"disabled"`
}

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAtMs *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMs *int64 `json:"lastRunAtMs,omitempty"`
	Runs        int    `json:"runs"`
}

// Job is a registered JobSpec with its runtime state.
type Job struct {
	ID          string   `json:"id"`
	Spec        JobSpec  `json:"spec"`
	CreatedAtMs int64    `json:"createdAtMs"`
	State       JobState `json:"state"`
}

// EventAction represents the type of event
type EventAction string

const (
	EventActionAdded    EventAction = "added"
	EventActionRemoved  EventAction = "removed"
	EventActionPushed   EventAction = "pushed"
	EventActionFinished EventAction = "finished"
)

// Event represents a scheduler event
type Event struct {
	Action      EventAction `json:"action"`
	JobID       string      `json:"jobId"`
	Name        string      `json:"name"`
	NextRunAtMs *int64      `json:"nextRunAtMs,omitempty"`
}

// Pusher accepts calls for dispatch. *commandqueue.Proxy satisfies it.
type Pusher interface {
	PushContext(ctx context.Context, calls ...commandqueue.Call)
}

// ServiceOptions configures the cron service
type ServiceOptions struct {
	Pusher  Pusher
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	OnEvent func(evt Event)
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Int64Ptr returns a pointer to an int64 value
func Int64Ptr(v int64) *int64 {
	return &v
}
