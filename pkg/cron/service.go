package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/rs/zerolog"
)

// Service pushes each job's call into the proxy on the job's schedule.
type Service struct {
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	options ServiceOptions
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a cron service. Jobs are scheduled as they are added.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Pusher == nil {
		return nil, fmt.Errorf("pusher is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		options: opts,
		logger:  opts.Logger.With().Str("component", "cron").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// AddJob validates spec and schedules it unless it is disabled.
func (s *Service) AddJob(spec JobSpec) (*Job, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if _, err := commandqueue.ParseCall(spec.Call); err != nil {
		return nil, fmt.Errorf("job %q: %w", spec.Name, err)
	}

	now := s.options.Now()
	nextRunAtMs, err := CalculateNextRun(spec.Schedule, now)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", spec.Name, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("service is stopped")
	}

	job := &Job{
		ID:          uuid.New().String(),
		Spec:        spec,
		CreatedAtMs: now.UnixMilli(),
		State: JobState{
			NextRunAtMs: Int64Ptr(nextRunAtMs),
		},
	}
	job.Spec.Call = append(commandqueue.Call(nil), spec.Call...)
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()

	s.logger.Info().
		Str("jobId", job.ID).
		Str("name", spec.Name).
		Str("kind", string(spec.Schedule.Kind)).
		Bool("enabled", !spec.Disabled).
		Msg("Job added")

	s.notify(Event{Action: EventActionAdded, JobID: job.ID, Name: spec.Name, NextRunAtMs: Int64Ptr(nextRunAtMs)})

	if !spec.Disabled {
		s.mu.Lock()
		if _, exists := s.jobs[job.ID]; exists && !s.stopped {
			s.scheduleJobLocked(job)
		}
		s.mu.Unlock()
	}

	return &snapshot, nil
}

// RemoveJob cancels and forgets a job.
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	s.cancelJobLocked(id)
	delete(s.jobs, id)
	s.mu.Unlock()

	s.logger.Info().Str("jobId", id).Msg("Job removed")
	s.notify(Event{Action: EventActionRemoved, JobID: id, Name: job.Spec.Name})
	return nil
}

// RunNow pushes a job's call immediately without changing its schedule.
func (s *Service) RunNow(id string) error {
	s.mu.RLock()
	job, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.push(job)
	return nil
}

// ListJobs returns all jobs ordered by creation time.
func (s *Service) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAtMs == jobs[j].CreatedAtMs {
			return jobs[i].Spec.Name < jobs[j].Spec.Name
		}
		return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
	})
	return jobs
}

// GetJob returns a copy of the job with id.
func (s *Service) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Stop cancels every timer. Jobs already firing finish their push.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.stopped = true
	s.cancel()

	for id := range s.timers {
		s.cancelJobLocked(id)
	}

	s.logger.Info().Msg("Cron service stopped")
}

// scheduleJobLocked schedules a job (must hold lock)
func (s *Service) scheduleJobLocked(job *Job) {
	if job.State.NextRunAtMs == nil {
		return
	}

	nextRunAtMs := *job.State.NextRunAtMs
	delay := nextRunAtMs - s.options.Now().UnixMilli()
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timers[id] = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		s.fire(id)
	})

	s.logger.Debug().
		Str("jobId", id).
		Int64("delayMs", delay).
		Time("nextRun", time.UnixMilli(nextRunAtMs)).
		Msg("Job scheduled")
}

// cancelJobLocked cancels a job's timer (must hold lock)
func (s *Service) cancelJobLocked(id string) {
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) fire(id string) {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	s.push(job)

	s.mu.Lock()
	if _, exists := s.jobs[id]; !exists || s.stopped {
		s.mu.Unlock()
		return
	}

	// at-jobs fire once
	if job.Spec.Schedule.Kind == ScheduleKindAt {
		job.State.NextRunAtMs = nil
		s.mu.Unlock()
		s.notify(Event{Action: EventActionFinished, JobID: id, Name: job.Spec.Name})
		return
	}

	nextRunAtMs, err := CalculateNextRun(job.Spec.Schedule, s.options.Now())
	if err != nil {
		job.State.NextRunAtMs = nil
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("jobId", id).Msg("Failed to calculate next run")
		return
	}
	job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
	s.scheduleJobLocked(job)
	s.mu.Unlock()
}

func (s *Service) push(job *Job) {
	s.mu.Lock()
	job.State.Runs++
	job.State.LastRunAtMs = Int64Ptr(s.options.Now().UnixMilli())
	name := job.Spec.Name
	call := append(commandqueue.Call(nil), job.Spec.Call...)
	s.mu.Unlock()

	ctx := tracing.NewPushContext(s.ctx, "cron")
	ctx = tracing.WithRequestID(ctx, job.ID)

	s.options.Metrics.RecordScheduledPush(name)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("jobId", job.ID).
		Str("name", name).
		Msg("Pushing scheduled call")

	s.options.Pusher.PushContext(ctx, call)

	s.notify(Event{Action: EventActionPushed, JobID: job.ID, Name: name})
}

func (s *Service) notify(evt Event) {
	if s.options.OnEvent != nil {
		s.options.OnEvent(evt)
	}
}
