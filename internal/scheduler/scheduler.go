// Package scheduler provides in-process cron scheduling of workflows: a job
// table mapping cron expressions to workflow specs, with a tick loop that
// fires due jobs through the engine.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/veloflow/veloflow/pkg/schema"
)

// defaultTickInterval is how often the loop checks for due jobs.
const defaultTickInterval = time.Second

// Runner executes a workflow; satisfied by engine.WorkflowRunner.
type Runner interface {
	Run(ctx context.Context, spec *schema.WorkflowSpec, globals map[string]any) *schema.RunReport
}

// Job is one scheduled workflow entry.
type Job struct {
	ID             string         `json:"id"`
	WorkflowName   string         `json:"workflow_name"`
	CronExpression string         `json:"cron_expression"`
	Globals        map[string]any `json:"globals,omitempty"`
	Enabled        bool           `json:"enabled"`
	NextRunAt      time.Time      `json:"next_run_at"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`

	spec     *schema.WorkflowSpec
	schedule cron.Schedule
}

// Scheduler owns the job table and the tick loop.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	runner Runner
	logger *slog.Logger
	tick   time.Duration

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the due-job check interval. Short intervals are
// useful in tests.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// New creates a scheduler that dispatches due jobs through the runner.
func New(runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		jobs:   make(map[string]*Job),
		runner: runner,
		logger: logger,
		tick:   defaultTickInterval,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a workflow on a standard 5-field cron expression and returns
// the job ID. The job starts enabled.
func (s *Scheduler) Add(spec *schema.WorkflowSpec, cronExpr string, globals map[string]any) (string, error) {
	if spec == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "workflow spec is nil")
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}

	job := &Job{
		ID:             uuid.NewString(),
		WorkflowName:   spec.Name,
		CronExpression: cronExpr,
		Globals:        globals,
		Enabled:        true,
		NextRunAt:      sched.Next(time.Now()),
		spec:           spec,
		schedule:       sched,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("job scheduled", "job_id", job.ID, "workflow", spec.Name, "cron", cronExpr, "next_run", job.NextRunAt)
	return job.ID, nil
}

// Remove deletes a job from the table.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown job: %s", id)
	}
	delete(s.jobs, id)
	return nil
}

// SetEnabled toggles a job without removing it. Re-enabling recomputes the
// next fire time so a long-disabled job does not fire immediately.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown job: %s", id)
	}
	if enabled && !job.Enabled {
		job.NextRunAt = job.schedule.Next(time.Now())
	}
	job.Enabled = enabled
	return nil
}

// List returns a snapshot of all jobs, sorted by next fire time.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	return out
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop shuts the loop down and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

// fireDue runs every enabled job whose fire time has passed, advancing its
// schedule first so a slow run cannot double-fire.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRunAt.After(now) {
			job.NextRunAt = job.schedule.Next(now)
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(ctx, job, now)
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, firedAt time.Time) {
	s.logger.Info("job fired", "job_id", job.ID, "workflow", job.WorkflowName)
	report := s.runner.Run(ctx, job.spec, job.Globals)

	s.mu.Lock()
	job.LastRunAt = &firedAt
	job.LastRunStatus = string(report.Status)
	s.mu.Unlock()

	if report.Status == schema.RunStatusError {
		s.logger.Warn("scheduled run failed", "job_id", job.ID, "workflow", job.WorkflowName, "error", report.Error)
	}
}
