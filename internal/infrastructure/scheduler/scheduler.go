// Package scheduler runs periodic background jobs such as data backups and
// report exports. Timing is delegated to gocron; this package adds job
// bookkeeping, history and metrics on top.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrInvalidInterval         = errors.New("job interval must be positive")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobPanicked             = errors.New("job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is a unit of background work. Run's context is cancelled when the
// scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// JobResult describes one run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool // started by RunNow
}

// JobInfo is a registered job with its counters.
type JobInfo struct {
	Name        string
	Description string
	Interval    time.Duration
	LastRun     time.Time
	NextRun     time.Time // zero while the scheduler is stopped
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// Config contains configuration for the Scheduler.
type Config struct {
	Logger         *slog.Logger
	Timezone       *time.Location // UTC when nil
	MaxHistorySize int            // results kept for GetHistory
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

type entry struct {
	job      Job
	interval time.Duration
	cron     *gocron.Job
	info     JobInfo
}

// Scheduler runs each registered job on its own interval. A job never
// overlaps with itself.
type Scheduler struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	cron    *gocron.Scheduler
	entries map[string]*entry

	running   bool
	startedAt time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup

	history    []JobResult
	historyCap int
	metrics    *Metrics
	onError    func(job string, err error)
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 1000
	}

	cron := gocron.NewScheduler(cfg.Timezone)
	cron.SingletonModeAll()

	return &Scheduler{
		logger:     cfg.Logger.With(logger.Component("scheduler")),
		cron:       cron,
		entries:    make(map[string]*entry),
		historyCap: cfg.MaxHistorySize,
		metrics:    NewMetrics(),
	}
}

// Register schedules job every interval, first firing one interval after Start.
func (s *Scheduler) Register(job Job, interval time.Duration) error {
	if job == nil {
		return ErrNilJob
	}
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{
		job:      job,
		interval: interval,
		info:     JobInfo{Name: name, Description: job.Description(), Interval: interval},
	}
	cj, err := s.cron.Every(interval).Tag(name).WaitForSchedule().Do(s.fire, e)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	e.cron = cj
	s.entries[name] = e

	s.logger.Info("job registered", slog.String("job", name), slog.Duration("interval", interval))
	return nil
}

// Unregister removes a job. A run already in progress finishes.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if err := s.cron.RemoveByTag(name); err != nil {
		return fmt.Errorf("unschedule %s: %w", name, err)
	}
	delete(s.entries, name)
	return nil
}

// OnJobError is called after every failed run, outside the scheduler lock.
func (s *Scheduler) OnJobError(fn func(job string, err error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Start begins firing jobs. Runs see a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = time.Now()
	s.cron.StartAsync()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels the run context and waits for in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.cron.Stop()
	s.inflight.Wait()

	s.logger.Info("scheduler stopped", slog.Duration("uptime", time.Since(s.startedAt)))
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// fire is the gocron callback.
func (s *Scheduler) fire(e *entry) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return
	}
	ctx := s.runCtx
	s.inflight.Add(1)
	s.mu.RUnlock()

	defer s.inflight.Done()
	s.run(ctx, e, false)
}

// RunNow runs a job immediately, outside its schedule. The returned error
// is the job's own.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.run(ctx, e, true)
	return &res, res.Error
}

func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	log := s.logger.With(slog.String("job", name), slog.Bool("manual", manual))
	log.Debug("job started")

	res := JobResult{JobName: name, StartedAt: time.Now(), Manual: manual}
	res.Error = runGuarded(ctx, e.job)
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	res.Success = res.Error == nil

	s.metrics.RecordExecution(name, res.Duration, res.Success)

	s.mu.Lock()
	e.info.LastRun = res.StartedAt
	e.info.RunCount++
	if !res.Success {
		e.info.FailCount++
	}
	last := res
	e.info.LastResult = &last
	s.history = append(s.history, res)
	if over := len(s.history) - s.historyCap; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	onError := s.onError
	s.mu.Unlock()

	if res.Error != nil {
		log.Error("job failed", logger.Latency(res.Duration), logger.Err(res.Error))
		if onError != nil {
			onError(name, res.Error)
		}
		return res
	}
	log.Info("job completed", logger.Latency(res.Duration))
	return res
}

// runGuarded turns a panic in the job into ErrJobPanicked.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// ListJobs returns every registered job sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.snapshot(e))
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// GetJobInfo returns one job's counters.
func (s *Scheduler) GetJobInfo(name string) (*JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	info := s.snapshot(e)
	return &info, nil
}

func (s *Scheduler) snapshot(e *entry) JobInfo {
	info := e.info
	if s.running && e.cron != nil {
		info.NextRun = e.cron.NextRun()
	}
	return info
}

// GetHistory returns up to limit of the latest results, oldest first.
// A non-positive limit returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(s.history[len(s.history)-n:])
}

// Metrics returns the scheduler-wide counters.
func (s *Scheduler) Metrics() *Metrics {
	return s.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics aggregates runs across all jobs.
type Metrics struct {
	mu        sync.Mutex
	runs      int64
	failures  int64
	busy      time.Duration
	failedJob map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{failedJob: make(map[string]int64)}
}

// RecordExecution counts one run.
func (m *Metrics) RecordExecution(job string, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs++
	m.busy += d
	if !success {
		m.failures++
		m.failedJob[job]++
	}
}

// MetricsSnapshot is a copy of Metrics at one moment.
type MetricsSnapshot struct {
	TotalExecutions int64
	TotalSuccesses  int64
	TotalFailures   int64
	SuccessRate     float64
	AverageDuration time.Duration
	FailuresByJob   map[string]int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalExecutions: m.runs,
		TotalSuccesses:  m.runs - m.failures,
		TotalFailures:   m.failures,
		FailuresByJob:   make(map[string]int64, len(m.failedJob)),
	}
	for k, v := range m.failedJob {
		snap.FailuresByJob[k] = v
	}
	if m.runs > 0 {
		snap.AverageDuration = m.busy / time.Duration(m.runs)
		snap.SuccessRate = float64(snap.TotalSuccesses) / float64(m.runs)
	}
	return snap
}
