// Package tasksupervisor implements an explicit {interval, job} registry
// for a small set of named periodic jobs (the lifecycle stale sweep, a
// registry orphan-index cleanup sweep, an optional scheduled backup)
// running on robfig/cron with panic recovery, single-flight execution
// per job, and status introspection. Job registration records the job's
// cron.EntryID, execution is wrapped with a per-job mutex and
// recover(), and status is tracked as {lastRun, lastError, isRunning}.
// Jobs are wired once at startup by the composition root rather than
// configured at runtime, so there is no persistence of job settings to
// a KV store.
package tasksupervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a single named periodic task.
type Job struct {
	Name     string
	Schedule string // a robfig/cron spec, e.g. "@every 1h" or "0 3 * * *"
	Run      func() error
}

// Status reports a job's last execution outcome.
type Status struct {
	Name      string
	Schedule  string
	LastRun   time.Time
	LastError string
	IsRunning bool
	NextRun   time.Time
}

type entry struct {
	job       Job
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
	lastError string
	entryID   cron.EntryID
}

// Supervisor runs a fixed set of named periodic jobs.
type Supervisor struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

// New creates a Supervisor. logger may be nil.
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register adds a job. Safe to call before or after Start.
func (s *Supervisor) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("tasksupervisor: job %q already registered", job.Name)
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(e) })
	if err != nil {
		return fmt.Errorf("tasksupervisor: invalid schedule for %q: %w", job.Name, err)
	}
	e.entryID = id
	s.entries[job.Name] = e
	return nil
}

// Start begins running registered jobs on their schedules.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts the scheduler and waits for any in-flight scheduled run to
// finish. Runs started by Trigger are not waited for.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Trigger runs name immediately, out of band from its schedule.
func (s *Supervisor) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tasksupervisor: job %q not registered", name)
	}
	go s.execute(e)
	return nil
}

// Status returns every registered job's current status.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := Status{
			Name:      e.job.Name,
			Schedule:  e.job.Schedule,
			LastRun:   e.lastRun,
			LastError: e.lastError,
			IsRunning: e.isRunning,
		}
		e.mu.Unlock()
		if cronEntry := s.cron.Entry(e.entryID); !cronEntry.Next.IsZero() {
			st.NextRun = cronEntry.Next
		}
		out = append(out, st)
	}
	return out
}

// execute runs a job's handler with panic recovery and single-flight
// protection: a job already running is skipped rather than queued.
func (s *Supervisor) execute(e *entry) {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		s.logger.Warn("tasksupervisor: skipping overlapping run", slog.String("job", e.job.Name))
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.isRunning = false
			e.lastRun = time.Now()
			e.lastError = fmt.Sprintf("panic: %v", r)
			e.mu.Unlock()
			s.logger.Error("tasksupervisor: job panicked", slog.String("job", e.job.Name), slog.Any("recovered", r))
		}
	}()

	start := time.Now()
	err := e.job.Run()

	e.mu.Lock()
	e.isRunning = false
	e.lastRun = time.Now()
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		s.logger.Error("tasksupervisor: job failed", slog.String("job", e.job.Name), slog.Duration("duration", time.Since(start)), slog.String("error", err.Error()))
	} else {
		s.logger.Debug("tasksupervisor: job completed", slog.String("job", e.job.Name), slog.Duration("duration", time.Since(start)))
	}
}
