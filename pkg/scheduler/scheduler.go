// Package scheduler implements the periodic scheduler (C5): a single
// cooperative worker that runs named jobs at individual intervals,
// modeled on the 10ms background tick loop used throughout the teacher
// stack (cmd/canopen's background/main split).
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agingbench/core/pkg/metrics"
)

// Tick is the scheduler's own sleep granularity (spec §4.5).
const Tick = 10 * time.Millisecond

var (
	ErrNotRegistered = errors.New("scheduler: job not registered")
	ErrAlreadyExists = errors.New("scheduler: job already exists")
)

// Func is a scheduled job. It receives no arguments and returns nothing;
// the scheduler recovers and logs a panic so one bad job cannot take the
// worker down.
type Func func()

type entry struct {
	name     string
	interval time.Duration
	fn       Func
	nextDue  time.Time
}

// Scheduler runs every registered job on a single goroutine. Jobs never
// run concurrently with themselves; an overrun delays only that job's
// next invocation (spec §4.5, invariant 4).
type Scheduler struct {
	logger  *log.Entry
	metrics *metrics.Metrics

	mu       sync.Mutex
	running  map[string]*entry
	registry map[string]*entry // disabled jobs, kept for re-enable

	cancel context.CancelFunc
	done   chan struct{}
}

func New(logger *log.Entry) *Scheduler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Scheduler{
		logger:   logger,
		running:  make(map[string]*entry),
		registry: make(map[string]*entry),
	}
}

// SetMetrics attaches a metrics recorder; nil disables recording. Safe to
// call before or after Start.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Start begins the worker goroutine. Calling Start twice without an
// intervening Stop is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(now)
		}
	}
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]*entry, 0)
	overrun := make(map[*entry]bool)
	m := s.metrics
	for _, e := range s.running {
		if !now.Before(e.nextDue) {
			due = append(due, e)
			// An overrun is a job that missed at least one whole interval by
			// the time the scheduler gets to it, not merely "was due" (every
			// entry here is due by definition).
			overrun[e] = e.interval > 0 && now.Sub(e.nextDue) >= e.interval
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if overrun[e] {
			m.RecordJobOverrun(e.name)
		}
		start := time.Now()
		s.invoke(e)
		m.RecordJobDuration(e.name, time.Since(start).Seconds())

		s.mu.Lock()
		e.nextDue = time.Now().Add(e.interval)
		s.mu.Unlock()
	}
}

func (s *Scheduler) invoke(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("scheduled job panicked")
		}
	}()
	e.fn()
}

// AddJob registers a new job that starts immediately (spec §4.5: "jobs
// added while running start immediate").
func (s *Scheduler) AddJob(name string, interval time.Duration, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[name]; ok {
		return ErrAlreadyExists
	}
	e := &entry{name: name, interval: interval, fn: fn, nextDue: time.Now()}
	s.running[name] = e
	delete(s.registry, name)
	return nil
}

// RemoveJob stops a running job outright (no re-enable possible; use
// Disable if re-enable is wanted later).
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	delete(s.running, name)
	delete(s.registry, name)
	s.mu.Unlock()
}

// HasJob reports whether name is currently running.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[name]
	return ok
}

// Disable removes a job from the running set but keeps its definition in
// a registry so Enable can restore it later.
func (s *Scheduler) Disable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.running[name]
	if !ok {
		return
	}
	delete(s.running, name)
	s.registry[name] = e
}

// Enable re-adds a previously disabled job, starting immediately.
func (s *Scheduler) Enable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registry[name]
	if !ok {
		return ErrNotRegistered
	}
	e.nextDue = time.Now()
	s.running[name] = e
	delete(s.registry, name)
	return nil
}

// Restart resets a running job's next-due time to now, so it runs on the
// next tick. It returns ErrNotRegistered if name is not running; a
// disabled job is not re-enabled by Restart.
func (s *Scheduler) Restart(name string) error {
	s.mu.Lock()
	e, ok := s.running[name]
	if !ok {
		s.mu.Unlock()
		return ErrNotRegistered
	}
	e.nextDue = time.Now()
	s.mu.Unlock()
	return nil
}

// ListJobs returns the names of running and registered (disabled) jobs.
func (s *Scheduler) ListJobs() (running []string, registered []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.running {
		running = append(running, name)
	}
	for name := range s.registry {
		registered = append(registered, name)
	}
	return running, registered
}

// Stop signals the worker and waits up to timeout for it to join.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("scheduler: stop timed out")
	}
}
