// Package scheduler runs the periodic jobs of an engine: interval sync and
// local cache housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oriys/cartsync/internal/logging"
)

// Job is one periodic task. It receives a context bounded by the job
// timeout and cancelled on Stop.
type Job func(ctx context.Context)

// Scheduler manages named cron entries.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	entries map[string]cron.EntryID // job name -> cron entry ID
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. timeout bounds each run; zero means 30 seconds.
func New(timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		timeout: timeout,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Every returns the descriptor for a fixed interval, e.g. "@every 30s".
func Every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	logging.Op().Debug("scheduler started", "jobs", s.Len())
}

// Stop halts the scheduler, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Add registers job under name, replacing any job of the same name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.entries[name] = entryID
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) run(name string, job Job) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	job(ctx)
	logging.Op().Debug("scheduled job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
}
