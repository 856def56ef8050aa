package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// immediate is the delay below which a task is started right away; gocron
// rejects one-time jobs whose start time has already passed
const immediate = 10 * time.Millisecond

type entry struct {
	job gocron.Job
	gen uint64
}

// Scheduler runs cancellable one-shot tasks keyed by name. Scheduling a key
// that already has a pending task replaces it.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger

	mu   sync.Mutex
	jobs map[string]entry
	gen  uint64
}

// NewScheduler creates and starts a scheduler
func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create task scheduler: %w", err)
	}
	s.Start()

	return &Scheduler{
		scheduler: s,
		logger:    logger,
		jobs:      make(map[string]entry),
	}, nil
}

// Schedule runs fn once after delay unless the key is cancelled or rescheduled first
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(key)
	s.gen++
	gen := s.gen

	start := gocron.OneTimeJobStartImmediately()
	if delay >= immediate {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(delay))
	}

	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			if !s.claim(key, gen) {
				return
			}
			fn()
		}),
		gocron.WithName(key),
		gocron.WithTags(key),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", key, err)
	}

	s.jobs[key] = entry{job: job, gen: gen}
	s.logger.Debug("task scheduled", zap.String("key", key), zap.Duration("delay", delay))
	return nil
}

// Cancel removes a pending task. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

// Pending reports whether a task is waiting to run for key
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// Shutdown stops the scheduler; pending tasks never run
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	s.jobs = make(map[string]entry)
	s.mu.Unlock()
	return s.scheduler.Shutdown()
}

// claim removes the entry if it still belongs to generation gen
func (s *Scheduler) claim(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.jobs, key)
	return true
}

func (s *Scheduler) cancelLocked(key string) bool {
	e, ok := s.jobs[key]
	if !ok {
		return false
	}
	delete(s.jobs, key)
	if err := s.scheduler.RemoveJob(e.job.ID()); err != nil {
		// already fired; claim will see the entry is gone
		s.logger.Debug("task already removed", zap.String("key", key), zap.Error(err))
	}
	s.logger.Debug("task cancelled", zap.String("key", key))
	return true
}
