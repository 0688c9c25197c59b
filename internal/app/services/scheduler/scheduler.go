// Package scheduler fires registered jobs on cron cadences. It owns no
// business logic; jobs are closures wired in by the application.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xeriaco/sourcing_engine/internal/app/system"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// Standard cadences. All times are evaluated in the scheduler's location.
const (
	SpecDailySnapshot  = "0 14 * * *"
	SpecLowStockCheck  = "0 */6 * * *"
	SpecRateUpdate     = "0 0,12 * * *"
	SpecFullRun        = "0 22 * * *"
	SpecStaleOrders    = "0 2,14 * * *"
	SpecCompetitorScan = "0 3,15 * * *"
	SpecCatalogSync    = "0 */4 * * *"
	SpecAIEnrich       = "0 1,7,13,19 * * *"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobFunc is the work a scheduled job performs.
type JobFunc func(ctx context.Context)

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	fn       JobFunc
	next     time.Time
}

var _ system.Service = (*Scheduler)(nil)

// Scheduler evaluates job cadences on a coarse tick. Jobs run sequentially
// within a tick; a panicking job is isolated and logged, never fatal.
type Scheduler struct {
	log      *logger.Logger
	clock    Clock
	interval time.Duration

	mu      sync.Mutex
	jobs    []*job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a scheduler ticking at 30 second resolution.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		log:      log,
		clock:    realClock{},
		interval: 30 * time.Second,
	}
}

// WithClock substitutes the time source. Call before Start.
func (s *Scheduler) WithClock(clock Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// Register adds a job on a five-field cron spec.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("job name and function required")
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse spec %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.name == name {
			return fmt.Errorf("job %s already registered", name)
		}
	}
	s.jobs = append(s.jobs, &job{
		name:     name,
		spec:     spec,
		schedule: schedule,
		fn:       fn,
		next:     schedule.Next(s.clock.Now()),
	})
	return nil
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, j := range s.jobs {
		j.next = j.schedule.Next(s.clock.Now())
	}
	jobCount := len(s.jobs)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Tick(runCtx, s.clock.Now())
			}
		}
	}()

	s.log.WithField("jobs", jobCount).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("scheduler stopped")
	return nil
}

// Tick fires every job whose next fire time is at or before now. Exported
// so tests can drive the scheduler without the ticker goroutine.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
			j.next = j.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.runJob(ctx, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("job", j.name).
				WithField("panic", fmt.Sprint(r)).
				Error("scheduled job panicked")
		}
	}()

	s.log.WithField("job", j.name).Debug("scheduled job firing")
	j.fn(ctx)
}
