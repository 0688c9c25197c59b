// Package pipeline orchestrates sourcing runs: one run at a time, queued
// through a persistent run record and executed in the background.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
	"github.com/xeriaco/sourcing_engine/internal/app/system"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// ErrRunInFlight is returned by Trigger while a run is queued or running.
var ErrRunInFlight = errors.New("pipeline: a run is already in flight")

var _ system.Service = (*Service)(nil)

// Service accepts run triggers and enforces the single-flight guard.
// Triggers through one Service instance are fully serialized; the store
// check additionally rejects runs left active by other writers.
type Service struct {
	runs     storage.RunStore
	executor *Executor
	log      *logger.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs the orchestration service.
func New(runs storage.RunStore, executor *Executor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Service{
		runs:     runs,
		executor: executor,
		log:      log,
	}
}

func (s *Service) Name() string { return "pipeline" }

// Start prepares the background context runs execute under.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.log.Info("pipeline service started")
	return nil
}

// Stop cancels in-flight work and waits for the executor goroutine.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.baseCtx = nil
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
	s.log.Info("pipeline service stopped")
	return nil
}

// Trigger queues a run of the given type and executes it in the background.
// While any run is queued or running the trigger is rejected with
// ErrRunInFlight.
func (s *Service) Trigger(ctx context.Context, runType domain.RunType, trigger domain.Trigger) (domain.Run, error) {
	if !domain.ValidType(runType) {
		return domain.Run{}, fmt.Errorf("invalid run type %q", runType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseCtx == nil {
		return domain.Run{}, fmt.Errorf("pipeline service not started")
	}

	if active, err := s.runs.FindActiveRun(ctx); err == nil {
		s.log.WithField("active_run_id", active.RunID).
			WithField("requested_type", string(runType)).
			Warn("trigger rejected; run already in flight")
		return domain.Run{}, fmt.Errorf("%w (run %s)", ErrRunInFlight, active.RunID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Run{}, fmt.Errorf("single-flight check: %w", err)
	}

	run, err := s.runs.CreateRun(ctx, domain.Run{
		Type:        runType,
		Status:      domain.StatusQueued,
		TriggeredBy: trigger,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}

	s.log.WithField("run_id", run.RunID).
		WithField("run_type", string(runType)).
		WithField("triggered_by", string(trigger)).
		Info("run queued")

	execCtx := s.baseCtx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executor.Execute(execCtx, run)
	}()

	return run, nil
}

// Status returns the active run when one exists, otherwise the most recent
// run. ErrNotFound surfaces when no run was ever recorded.
func (s *Service) Status(ctx context.Context) (domain.Run, error) {
	if active, err := s.runs.FindActiveRun(ctx); err == nil {
		return active, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Run{}, err
	}

	runs, err := s.runs.ListRuns(ctx, 1)
	if err != nil {
		return domain.Run{}, err
	}
	if len(runs) == 0 {
		return domain.Run{}, fmt.Errorf("status: %w", storage.ErrNotFound)
	}
	return runs[0], nil
}

// GetRun returns a single run record.
func (s *Service) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return s.runs.GetRun(ctx, id)
}

// History lists recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.ListRuns(ctx, limit)
}
