package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/notify"
	"ewintr.nl/ytsum/process"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRunInProgress = process.ErrRunInProgress
	ErrStopped       = errors.New("scheduler stopped")
)

type Runner interface {
	Start(ctx context.Context, trigger model.RunTrigger) (*model.Run, error)
	Process(ctx context.Context, run *model.Run) *model.Run
}

type Drainer interface {
	Drain(ctx context.Context) (notify.DeliveryStats, error)
}

type Store interface {
	InProgressRuns(ctx context.Context) ([]*model.Run, error)
	FinishRun(ctx context.Context, run *model.Run) error
	Runs(ctx context.Context, limit, offset int) ([]*model.Run, error)
	CurrentRunLock(ctx context.Context) (model.RunLock, bool, error)
	ReleaseRunLock(ctx context.Context, runID uuid.UUID) error
	QueueDepth(ctx context.Context) (int, error)
}

type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) Chan() <-chan time.Time {
	return t.C
}

func NewTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

type Config struct {
	CheckInterval time.Duration
	DrainInterval time.Duration
	RunOnStart    bool
}

type Status struct {
	LastRun     *model.Run
	NextRun     time.Time
	QueueDepth  int
	Running     bool
	ActiveRunID uuid.UUID
}

// Scheduler drives pipeline runs and queue drains on their own cadence and
// makes sure only one run is active at a time.
type Scheduler struct {
	pipeline  Runner
	drainer   Drainer
	store     Store
	config    Config
	newTicker TickerFunc
	now       func() time.Time
	logger    *slog.Logger

	mu sync.Mutex
	// starting is set while the pipeline opens a run, before active is known
	starting bool
	active   *model.Run
	nextRun  time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	runs    sync.WaitGroup
}

func New(pipeline Runner, drainer Drainer, store Store, config Config, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pipeline:  pipeline,
		drainer:   drainer,
		store:     store,
		config:    config,
		newTicker: NewTicker,
		now:       time.Now,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start recovers runs left behind by a crash and then starts the pipeline
// and drain loops. The loops end when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("could not recover runs: %w", err)
	}

	stop := context.AfterFunc(ctx, s.cancel)
	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		defer stop()
		return s.pipelineLoop(gctx)
	})
	g.Go(func() error {
		return s.drainLoop(gctx)
	})

	s.mu.Lock()
	s.group = g
	s.mu.Unlock()
	s.logger.Info("scheduler started",
		slog.Duration("check", s.config.CheckInterval),
		slog.Duration("drain", s.config.DrainInterval),
	)

	return nil
}

// Stop ends the loops and waits for an active run to finish.
func (s *Scheduler) Stop() error {
	s.cancel()
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()

	var err error
	if g != nil {
		err = g.Wait()
	}
	s.runs.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("scheduler stopped")

	return err
}

// TriggerNow starts a manual run in the background and returns its id. When
// a run is already active, its id is returned with ErrRunInProgress.
func (s *Scheduler) TriggerNow(ctx context.Context) (uuid.UUID, error) {
	if s.ctx.Err() != nil {
		return uuid.Nil, ErrStopped
	}
	run, err := s.begin(ctx, model.TriggerManual)
	if err != nil {
		if run != nil {
			return run.ID, err
		}
		return uuid.Nil, err
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.finish(s.ctx, run)
	}()

	return run.ID, nil
}

func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	status := Status{}
	s.mu.Lock()
	switch {
	case s.active != nil:
		status.Running = true
		status.ActiveRunID = s.active.ID
	case s.starting:
		status.Running = true
	}
	status.NextRun = s.nextRun
	s.mu.Unlock()

	if !status.Running {
		lock, found, err := s.store.CurrentRunLock(ctx)
		if err != nil {
			return Status{}, err
		}
		if found && !s.stale(lock.AcquiredAt) {
			status.Running = true
			status.ActiveRunID = lock.RunID
		}
	}

	runs, err := s.store.Runs(ctx, 1, 0)
	if err != nil {
		return Status{}, err
	}
	if len(runs) > 0 {
		status.LastRun = runs[0]
	}
	if status.QueueDepth, err = s.store.QueueDepth(ctx); err != nil {
		return Status{}, err
	}

	return status, nil
}

func (s *Scheduler) RunHistory(ctx context.Context, limit, offset int) ([]*model.Run, error) {
	return s.store.Runs(ctx, limit, offset)
}

func (s *Scheduler) pipelineLoop(ctx context.Context) error {
	ticker := s.newTicker(s.config.CheckInterval)
	defer ticker.Stop()
	s.setNextRun(s.now().Add(s.config.CheckInterval))

	if s.config.RunOnStart {
		s.runScheduled(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.setNextRun(s.now().Add(s.config.CheckInterval))
			s.runScheduled(ctx)
		}
	}
}

func (s *Scheduler) drainLoop(ctx context.Context) error {
	ticker := s.newTicker(s.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	run, err := s.begin(ctx, model.TriggerScheduled)
	switch {
	case errors.Is(err, ErrRunInProgress):
		active := ""
		if run != nil {
			active = run.ID.String()
		}
		s.logger.Info("skipping scheduled run, another run is active", slog.String("active", active))
		return
	case err != nil:
		s.logger.Error("could not start scheduled run", slog.String("error", err.Error()))
		return
	}

	s.finish(ctx, run)
}

func (s *Scheduler) drain(ctx context.Context) {
	if _, err := s.drainer.Drain(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("could not drain queue", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) begin(ctx context.Context, trigger model.RunTrigger) (*model.Run, error) {
	s.mu.Lock()
	switch {
	case s.active != nil:
		active := s.active
		s.mu.Unlock()
		return active, ErrRunInProgress
	case s.starting:
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.starting = true
	s.mu.Unlock()

	run, err := s.pipeline.Start(ctx, trigger)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return run, err
	}
	s.active = run

	return run, nil
}

func (s *Scheduler) finish(ctx context.Context, run *model.Run) {
	s.pipeline.Process(ctx, run)

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

func (s *Scheduler) stale(startedAt time.Time) bool {
	return startedAt.Before(s.now().Add(-s.config.CheckInterval))
}

// recover finalizes runs that are still in progress after more than one
// check interval. They belonged to a process that died.
func (s *Scheduler) recover(ctx context.Context) error {
	runs, err := s.store.InProgressRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if !s.stale(run.StartedAt) {
			continue
		}
		run.Status = model.RunFailed
		run.FinishedAt = s.now().UTC()
		run.RecordError("run", model.ErrInterrupted)
		if err := s.store.FinishRun(ctx, run); err != nil {
			return err
		}
		if err := s.store.ReleaseRunLock(ctx, run.ID); err != nil {
			return err
		}
		s.logger.Warn("marked interrupted run as failed", slog.String("run", run.ID.String()), slog.Time("started", run.StartedAt))
	}

	lock, found, err := s.store.CurrentRunLock(ctx)
	if err != nil {
		return err
	}
	if found && s.stale(lock.AcquiredAt) {
		if err := s.store.ReleaseRunLock(ctx, lock.RunID); err != nil {
			return err
		}
		s.logger.Warn("released stale run lock", slog.String("run", lock.RunID.String()), slog.String("owner", lock.Owner))
	}

	return nil
}
