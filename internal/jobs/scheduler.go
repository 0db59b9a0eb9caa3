package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrJobRunning is returned when a job is triggered while a previous run is
// still going.
var ErrJobRunning = errors.New("job is already running")

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	schedules []Schedule

	mu        sync.Mutex
	enabled   bool
	isRunning bool
	running   map[string]bool
	tickers   []*time.Ticker
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler for the given jobs. Nothing runs until Start.
func NewScheduler(logger *slog.Logger, schedules ...Schedule) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		schedules: schedules,
		enabled:   true,
		running:   make(map[string]bool),
	}
}

// executeJobSafely runs a job unless its previous run is still executing.
// Panics are recovered and logged.
func (s *Scheduler) executeJobSafely(job Job) (err error) {
	name := job.Name()

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Debug("Skipping job execution - previous run still going", slog.String("job", name))
		return ErrJobRunning
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", name),
				slog.Any("panic", r))
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}

		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	started := time.Now()
	if err = job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", name), slog.Any("error", err))
		return err
	}
	s.logger.Debug("Job finished", slog.String("job", name), slog.Duration("took", time.Since(started)))
	return nil
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...", slog.Int("jobs", len(s.schedules)))
	for _, sched := range s.schedules {
		if sched.Interval <= 0 {
			return fmt.Errorf("job %s has no interval", sched.Job.Name())
		}
		s.startJob(sched)
	}
	s.isRunning = true
	return nil
}

func (s *Scheduler) startJob(sched Schedule) {
	s.logger.Info("Starting job",
		slog.String("job", sched.Job.Name()),
		slog.Duration("interval", sched.Interval))

	ticker := time.NewTicker(sched.Interval)
	s.tickers = append(s.tickers, ticker)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if sched.RunAtStart {
			_ = s.executeJobSafely(sched.Job)
		}
		for {
			select {
			case <-ticker.C:
				_ = s.executeJobSafely(sched.Job)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", sched.Job.Name()))
				return
			}
		}
	}()
}

// Stop halts all background jobs, cancelling runs in progress, and waits for
// them to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")

	s.mu.Lock()
	s.enabled = false
	for _, t := range s.tickers {
		t.Stop()
	}
	s.tickers = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunJob runs the named job now, outside its schedule.
func (s *Scheduler) RunJob(name string) error {
	for _, sched := range s.schedules {
		if sched.Job.Name() == name {
			return s.executeJobSafely(sched.Job)
		}
	}
	return fmt.Errorf("unknown job: %s", name)
}
