// Package scheduler runs the centralized evaluation loop that turns due
// schedules into dispatched executions, and the retry sweep that
// re-dispatches failed executions whose backoff has elapsed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
)

// Dispatcher is the dispatch surface the scheduler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, execution *models.Execution) error
}

// Scheduler polls all active schedules once per minute and dispatches
// the due ones. One scheduler instance serves every schedule; there is
// no per-schedule timer state.
type Scheduler struct {
	persistence persistence.Persistence
	evaluator   *Evaluator
	dispatcher  Dispatcher
	logger      *slog.Logger
	interval    time.Duration
	ticker      *time.Ticker
	done        chan bool
	started     bool
	mu          sync.RWMutex
}

func NewScheduler(logger *slog.Logger, persist persistence.Persistence, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		persistence: persist,
		evaluator:   NewEvaluator(persist),
		dispatcher:  dispatcher,
		logger:      logger.With("module", "scheduler"),
		interval:    time.Minute,
	}
}

// WithInterval overrides the polling interval; tests shorten it.
func (s *Scheduler) WithInterval(interval time.Duration) *Scheduler {
	s.interval = interval

	return s
}

// Start begins the evaluation loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Starting schedule evaluation loop", "interval", s.interval)

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	return nil
}

// Stop gracefully shuts down the evaluation loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping schedule evaluation loop")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick evaluates every active schedule against now and dispatches the
// due ones. Failures on one schedule never block the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	schedules, err := s.persistence.ActiveSchedules(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load active schedules", "error", err)

		return
	}

	for _, schedule := range schedules {
		due, err := s.evaluator.IsDue(ctx, schedule, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to evaluate schedule",
				"schedule_id", schedule.ID,
				"error", err,
			)

			continue
		}

		if !due {
			continue
		}

		err = s.fire(ctx, schedule, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to fire schedule",
				"schedule_id", schedule.ID,
				"error", err,
			)
		}
	}
}

// fire creates a pending execution for the schedule and dispatches it.
// The execution row is created first so the same-minute dedup guard
// holds even when the dispatch itself fails.
func (s *Scheduler) fire(ctx context.Context, schedule *models.Schedule, now time.Time) error {
	execution := &models.Execution{
		ReportID:   schedule.ReportID,
		ScheduleID: schedule.ID,
		Status:     models.ExecutionStatusPending,
		Parameters: schedule.Parameters,
		MaxRetries: 3,
		CreatedAt:  now,
	}

	err := s.persistence.CreateExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.InfoContext(ctx, "Schedule fired",
		"schedule_id", schedule.ID,
		"report_id", schedule.ReportID,
		"execution_id", execution.ID,
		"frequency", string(schedule.Frequency),
	)

	return s.dispatcher.Dispatch(ctx, execution)
}

// RetrySweep re-dispatches failed executions whose persisted retry
// timestamp has passed. Returns how many were re-dispatched.
func (s *Scheduler) RetrySweep(ctx context.Context, now time.Time) (int, error) {
	due, err := s.persistence.DueRetries(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due retries: %w", err)
	}

	dispatched := 0

	for _, execution := range due {
		s.logger.InfoContext(ctx, "Re-dispatching execution",
			"execution_id", execution.ID,
			"attempt", execution.RetryCount+1,
			"max_retries", execution.MaxRetries,
		)

		err := s.dispatcher.Dispatch(ctx, execution)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to re-dispatch execution",
				"execution_id", execution.ID,
				"error", err,
			)

			continue
		}

		dispatched++
	}

	return dispatched, nil
}
