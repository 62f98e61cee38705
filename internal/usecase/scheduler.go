package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// SchedulerDeps wires the persistence and clock the timing loop needs.
type SchedulerDeps struct {
	Runs   ports.RunStore
	State  ports.StateStore
	Logger *slog.Logger
	Now    func() time.Time
	After  func(d time.Duration) <-chan time.Time
}

// Scheduler fires pipeline runs on a fixed interval. Fire times live on an
// ideal grid (next = last fire + interval), so execution jitter never
// accumulates into drift. The grid anchor and last-run bookkeeping are
// persisted after every decision and survive restarts.
type Scheduler struct {
	runs   ports.RunStore
	state  ports.StateStore
	logger *slog.Logger
	now    func() time.Time
	after  func(d time.Duration) <-chan time.Time
}

// NewScheduler builds the timing loop around the injected stores.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	after := deps.After
	if after == nil {
		after = time.After
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runs:   deps.Runs,
		state:  deps.State,
		logger: logger,
		now:    now,
		after:  after,
	}
}

// Start recovers any run the previous process abandoned, then blocks in the
// timing loop until ctx is done. A non-positive interval is a config error.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, onTrigger ports.TriggerFunc) error {
	if interval <= 0 {
		return domain.ConfigErrorf("scheduler interval must be positive, got %s", interval)
	}
	if onTrigger == nil {
		return domain.ConfigErrorf("scheduler requires a trigger function")
	}

	if err := s.recoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}

	state, err := s.loadOrInitState(ctx, interval)
	if err != nil {
		return err
	}

	for {
		now := s.now()

		if !state.NextFireTime.After(now) {
			state = s.fire(ctx, state, interval, onTrigger)
		}

		wait := state.NextFireTime.Sub(s.now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			if err := s.state.SaveState(context.WithoutCancel(ctx), state); err != nil {
				s.logger.Error("persist schedule state on shutdown", "error", err)
			}
			return nil
		case <-s.after(wait):
		}
	}
}

// fire handles one due grid slot: collapses downtime into a single catch-up
// run, enforces single flight, and persists every decision.
func (s *Scheduler) fire(ctx context.Context, state domain.ScheduleState, interval time.Duration, onTrigger ports.TriggerFunc) domain.ScheduleState {
	now := s.now()
	scheduled := state.NextFireTime

	// The process may have been down past one or more slots. Fire exactly
	// one catch-up run at the most recent missed slot, never a backlog
	// burst, then resynchronize to the grid.
	missed := 0
	for !scheduled.Add(interval).After(now) {
		scheduled = scheduled.Add(interval)
		missed++
	}
	if missed > 0 {
		s.logger.Warn("catching up after downtime",
			"missed_slots", missed,
			"catch_up_time", scheduled)
	}
	state.NextFireTime = scheduled.Add(interval)

	active, err := s.runs.NonTerminalRuns(ctx)
	if err != nil {
		s.logger.Error("check in-flight runs", "error", err)
		s.persist(ctx, state)
		return state
	}
	if len(active) > 0 {
		s.logger.Warn("skipped overlap",
			"scheduled_time", scheduled,
			"in_flight_run_id", active[0].RunID,
			"next_fire_time", state.NextFireTime)
		s.persist(ctx, state)
		return state
	}

	// Persist before firing so a crash mid-run cannot refire this slot.
	s.persist(ctx, state)

	rec := onTrigger(ctx, scheduled)
	state.LastCompletedRunID = rec.RunID
	s.persist(ctx, state)

	return state
}

// recoverInterrupted closes out runs the previous process never finished.
func (s *Scheduler) recoverInterrupted(ctx context.Context) error {
	stale, err := s.runs.NonTerminalRuns(ctx)
	if err != nil {
		return err
	}

	for _, rec := range stale {
		rec.Error = "interrupted"
		rec.FinishedAt = s.now().UTC()
		if err := rec.AdvanceTo(domain.StageFailed); err != nil {
			return fmt.Errorf("mark run %s interrupted: %w", rec.RunID, err)
		}
		if err := s.runs.SaveRun(ctx, rec); err != nil {
			return fmt.Errorf("persist interrupted run %s: %w", rec.RunID, err)
		}
		s.logger.Warn("marked interrupted run from previous process",
			"run_id", rec.RunID,
			"stage_reached", rec.StageReached)
	}

	return nil
}

func (s *Scheduler) loadOrInitState(ctx context.Context, interval time.Duration) (domain.ScheduleState, error) {
	state, found, err := s.state.LoadState(ctx)
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("load schedule state: %w", err)
	}
	if !found || state.NextFireTime.IsZero() {
		state.NextFireTime = s.now().Add(interval)
		if err := s.state.SaveState(ctx, state); err != nil {
			return domain.ScheduleState{}, fmt.Errorf("persist initial schedule state: %w", err)
		}
		s.logger.Info("schedule initialized", "next_fire_time", state.NextFireTime)
	} else {
		s.logger.Info("schedule resumed",
			"next_fire_time", state.NextFireTime,
			"last_completed_run_id", state.LastCompletedRunID)
	}
	return state, nil
}

func (s *Scheduler) persist(ctx context.Context, state domain.ScheduleState) {
	if err := s.state.SaveState(ctx, state); err != nil {
		s.logger.Error("persist schedule state", "error", err)
	}
}
