// Package runtime hosts the background maintenance scheduler.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MemoryMaintainer is the slice of the memory store the scheduler drives.
type MemoryMaintainer interface {
	AgentIDs(ctx context.Context) []string
	DecayOldMemories(ctx context.Context, agentID string, daysThreshold int) bool
	Cleanup(ctx context.Context, agentID string) int
}

// Scheduler runs periodic decay and cleanup sweeps over every agent that
// holds memory records. Cadence and retry live here; the memory store itself
// stays scheduler-agnostic.
type Scheduler struct {
	store     MemoryMaintainer
	schedule  cron.Schedule
	decayDays int
	logger    zerolog.Logger
}

// NewScheduler creates a Scheduler. schedule accepts a cron expression
// (5-field, or 6-field with seconds) or a Go duration string like "6h".
func NewScheduler(store MemoryMaintainer, schedule string, decayDays int, logger zerolog.Logger) (*Scheduler, error) {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse maintenance schedule %q: %w", schedule, err)
	}
	if decayDays <= 0 {
		decayDays = 30
	}
	return &Scheduler{
		store:     store,
		schedule:  sched,
		decayDays: decayDays,
		logger:    logger.With().Str("component", "maintenance_scheduler").Logger(),
	}, nil
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration: %w", err)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

// Start blocks running maintenance sweeps until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Int("decay_days", s.decayDays).Msg("Starting maintenance scheduler")

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Maintenance scheduler stopped: context cancelled")
			return
		case <-timer.C:
			s.RunSweep(ctx)
		}
	}
}

// RunSweep performs one decay-then-cleanup pass over all agents. A failed
// decay for an agent is retried with exponential backoff before moving on;
// a still-failing agent is skipped until the next sweep.
func (s *Scheduler) RunSweep(ctx context.Context) {
	agentIDs := s.store.AgentIDs(ctx)
	if len(agentIDs) == 0 {
		return
	}
	s.logger.Info().Int("agents", len(agentIDs)).Msg("Running memory maintenance sweep")

	totalDeleted := 0
	for _, agentID := range agentIDs {
		if err := s.decayWithRetry(ctx, agentID); err != nil {
			s.logger.Error().
				Str("agent_id", agentID).
				Err(err).
				Msg("Decay failed after retries; skipping agent until next sweep")
			continue
		}
		totalDeleted += s.store.Cleanup(ctx, agentID)
	}

	s.logger.Info().
		Int("agents", len(agentIDs)).
		Int("deleted", totalDeleted).
		Msg("Memory maintenance sweep complete")
}

func (s *Scheduler) decayWithRetry(ctx context.Context, agentID string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 2 * time.Minute

	operation := func() error {
		if !s.store.DecayOldMemories(ctx, agentID, s.decayDays) {
			return fmt.Errorf("decay sweep did not apply for agent %s", agentID)
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx))
}
