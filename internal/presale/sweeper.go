// Package presale decides when an event's pending sponsorships should be captured or released and
// queues one job per sponsorship.
package presale

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/scheduler"
	"github.com/Niiaks/Patron/pkg/types"
)

type EventLister interface {
	ListResolvable(ctx context.Context, now time.Time, limit int) ([]model.Event, error)
}

type PendingLister interface {
	ListPending(ctx context.Context, eventID string, limit int) ([]model.Sponsorship, error)
}

type Sweeper struct {
	events       EventLister
	sponsorships PendingLister
	scheduler    scheduler.Scheduler
	logger       *zerolog.Logger
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

func NewSweeper(events EventLister, sponsorships PendingLister, s scheduler.Scheduler, logger *zerolog.Logger, interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		events:       events,
		sponsorships: sponsorships,
		scheduler:    s,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Decide returns the action for an event's pending sponsorships, or "" while the pre-sale is still open.
// Cancellation wins over a reached goal.
func Decide(e *model.Event, now time.Time) (action, reason string) {
	switch {
	case e.Canceled:
		return types.CaptureActionRelease, "event canceled"
	case e.GoalReached():
		return types.CaptureActionCapture, "pre-sale goal reached"
	case e.ResolutionDeadline != nil && now.After(*e.ResolutionDeadline):
		return types.CaptureActionRelease, "pre-sale goal missed"
	default:
		return "", ""
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Starting Presale Sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Stopping Presale Sweeper")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// Sweep queues jobs for every resolvable event and returns how many were queued. Jobs may repeat
// across sweeps until the consumer resolves them; capture and release are idempotent.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	sweepID := uuid.NewString()
	l := s.logger.With().Str("request_id", sweepID).Logger()
	ctx = middleware.WithLogger(middleware.WithRequestID(ctx, sweepID), &l)

	now := s.now()
	events, err := s.events.ListResolvable(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range events {
		e := &events[i]
		action, reason := Decide(e, now)
		if action == "" {
			continue
		}

		pending, err := s.sponsorships.ListPending(ctx, e.ID, s.batchSize)
		if err != nil {
			return queued, err
		}

		for _, sp := range pending {
			job := &types.CaptureJob{SponsorshipID: sp.ID.String(), Action: action, Reason: reason}
			if err := s.scheduler.ScheduleCapture(ctx, job); err != nil {
				return queued, fmt.Errorf("event %s: %w", e.ID, err)
			}
			queued++
		}

		l.Info().Str("event_id", e.ID).Str("action", action).Int("sponsorships", len(pending)).Msg("Queued pre-sale resolution")
	}

	return queued, nil
}
