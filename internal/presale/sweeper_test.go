package presale

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/pkg/types"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeEvents struct{ events []model.Event }

func (f *fakeEvents) ListResolvable(context.Context, time.Time, int) ([]model.Event, error) {
	return f.events, nil
}

type fakePending struct{ byEvent map[string][]model.Sponsorship }

func (f *fakePending) ListPending(_ context.Context, eventID string, _ int) ([]model.Sponsorship, error) {
	return f.byEvent[eventID], nil
}

type recordingScheduler struct {
	jobs []types.CaptureJob
	err  error
}

func (r *recordingScheduler) ScheduleCapture(_ context.Context, job *types.CaptureJob) error {
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, *job)
	return nil
}

func TestDecide(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		event  model.Event
		action string
	}{
		{"goal reached", model.Event{PreSaleGoal: 10, TicketsSold: 10}, types.CaptureActionCapture},
		{"goal reached before deadline", model.Event{PreSaleGoal: 10, TicketsSold: 12, ResolutionDeadline: &future}, types.CaptureActionCapture},
		{"canceled after reaching goal", model.Event{PreSaleGoal: 10, TicketsSold: 12, Canceled: true}, types.CaptureActionRelease},
		{"deadline missed", model.Event{PreSaleGoal: 10, TicketsSold: 9, ResolutionDeadline: &past}, types.CaptureActionRelease},
		{"still open", model.Event{PreSaleGoal: 10, TicketsSold: 9, ResolutionDeadline: &future}, ""},
		{"no deadline", model.Event{PreSaleGoal: 10, TicketsSold: 3}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _ := Decide(&tt.event, now)
			assert.Equal(t, tt.action, action)
		})
	}
}

func TestSweep(t *testing.T) {
	past := now.Add(-time.Minute)
	s1, s2, s3 := uuid.New(), uuid.New(), uuid.New()

	events := &fakeEvents{events: []model.Event{
		{ID: "full", PreSaleGoal: 100, TicketsSold: 100},
		{ID: "missed", PreSaleGoal: 100, TicketsSold: 40, ResolutionDeadline: &past},
		{ID: "open", PreSaleGoal: 100, TicketsSold: 40},
	}}
	pending := &fakePending{byEvent: map[string][]model.Sponsorship{
		"full":   {{ID: s1}, {ID: s2}},
		"missed": {{ID: s3}},
		"open":   {{ID: uuid.New()}},
	}}
	sched := &recordingScheduler{}

	log := zerolog.Nop()
	sweeper := NewSweeper(events, pending, sched, &log, time.Minute, 50)
	sweeper.now = func() time.Time { return now }

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []types.CaptureJob{
		{SponsorshipID: s1.String(), Action: types.CaptureActionCapture, Reason: "pre-sale goal reached"},
		{SponsorshipID: s2.String(), Action: types.CaptureActionCapture, Reason: "pre-sale goal reached"},
		{SponsorshipID: s3.String(), Action: types.CaptureActionRelease, Reason: "pre-sale goal missed"},
	}, sched.jobs)
}

func TestSweepStopsOnSchedulerError(t *testing.T) {
	events := &fakeEvents{events: []model.Event{{ID: "full", PreSaleGoal: 1, TicketsSold: 1}}}
	pending := &fakePending{byEvent: map[string][]model.Sponsorship{"full": {{ID: uuid.New()}}}}

	log := zerolog.Nop()
	sweeper := NewSweeper(events, pending, &recordingScheduler{err: errors.New("queue unavailable")}, &log, time.Minute, 50)

	n, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}
