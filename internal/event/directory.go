// Package event reads the events table owned by the content service. Nothing here writes to it.
package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/model"
)

const eventColumns = `id, organizer_id, pre_sale_goal, tickets_sold, referral_percentage, resolution_deadline, canceled`

type Directory struct {
	db database.Querier
}

func NewDirectory(db database.Querier) *Directory {
	return &Directory{db: db}
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.OrganizerID, &e.PreSaleGoal, &e.TicketsSold, &e.ReferralPercentage, &e.ResolutionDeadline, &e.Canceled)
	return &e, err
}

func (d *Directory) Get(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(d.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ListResolvable returns events that still hold pending sponsorships and have either reached their
// pre-sale goal, been canceled, or passed their resolution deadline.
func (d *Directory) ListResolvable(ctx context.Context, now time.Time, limit int) ([]model.Event, error) {
	rows, err := d.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		WHERE EXISTS (
			SELECT 1 FROM sponsorships s WHERE s.event_id = e.id AND s.status = 'pending'
		)
		AND (
			e.tickets_sold >= e.pre_sale_goal
			OR e.canceled
			OR (e.resolution_deadline IS NOT NULL AND e.resolution_deadline < $1)
		)
		ORDER BY e.id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolvable events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		e, err := scanEvent(row)
		if err != nil {
			return model.Event{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, nil
}
