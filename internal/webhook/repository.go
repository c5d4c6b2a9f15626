package webhook

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/outbox"
	"github.com/Niiaks/Patron/pkg/types"
)

type Store interface {
	// Record stores a verified webhook and queues it for processing. It reports false for an
	// event id seen before.
	Record(ctx context.Context, event *types.StripeEvent, payload []byte) (bool, error)
	MarkStatus(ctx context.Context, eventID, status string) error
}

type Repository struct {
	db database.Querier
}

func NewRepository(db database.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, event *types.StripeEvent, payload []byte) (bool, error) {
	var inserted bool
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO psp_webhooks (event_id, event_type, payload, status)
			VALUES ($1, $2, $3, 'received')
			ON CONFLICT (event_id) DO NOTHING
		`, event.ID, event.Type, payload)
		if err != nil {
			return fmt.Errorf("failed to store webhook: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true

		key := event.Account
		if key == "" {
			key = event.ID
		}
		return outbox.Enqueue(ctx, tx, kafka.EventWebhookReceived, key, payload)
	})
	return inserted, err
}

func (r *Repository) MarkStatus(ctx context.Context, eventID, status string) error {
	_, err := r.db.Exec(ctx, `UPDATE psp_webhooks SET status = $2, updated_at = NOW() WHERE event_id = $1`, eventID, status)
	if err != nil {
		return fmt.Errorf("failed to update webhook status: %w", err)
	}
	return nil
}
