package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/outbox"
	"github.com/Niiaks/Patron/pkg/types"
)

// CompleteHold marks the pending debit recorded under key as completed and attaches the gateway
// reference. The balance already moved when the hold was placed. Completing a completed hold is a
// no-op.
func (s *Store) CompleteHold(ctx context.Context, key, externalRef string) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		t, err := settleHold(ctx, tx, key, model.StatusCompleted, &externalRef)
		if err != nil || t == nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, kafka.EventLedgerPosted, t.UserID, types.LedgerPostedEvent{
			UserID:         t.UserID,
			TransactionIDs: []string{t.ID.String()},
			Type:           string(t.Type),
			IdempotencyKey: key,
		})
	})
}

// CancelHold cancels the pending debit recorded under key and returns its amount to the bucket it
// was taken from. Canceling a canceled hold is a no-op.
func (s *Store) CancelHold(ctx context.Context, key string) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		t, err := settleHold(ctx, tx, key, model.StatusCanceled, nil)
		if err != nil || t == nil {
			return err
		}

		refund := *t
		refund.Direction = model.DirectionCredit
		if err := move(ctx, tx, &refund); err != nil {
			return err
		}

		return outbox.Enqueue(ctx, tx, kafka.EventLedgerPosted, t.UserID, types.LedgerPostedEvent{
			UserID:         t.UserID,
			TransactionIDs: []string{t.ID.String()},
			Type:           string(t.Type),
			Amount:         t.Amount,
			IdempotencyKey: key,
		})
	})
}

// settleHold moves a pending debit to status. It returns nil when the hold already has that status.
func settleHold(ctx context.Context, tx pgx.Tx, key string, status model.TransactionStatus, externalRef *string) (*model.Transaction, error) {
	t := model.Transaction{IdempotencyKey: key, Status: status, Direction: model.DirectionDebit, ExternalRef: externalRef}
	err := tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2, external_ref = COALESCE($3, external_ref)
		WHERE idempotency_key = $1 AND status = 'pending' AND direction = 'debit'
		RETURNING id, user_id, amount, bucket, type
	`, key, string(status), externalRef).Scan(&t.ID, &t.UserID, &t.Amount, &t.Bucket, &t.Type)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to settle hold %s: %w", key, err)
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM transactions WHERE idempotency_key = $1`, key).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("hold %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load hold %s: %w", key, err)
	}
	if model.TransactionStatus(current) == status {
		return nil, nil
	}
	return nil, apperror.Conflict("hold %s is already %s", key, current)
}

// PendingHolds lists withdrawal holds placed before cutoff that were never completed or canceled,
// oldest first.
func (s *Store) PendingHolds(ctx context.Context, cutoff time.Time, limit int) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, idempotency_key, user_id, amount, direction, bucket, type, status, description, created_at
		FROM transactions
		WHERE type = 'withdrawal' AND status = 'pending' AND direction = 'debit' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending holds: %w", err)
	}

	holds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Transaction, error) {
		var t model.Transaction
		err := row.Scan(&t.ID, &t.IdempotencyKey, &t.UserID, &t.Amount, &t.Direction, &t.Bucket, &t.Type,
			&t.Status, &t.Description, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending holds: %w", err)
	}
	return holds, nil
}
