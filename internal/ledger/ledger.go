// Package ledger is the append-only transaction log and the only writer of wallet balances.
// Every balance change is applied in the same SQL transaction as the entries that explain it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/outbox"
	"github.com/Niiaks/Patron/pkg/types"
)

// Posting is a group of entries for one wallet that must land together, such as the two legs of a
// pending to available settlement.
type Posting struct {
	UserID  string
	Entries []model.Transaction
	// Earnings is added to the wallet's lifetime total_earnings (negative for reversals).
	Earnings int64
	// Referral adjusts the counters of the referral link the posting pays out on.
	Referral *ReferralDelta
}

type ReferralDelta struct {
	Code        string
	Conversions int64
	Earnings    int64
}

type Result struct {
	TransactionIDs []uuid.UUID
	// Duplicate is set when the posting had already been applied; nothing changed.
	Duplicate bool
	// Status is the status the first entry was recorded with, which for a duplicate may differ from
	// the one just requested.
	Status model.TransactionStatus
}

type Store struct {
	db database.Querier
}

func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

var bucketColumns = map[model.Bucket]string{
	model.BucketAvailable: "available_balance",
	model.BucketPending:   "pending_balance",
	model.BucketCredits:   "platform_credits",
}

// Validate checks an entry before it is written.
func Validate(t *model.Transaction) error {
	if t.UserID == "" {
		return apperror.Validation("userId is required")
	}
	if t.IdempotencyKey == "" {
		return apperror.Validation("idempotency key is required")
	}
	if t.Amount <= 0 {
		return apperror.Validation("amount must be positive, got %d", t.Amount)
	}
	if t.Direction != model.DirectionCredit && t.Direction != model.DirectionDebit {
		return apperror.Validation("unknown direction %q", t.Direction)
	}
	if !t.Bucket.Valid() {
		return apperror.Validation("unknown bucket %q", t.Bucket)
	}
	if !t.Type.Valid() {
		return apperror.Validation("unknown transaction type %q", t.Type)
	}
	if !t.Status.Valid() {
		return apperror.Validation("unknown transaction status %q", t.Status)
	}

	switch t.Type {
	case model.TypeReferral:
		if empty(t.ReferralID) {
			return apperror.Validation("referral transactions require a referralId")
		}
	case model.TypeSale:
		if empty(t.EventID) || empty(t.OrderID) {
			return apperror.Validation("sale transactions require an eventId and orderId")
		}
	case model.TypeWithdrawal, model.TypePayout:
		// a pending withdrawal is a hold placed before the transfer exists
		if t.Status == model.StatusCompleted && empty(t.ExternalRef) {
			return apperror.Validation("%s transactions require a gateway reference", t.Type)
		}
	}
	return nil
}

func empty(s *string) bool {
	return s == nil || *s == ""
}

// Record inserts a single immutable entry without touching balances. It returns the id of the
// entry holding the idempotency key, which is the existing one when the key was already used.
func (s *Store) Record(ctx context.Context, t *model.Transaction) (uuid.UUID, error) {
	if err := Validate(t); err != nil {
		return uuid.Nil, err
	}
	id, _, _, err := record(ctx, s.db, t)
	return id, err
}

// record inserts t and reports whether it was new, along with the status of the entry holding the key.
func record(ctx context.Context, q database.Querier, t *model.Transaction) (uuid.UUID, model.TransactionStatus, bool, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	err := q.QueryRow(ctx, `
		INSERT INTO transactions (
			id, idempotency_key, user_id, amount, direction, bucket, type, status, description,
			event_id, referral_id, order_id, payment_method_id, external_ref
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at
	`,
		t.ID, t.IdempotencyKey, t.UserID, t.Amount, string(t.Direction), string(t.Bucket), string(t.Type),
		string(t.Status), t.Description, t.EventID, t.ReferralID, t.OrderID, t.PaymentMethodID, t.ExternalRef,
	).Scan(&t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var existing uuid.UUID
		var status string
		err := q.QueryRow(ctx, `SELECT id, status FROM transactions WHERE idempotency_key = $1`, t.IdempotencyKey).Scan(&existing, &status)
		if err != nil {
			return uuid.Nil, "", false, fmt.Errorf("failed to load transaction %s: %w", t.IdempotencyKey, err)
		}
		t.ID = existing
		return existing, model.TransactionStatus(status), false, nil
	}
	if err != nil {
		return uuid.Nil, "", false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return t.ID, t.Status, true, nil
}

// Apply writes every entry of p and moves the matching wallet buckets in one SQL transaction, then
// enqueues a ledger.posted event. A posting whose first key was already recorded is a no-op.
// Debits are conditional, so a bucket can never go negative. A pending debit moves its bucket
// immediately and is settled later with CompleteHold or CancelHold.
func (s *Store) Apply(ctx context.Context, p Posting) (*Result, error) {
	if p.UserID == "" || len(p.Entries) == 0 {
		return nil, apperror.Validation("posting requires a user and at least one entry")
	}
	for i := range p.Entries {
		e := &p.Entries[i]
		e.UserID = p.UserID
		if e.Status == "" {
			e.Status = model.StatusCompleted
		}
		if err := Validate(e); err != nil {
			return nil, err
		}
	}

	result := &Result{}
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for i := range p.Entries {
			e := &p.Entries[i]
			id, status, inserted, err := record(ctx, tx, e)
			if err != nil {
				return err
			}
			result.TransactionIDs = append(result.TransactionIDs, id)
			if i == 0 {
				result.Status = status
			}

			if !inserted {
				if i > 0 {
					return apperror.Conflict("posting %s partially recorded", p.Entries[0].IdempotencyKey)
				}
				result.Duplicate = true
				continue
			}
			if result.Duplicate {
				return apperror.Conflict("posting %s partially recorded", p.Entries[0].IdempotencyKey)
			}

			if !e.Moves() {
				continue
			}
			if err := move(ctx, tx, e); err != nil {
				return err
			}
		}

		if result.Duplicate {
			return nil
		}

		if p.Earnings != 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE wallets
				SET total_earnings = GREATEST(total_earnings + $2, 0), updated_at = NOW()
				WHERE user_id = $1
			`, p.UserID, p.Earnings); err != nil {
				return fmt.Errorf("failed to update total earnings: %w", err)
			}
		}

		if p.Referral != nil {
			if err := adjustReferral(ctx, tx, p.Referral); err != nil {
				return err
			}
		}

		return outbox.Enqueue(ctx, tx, kafka.EventLedgerPosted, p.UserID, postedEvent(p, result))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// adjustReferral keeps a link's counters in step with the commission postings made on it.
func adjustReferral(ctx context.Context, tx pgx.Tx, d *ReferralDelta) error {
	_, err := tx.Exec(ctx, `
		UPDATE referral_links
		SET conversion_count = GREATEST(conversion_count + $2, 0), earnings = GREATEST(earnings + $3, 0)
		WHERE code = $1
	`, d.Code, d.Conversions, d.Earnings)
	if err != nil {
		return fmt.Errorf("failed to update referral link %s: %w", d.Code, err)
	}
	return nil
}

// move applies one entry to its bucket with a single atomic statement.
func move(ctx context.Context, tx pgx.Tx, e *model.Transaction) error {
	column := bucketColumns[e.Bucket]

	if e.Direction == model.DirectionCredit {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO wallets (user_id, %[1]s)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET %[1]s = wallets.%[1]s + EXCLUDED.%[1]s, updated_at = NOW()
		`, column), e.UserID, e.Amount)
		if err != nil {
			return fmt.Errorf("failed to credit %s: %w", column, err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE wallets
		SET %[1]s = %[1]s - $2, updated_at = NOW()
		WHERE user_id = $1 AND %[1]s >= $2
	`, column), e.UserID, e.Amount)
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		var current int64
		err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM wallets WHERE user_id = $1`, column), e.UserID).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read %s: %w", column, err)
		}
		if e.Bucket == model.BucketCredits {
			return apperror.InsufficientCredits(current, e.Amount)
		}
		return apperror.InsufficientFunds(current, e.Amount)
	}
	return nil
}

func postedEvent(p Posting, r *Result) types.LedgerPostedEvent {
	ids := make([]string, len(r.TransactionIDs))
	var amount int64
	for i, id := range r.TransactionIDs {
		ids[i] = id.String()
	}
	for _, e := range p.Entries {
		if e.Moves() {
			amount += e.Effect()
		}
	}
	return types.LedgerPostedEvent{
		UserID:         p.UserID,
		TransactionIDs: ids,
		Type:           string(p.Entries[0].Type),
		Amount:         amount,
		IdempotencyKey: p.Entries[0].IdempotencyKey,
	}
}
