package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/model"
)

func (s *Store) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.db.QueryRow(ctx, `
		SELECT user_id, available_balance, pending_balance, platform_credits, total_earnings,
			payout_account_id, has_payout_method, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(
		&w.UserID, &w.AvailableBalance, &w.PendingBalance, &w.PlatformCredits, &w.TotalEarnings,
		&w.PayoutAccountID, &w.HasPayoutMethod, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("wallet for user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// Reconcile recomputes a wallet's buckets from its completed ledger entries and open holds.
func (s *Store) Reconcile(ctx context.Context, userID string) (*model.Balances, error) {
	rows, err := s.db.Query(ctx, `
		SELECT bucket, COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE user_id = $1 AND (status = 'completed' OR (status = 'pending' AND direction = 'debit'))
		GROUP BY bucket
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile wallet: %w", err)
	}
	defer rows.Close()

	b := &model.Balances{UserID: userID}
	for rows.Next() {
		var bucket string
		var sum int64
		if err := rows.Scan(&bucket, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		switch model.Bucket(bucket) {
		case model.BucketAvailable:
			b.AvailableBalance = sum
		case model.BucketPending:
			b.PendingBalance = sum
		case model.BucketCredits:
			b.PlatformCredits = sum
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read balances: %w", err)
	}
	return b, nil
}

// Audit compares the stored wallet against the balances derived from the log.
func (s *Store) Audit(ctx context.Context, userID string) (*model.Drift, error) {
	derived, err := s.Reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}

	stored := model.Balances{UserID: userID}
	w, err := s.GetWallet(ctx, userID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		stored.AvailableBalance = w.AvailableBalance
		stored.PendingBalance = w.PendingBalance
		stored.PlatformCredits = w.PlatformCredits
	}

	d := &model.Drift{
		UserID:    userID,
		Stored:    stored,
		Derived:   *derived,
		Available: stored.AvailableBalance - derived.AvailableBalance,
		Pending:   stored.PendingBalance - derived.PendingBalance,
		Credits:   stored.PlatformCredits - derived.PlatformCredits,
	}
	d.Balanced = d.Available == 0 && d.Pending == 0 && d.Credits == 0
	return d, nil
}

// SetPayoutAccount attaches a gateway account to the wallet unless one is already set, creating
// the wallet if needed. It returns the account id in effect.
func (s *Store) SetPayoutAccount(ctx context.Context, userID, accountID string) (string, error) {
	var current string
	err := s.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, payout_account_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET payout_account_id = COALESCE(wallets.payout_account_id, EXCLUDED.payout_account_id), updated_at = NOW()
		RETURNING payout_account_id
	`, userID, accountID).Scan(&current)
	if err != nil {
		return "", fmt.Errorf("failed to set payout account: %w", err)
	}
	return current, nil
}

// SetPayoutEnabled flips has_payout_method for the wallet owning accountID and returns its user.
func (s *Store) SetPayoutEnabled(ctx context.Context, accountID string, enabled bool) (string, error) {
	var userID string
	err := s.db.QueryRow(ctx, `
		UPDATE wallets
		SET has_payout_method = $2, updated_at = NOW()
		WHERE payout_account_id = $1
		RETURNING user_id
	`, accountID, enabled).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperror.NotFound("no wallet for payout account %s", accountID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to update payout method: %w", err)
	}
	return userID, nil
}

// ListTransactions returns a wallet's entries, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, idempotency_key, user_id, amount, direction, bucket, type, status, description,
			event_id, referral_id, order_id, payment_method_id, external_ref, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Transaction, error) {
		var t model.Transaction
		err := row.Scan(
			&t.ID, &t.IdempotencyKey, &t.UserID, &t.Amount, &t.Direction, &t.Bucket, &t.Type, &t.Status,
			&t.Description, &t.EventID, &t.ReferralID, &t.OrderID, &t.PaymentMethodID, &t.ExternalRef, &t.CreatedAt,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}
	return txs, nil
}
