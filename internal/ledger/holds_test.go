package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/model"
)

func holdEntry() model.Transaction {
	return model.Transaction{
		IdempotencyKey: "withdraw:user-1:k1",
		UserID:         "user-1",
		Amount:         500,
		Direction:      model.DirectionDebit,
		Bucket:         model.BucketAvailable,
		Type:           model.TypeWithdrawal,
		Status:         model.StatusPending,
	}
}

func TestApplyPendingHoldDebitsAvailable(t *testing.T) {
	db := newMock(t)
	store := NewStore(db)
	e := holdEntry()

	db.ExpectBegin()
	db.ExpectQuery(`INSERT INTO transactions`).
		WithArgs(pgxmock.AnyArg(), e.IdempotencyKey, e.UserID, e.Amount, "debit", "available", "withdrawal", "pending", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	db.ExpectExec(`UPDATE wallets\s+SET available_balance = available_balance - \$2`).
		WithArgs("user-1", int64(500)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	db.ExpectExec(`INSERT INTO transaction_outbox`).
		WithArgs("patron.ledger.posted", pgxmock.AnyArg(), "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()

	res, err := store.Apply(context.Background(), Posting{UserID: "user-1", Entries: []model.Transaction{e}})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestCompleteHold(t *testing.T) {
	t.Run("attaches the transfer id", func(t *testing.T) {
		db := newMock(t)
		store := NewStore(db)

		db.ExpectBegin()
		db.ExpectQuery(`UPDATE transactions\s+SET status = \$2`).
			WithArgs("withdraw:user-1:k1", "completed", pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "amount", "bucket", "type"}).
				AddRow(uuid.New(), "user-1", int64(500), "available", "withdrawal"))
		db.ExpectExec(`INSERT INTO transaction_outbox`).
			WithArgs("patron.ledger.posted", pgxmock.AnyArg(), "user-1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		db.ExpectCommit()

		require.NoError(t, store.CompleteHold(context.Background(), "withdraw:user-1:k1", "tr_1"))
		assert.NoError(t, db.ExpectationsWereMet())
	})

	t.Run("second completion is a no-op", func(t *testing.T) {
		db := newMock(t)
		store := NewStore(db)

		db.ExpectBegin()
		db.ExpectQuery(`UPDATE transactions\s+SET status = \$2`).
			WithArgs("withdraw:user-1:k1", "completed", pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "amount", "bucket", "type"}))
		db.ExpectQuery(`SELECT status FROM transactions WHERE idempotency_key = \$1`).
			WithArgs("withdraw:user-1:k1").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))
		db.ExpectCommit()

		require.NoError(t, store.CompleteHold(context.Background(), "withdraw:user-1:k1", "tr_1"))
		assert.NoError(t, db.ExpectationsWereMet())
	})

	t.Run("canceled hold cannot complete", func(t *testing.T) {
		db := newMock(t)
		store := NewStore(db)

		db.ExpectBegin()
		db.ExpectQuery(`UPDATE transactions\s+SET status = \$2`).
			WithArgs("withdraw:user-1:k1", "completed", pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "amount", "bucket", "type"}))
		db.ExpectQuery(`SELECT status FROM transactions WHERE idempotency_key = \$1`).
			WithArgs("withdraw:user-1:k1").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("canceled"))
		db.ExpectRollback()

		err := store.CompleteHold(context.Background(), "withdraw:user-1:k1", "tr_1")
		assert.ErrorIs(t, err, apperror.ErrConflict)
		assert.NoError(t, db.ExpectationsWereMet())
	})
}

func TestCancelHoldRefundsBucket(t *testing.T) {
	db := newMock(t)
	store := NewStore(db)

	db.ExpectBegin()
	db.ExpectQuery(`UPDATE transactions\s+SET status = \$2`).
		WithArgs("withdraw:user-1:k1", "canceled", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "amount", "bucket", "type"}).
			AddRow(uuid.New(), "user-1", int64(500), "available", "withdrawal"))
	db.ExpectExec(`INSERT INTO wallets \(user_id, available_balance\)`).
		WithArgs("user-1", int64(500)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectExec(`INSERT INTO transaction_outbox`).
		WithArgs("patron.ledger.posted", pgxmock.AnyArg(), "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()

	require.NoError(t, store.CancelHold(context.Background(), "withdraw:user-1:k1"))
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestApplyUpdatesReferralCountersInSameTransaction(t *testing.T) {
	db := newMock(t)
	store := NewStore(db)

	entry := func() model.Transaction {
		return model.Transaction{
			IdempotencyKey: "referral-conversion:s-1",
			Amount:         2500,
			Direction:      model.DirectionCredit,
			Bucket:         model.BucketPending,
			Type:           model.TypeReferral,
			ReferralID:     ptr("abc123"),
			UserID:         "referrer-1",
		}
	}
	posting := func() Posting {
		return Posting{
			UserID:   "referrer-1",
			Entries:  []model.Transaction{entry()},
			Earnings: 2500,
			Referral: &ReferralDelta{Code: "abc123", Conversions: 1, Earnings: 2500},
		}
	}
	expectCredit := func() {
		db.ExpectBegin()
		db.ExpectQuery(`INSERT INTO transactions`).
			WithArgs(insertArgs(entry())...).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		db.ExpectExec(`INSERT INTO wallets \(user_id, pending_balance\)`).
			WithArgs("referrer-1", int64(2500)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		db.ExpectExec(`UPDATE wallets\s+SET total_earnings`).
			WithArgs("referrer-1", int64(2500)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}

	// a failed counter update rolls the credit back, so the redelivery is not a duplicate
	expectCredit()
	db.ExpectExec(`UPDATE referral_links`).
		WithArgs("abc123", int64(1), int64(2500)).
		WillReturnError(errors.New("deadlock detected"))
	db.ExpectRollback()

	_, err := store.Apply(context.Background(), posting())
	require.Error(t, err)

	expectCredit()
	db.ExpectExec(`UPDATE referral_links`).
		WithArgs("abc123", int64(1), int64(2500)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	db.ExpectExec(`INSERT INTO transaction_outbox`).
		WithArgs("patron.ledger.posted", pgxmock.AnyArg(), "referrer-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()

	res, err := store.Apply(context.Background(), posting())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NoError(t, db.ExpectationsWereMet())
}
