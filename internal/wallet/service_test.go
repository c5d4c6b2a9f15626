package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/gateway"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/pkg/constants"
	"github.com/Niiaks/Patron/pkg/types"
)

func strPtr(s string) *string { return &s }

type fixture struct {
	repo    *mockRepo
	gateway *mockGateway
	locks   *redis.Client
	svc     *WalletService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log := zerolog.Nop()

	f := &fixture{
		repo:    &mockRepo{},
		gateway: &mockGateway{},
		locks:   redis.NewFromClient(rdb, "test:", &log),
	}
	f.svc = NewWalletService(f.repo, f.gateway, f.locks, 30*time.Second)
	return f
}

func payoutWallet(available int64) *model.Wallet {
	return &model.Wallet{
		UserID:           "user-1",
		AvailableBalance: available,
		PayoutAccountID:  strPtr("acct_1"),
		HasPayoutMethod:  true,
	}
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds changes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(payoutWallet(100), nil)

		_, err := f.svc.Withdraw(ctx, "user-1", 500, "k1")
		assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
		f.gateway.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("missing wallet is insufficient funds", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(nil, apperror.NotFound("no wallet"))

		_, err := f.svc.Withdraw(ctx, "user-1", 1, "k1")
		assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
	})

	t.Run("no payout method", func(t *testing.T) {
		f := newFixture(t)
		w := payoutWallet(1000)
		w.HasPayoutMethod = false
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(w, nil)

		_, err := f.svc.Withdraw(ctx, "user-1", 500, "k1")
		assert.ErrorIs(t, err, apperror.ErrNoPayoutMethod)
		f.gateway.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})

	holdPosting := mock.MatchedBy(func(p ledger.Posting) bool {
		e := p.Entries[0]
		return p.UserID == "user-1" && len(p.Entries) == 1 &&
			e.Direction == model.DirectionDebit && e.Bucket == model.BucketAvailable &&
			e.Type == model.TypeWithdrawal && e.Status == model.StatusPending && e.Amount == 500 &&
			e.IdempotencyKey == "withdraw:user-1:k1"
	})

	t.Run("declined transfer releases the hold", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(payoutWallet(1000), nil)
		f.repo.On("Apply", mock.Anything, holdPosting).
			Return(&ledger.Result{TransactionIDs: []uuid.UUID{uuid.New()}, Status: model.StatusPending}, nil)
		f.gateway.On("Transfer", mock.Anything, mock.Anything).
			Return(nil, apperror.PaymentGateway(nil, false, "account closed"))
		f.repo.On("CancelHold", mock.Anything, "withdraw:user-1:k1").Return(nil)

		_, err := f.svc.Withdraw(ctx, "user-1", 500, "k1")
		assert.ErrorIs(t, err, apperror.ErrPaymentGateway)
		assert.False(t, apperror.IsRetryable(err))
		f.repo.AssertExpectations(t)
		f.repo.AssertNotCalled(t, "CompleteHold", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown transfer outcome keeps the hold", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(payoutWallet(1000), nil)
		f.repo.On("Apply", mock.Anything, holdPosting).
			Return(&ledger.Result{TransactionIDs: []uuid.UUID{uuid.New()}, Status: model.StatusPending}, nil)
		f.gateway.On("Transfer", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		_, err := f.svc.Withdraw(ctx, "user-1", 500, "k1")
		assert.ErrorIs(t, err, apperror.ErrPaymentGateway)
		assert.True(t, apperror.IsRetryable(err))
		f.repo.AssertNotCalled(t, "CancelHold", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "CompleteHold", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("success completes the hold with the transfer reference", func(t *testing.T) {
		f := newFixture(t)
		txID := uuid.New()
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(payoutWallet(1000), nil)
		f.repo.On("Apply", mock.Anything, holdPosting).
			Return(&ledger.Result{TransactionIDs: []uuid.UUID{txID}, Status: model.StatusPending}, nil)
		f.gateway.On("Transfer", mock.Anything, gateway.TransferRequest{
			Amount:         500,
			Destination:    "acct_1",
			UserID:         "user-1",
			IdempotencyKey: "withdraw:user-1:k1",
		}).Return(&gateway.TransferResult{ID: "tr_1", Amount: 500}, nil)
		f.repo.On("CompleteHold", mock.Anything, "withdraw:user-1:k1", "tr_1").Return(nil)

		id, err := f.svc.Withdraw(ctx, "user-1", 500, "k1")
		require.NoError(t, err)
		assert.Equal(t, txID, id)
		f.repo.AssertExpectations(t)
		f.gateway.AssertExpectations(t)
	})

	t.Run("replayed key after completion does not transfer again", func(t *testing.T) {
		f := newFixture(t)
		txID := uuid.New()
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(payoutWallet(1000), nil)
		f.repo.On("Apply", mock.Anything, holdPosting).
			Return(&ledger.Result{TransactionIDs: []uuid.UUID{txID}, Duplicate: true, Status: model.StatusCompleted}, nil)

		id, err := f.svc.Withdraw(ctx, "user-1", 500, "k1")
		require.NoError(t, err)
		assert.Equal(t, txID, id)
		f.gateway.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})

	t.Run("concurrent withdrawal is rejected while lock is held", func(t *testing.T) {
		f := newFixture(t)
		lock, err := f.locks.AcquireLock(ctx, "wallet:user-1", time.Minute)
		require.NoError(t, err)
		defer lock.Release(ctx)

		_, err = f.svc.Withdraw(ctx, "user-1", 500, "k1")
		assert.ErrorIs(t, err, apperror.ErrConflict)
		f.repo.AssertNotCalled(t, "GetWallet", mock.Anything, mock.Anything)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Withdraw(ctx, "user-1", 0, "k1")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})
}

func TestAddPlatformCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("zero capability is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddPlatformCredits(ctx, auth.AdminCapability{}, "user-1", 100, "promo", "k")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
		f.repo.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("admin grant credits the credits bucket", func(t *testing.T) {
		f := newFixture(t)
		capability, err := auth.RequireAdmin(auth.Identity{UserID: "admin-1", Role: constants.RoleAdmin})
		require.NoError(t, err)

		f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
			e := p.Entries[0]
			return e.Bucket == model.BucketCredits && e.Direction == model.DirectionCredit &&
				e.IdempotencyKey == "platform-credits:admin-1:k" && p.Earnings == 0
		})).Return(&ledger.Result{TransactionIDs: []uuid.UUID{uuid.New()}}, nil)

		_, err = f.svc.AddPlatformCredits(ctx, capability, "user-1", 100, "promo", "k")
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})
}

func TestUseCreditsSurfacesInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
		return p.Entries[0].Bucket == model.BucketCredits && p.Entries[0].Direction == model.DirectionDebit
	})).Return(nil, apperror.InsufficientCredits(10, 40))

	_, err := f.svc.UseCredits(context.Background(), "user-1", 40, "boost", "k")
	assert.ErrorIs(t, err, apperror.ErrInsufficientCreds)
}

func TestCreditDefaultsReferralToPending(t *testing.T) {
	f := newFixture(t)
	f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
		return p.Entries[0].Bucket == model.BucketPending && p.Earnings == 2500 &&
			p.Referral != nil && *p.Referral == ledger.ReferralDelta{Code: "abc", Conversions: 1, Earnings: 2500}
	})).Return(&ledger.Result{TransactionIDs: []uuid.UUID{uuid.New()}}, nil)

	_, err := f.svc.Credit(context.Background(), CreditRequest{
		UserID:         "referrer-1",
		Amount:         2500,
		Type:           model.TypeReferral,
		IdempotencyKey: "referral-conversion:s-1",
		ReferralID:     strPtr("abc"),
	})
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}

func TestSettleAndReversePending(t *testing.T) {
	ctx := context.Background()
	req := PendingRequest{UserID: "referrer-1", Amount: 2500, ReferralID: "abc", IdempotencyKey: "commission-settle:s-1"}

	t.Run("settle moves pending to available", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
			if len(p.Entries) != 2 || p.Earnings != 0 {
				return false
			}
			out, in := p.Entries[0], p.Entries[1]
			return out.Bucket == model.BucketPending && out.Direction == model.DirectionDebit &&
				in.Bucket == model.BucketAvailable && in.Direction == model.DirectionCredit &&
				out.Effect()+in.Effect() == 0
		})).Return(&ledger.Result{}, nil)

		_, err := f.svc.SettlePending(ctx, req)
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})

	t.Run("reverse removes pending and earnings", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
			return len(p.Entries) == 1 && p.Entries[0].Bucket == model.BucketPending &&
				p.Entries[0].Direction == model.DirectionDebit && p.Earnings == -2500 &&
				p.Referral != nil && *p.Referral == ledger.ReferralDelta{Code: "abc", Earnings: -2500}
		})).Return(&ledger.Result{}, nil)

		_, err := f.svc.ReversePending(ctx, req)
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})

	t.Run("void records a canceled entry without moving money", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
			e := p.Entries[0]
			return len(p.Entries) == 1 && e.Status == model.StatusCanceled && !e.Moves() &&
				e.IdempotencyKey == "referral-conversion:s-1" && p.Earnings == 0 && p.Referral == nil
		})).Return(&ledger.Result{Status: model.StatusCanceled}, nil)

		_, err := f.svc.VoidCommission(ctx, PendingRequest{UserID: "referrer-1", Amount: 2500, ReferralID: "abc", IdempotencyKey: "referral-conversion:s-1"})
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})
}

func TestCreateConnectAccountLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account on first use", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(nil, apperror.NotFound("no wallet"))
		f.gateway.On("CreateAccount", mock.Anything, "user-1", "account:user-1").Return("acct_new", nil)
		f.repo.On("SetPayoutAccount", mock.Anything, "user-1", "acct_new").Return("acct_new", nil)
		f.gateway.On("CreateAccountLink", mock.Anything, "acct_new").Return("https://connect.example/onboard", nil)

		url, err := f.svc.CreateConnectAccountLink(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "https://connect.example/onboard", url)
	})

	t.Run("reuses existing account", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetWallet", mock.Anything, "user-1").Return(payoutWallet(0), nil)
		f.gateway.On("CreateAccountLink", mock.Anything, "acct_1").Return("https://connect.example/again", nil)

		url, err := f.svc.CreateConnectAccountLink(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "https://connect.example/again", url)
		f.gateway.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWebhookAppliers(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown payout account is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("SetPayoutEnabled", mock.Anything, "acct_x", true).Return("", apperror.NotFound("none"))

		err := f.svc.ApplyAccountUpdated(ctx, types.Account{ID: "acct_x", PayoutsEnabled: true})
		assert.NoError(t, err)
	})

	t.Run("transfer reversal credits available keyed by event", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Apply", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
			e := p.Entries[0]
			return p.UserID == "user-1" && e.Amount == 300 && e.Bucket == model.BucketAvailable &&
				e.IdempotencyKey == "transfer-reversed:evt_1"
		})).Return(&ledger.Result{TransactionIDs: []uuid.UUID{uuid.New()}}, nil)

		err := f.svc.ApplyTransferReversed(ctx, "evt_1", types.Transfer{
			ID:             "tr_1",
			Amount:         500,
			AmountReversed: 300,
			Metadata:       map[string]string{"user_id": "user-1"},
		})
		require.NoError(t, err)
		f.repo.AssertExpectations(t)
	})

	t.Run("transfer without user metadata", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.ApplyTransferReversed(ctx, "evt_2", types.Transfer{ID: "tr_2", Amount: 500})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})
}

func TestReconcileRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reconcile(context.Background(), auth.AdminCapability{}, "user-1")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
