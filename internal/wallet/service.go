package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/gateway"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/pkg/types"
)

// CreditRequest describes an incoming credit. Bucket defaults from Type when empty.
type CreditRequest struct {
	UserID         string
	Amount         int64
	Type           model.TransactionType
	Bucket         model.Bucket
	Description    string
	IdempotencyKey string
	EventID        *string
	OrderID        *string
	ReferralID     *string
	ExternalRef    *string
}

// PendingRequest moves or removes referral commission held in the pending bucket.
type PendingRequest struct {
	UserID         string
	Amount         int64
	ReferralID     string
	IdempotencyKey string
}

const settleAttempts = 3

type WalletService struct {
	walletRepo    WalletRepository
	gateway       gateway.Gateway
	locks         Locker
	lockTTL       time.Duration
	settleBackoff time.Duration
}

func NewWalletService(walletRepo WalletRepository, gw gateway.Gateway, locks Locker, lockTTL time.Duration) *WalletService {
	return &WalletService{
		walletRepo:    walletRepo,
		gateway:       gw,
		locks:         locks,
		lockTTL:       lockTTL,
		settleBackoff: 200 * time.Millisecond,
	}
}

func defaultBucket(t model.TransactionType) model.Bucket {
	switch t {
	case model.TypeReferral:
		return model.BucketPending
	default:
		return model.BucketAvailable
	}
}

// Credit adds amount to one of the user's buckets and records the entry that explains it.
// Result.Duplicate reports a replayed idempotency key.
func (ws *WalletService) Credit(ctx context.Context, req CreditRequest) (*ledger.Result, error) {
	bucket := req.Bucket
	if bucket == "" {
		bucket = defaultBucket(req.Type)
	}

	var earnings int64
	if bucket != model.BucketCredits && (req.Type == model.TypeSale || req.Type == model.TypeReferral) {
		earnings = req.Amount
	}

	res, err := ws.walletRepo.Apply(ctx, ledger.Posting{
		UserID: req.UserID,
		Entries: []model.Transaction{{
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Direction:      model.DirectionCredit,
			Bucket:         bucket,
			Type:           req.Type,
			Description:    req.Description,
			EventID:        req.EventID,
			OrderID:        req.OrderID,
			ReferralID:     req.ReferralID,
			ExternalRef:    req.ExternalRef,
		}},
		Earnings: earnings,
		Referral: conversion(req),
	})
	if err != nil {
		return nil, err
	}

	middleware.GetLogger(ctx).Info().
		Str("user_id", req.UserID).
		Int64("amount", req.Amount).
		Str("bucket", string(bucket)).
		Bool("duplicate", res.Duplicate).
		Msg("Wallet credited")

	return res, nil
}

// conversion counts a referral commission credit as one conversion on its link.
func conversion(req CreditRequest) *ledger.ReferralDelta {
	if req.Type != model.TypeReferral || req.ReferralID == nil || *req.ReferralID == "" {
		return nil
	}
	return &ledger.ReferralDelta{Code: *req.ReferralID, Conversions: 1, Earnings: req.Amount}
}

// Withdraw pays out amount from the available balance to the user's payout account. The amount is
// held with a pending debit before the gateway is called, so a second withdrawal can never spend
// it while the transfer is in flight. The hold completes with the transfer id once the money has
// left, or is canceled when the gateway declines.
func (ws *WalletService) Withdraw(ctx context.Context, userID string, amount int64, key string) (uuid.UUID, error) {
	logger := middleware.GetLogger(ctx)

	if amount <= 0 {
		return uuid.Nil, apperror.Validation("amount must be positive")
	}
	if key == "" {
		key = uuid.NewString()
	}

	lock, err := ws.locks.AcquireLock(ctx, "wallet:"+userID, ws.lockTTL)
	if errors.Is(err, redis.ErrLockHeld) {
		return uuid.Nil, apperror.Conflict("a withdrawal for this wallet is already in progress")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to release wallet lock")
		}
	}()

	w, err := ws.walletRepo.GetWallet(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return uuid.Nil, apperror.InsufficientFunds(0, amount)
	}
	if err != nil {
		return uuid.Nil, err
	}
	if amount > w.AvailableBalance {
		return uuid.Nil, apperror.InsufficientFunds(w.AvailableBalance, amount)
	}
	if !w.HasPayoutMethod || w.PayoutAccountID == nil {
		return uuid.Nil, apperror.NoPayoutMethod(userID)
	}

	hold := model.Transaction{
		IdempotencyKey: "withdraw:" + userID + ":" + key,
		UserID:         userID,
		Amount:         amount,
		Direction:      model.DirectionDebit,
		Bucket:         model.BucketAvailable,
		Type:           model.TypeWithdrawal,
		Status:         model.StatusPending,
		Description:    "Withdrawal to payout account",
	}
	res, err := ws.walletRepo.Apply(ctx, ledger.Posting{UserID: userID, Entries: []model.Transaction{hold}})
	if err != nil {
		return uuid.Nil, err
	}
	if res.Duplicate {
		switch res.Status {
		case model.StatusCompleted:
			return res.TransactionIDs[0], nil
		case model.StatusCanceled:
			return uuid.Nil, apperror.Conflict("withdrawal %s was declined, retry with a new key", key)
		}
	}

	transferID, err := ws.payout(ctx, hold, *w.PayoutAccountID)
	if err != nil {
		return uuid.Nil, err
	}

	logger.Info().Str("user_id", userID).Str("transfer_id", transferID).Int64("amount", amount).Msg("Withdrawal completed")
	return res.TransactionIDs[0], nil
}

// payout runs the transfer for a pending hold and settles the hold with the outcome. The hold key
// doubles as the gateway idempotency key, so replaying it returns the original transfer. A
// retryable failure leaves the hold pending because the transfer may still have gone out.
func (ws *WalletService) payout(ctx context.Context, hold model.Transaction, destination string) (string, error) {
	logger := middleware.GetLogger(ctx).With().
		Str("user_id", hold.UserID).
		Str("hold", hold.IdempotencyKey).
		Int64("amount", hold.Amount).
		Logger()

	transfer, err := ws.gateway.Transfer(ctx, gateway.TransferRequest{
		Amount:         hold.Amount,
		Destination:    destination,
		UserID:         hold.UserID,
		IdempotencyKey: hold.IdempotencyKey,
	})
	if err != nil {
		if apperror.KindOf(err) != apperror.KindPaymentGateway {
			err = apperror.PaymentGateway(err, true, "payout transfer failed")
		}
		if apperror.IsRetryable(err) {
			logger.Error().Err(err).Msg("Payout transfer outcome unknown, keeping hold")
			return "", err
		}

		logger.Error().Err(err).Msg("Payout transfer declined, releasing hold")
		if cancelErr := ws.settleHold(ctx, func(ctx context.Context) error {
			return ws.walletRepo.CancelHold(ctx, hold.IdempotencyKey)
		}); cancelErr != nil {
			logger.Error().Err(cancelErr).Msg("Failed to release withdrawal hold")
		}
		return "", err
	}

	if err := ws.settleHold(ctx, func(ctx context.Context) error {
		return ws.walletRepo.CompleteHold(ctx, hold.IdempotencyKey, transfer.ID)
	}); err != nil {
		// the funds stay held; ResumeWithdrawals completes the hold from the same key
		logger.Error().Err(err).Str("transfer_id", transfer.ID).Msg("Failed to record withdrawal after transfer")
	}
	return transfer.ID, nil
}

// settleHold runs a hold update detached from the request, so a client that hangs up after the
// transfer cannot leave it unrecorded. Transient failures are retried.
func (ws *WalletService) settleHold(ctx context.Context, fn func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt < settleAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(ws.settleBackoff * time.Duration(attempt))
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		switch apperror.KindOf(err) {
		case apperror.KindConflict, apperror.KindNotFound:
			return err
		}
	}
	return err
}

// ResumeWithdrawals settles holds left pending for longer than olderThan by replaying their
// transfer. It returns how many holds it settled.
func (ws *WalletService) ResumeWithdrawals(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	logger := middleware.GetLogger(ctx)

	holds, err := ws.walletRepo.PendingHolds(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, hold := range holds {
		w, err := ws.walletRepo.GetWallet(ctx, hold.UserID)
		if err != nil {
			logger.Error().Err(err).Str("hold", hold.IdempotencyKey).Msg("Failed to load wallet for pending withdrawal")
			continue
		}
		if w.PayoutAccountID == nil {
			logger.Warn().Str("hold", hold.IdempotencyKey).Msg("Pending withdrawal has no payout account")
			continue
		}

		if _, err := ws.payout(ctx, hold, *w.PayoutAccountID); err != nil && apperror.IsRetryable(err) {
			continue
		}
		settled++
	}

	if settled > 0 {
		logger.Info().Int("settled", settled).Int("pending", len(holds)).Msg("Resumed pending withdrawals")
	}
	return settled, nil
}

// UseCredits spends platform credits.
func (ws *WalletService) UseCredits(ctx context.Context, userID string, amount int64, description, key string) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, apperror.Validation("amount must be positive")
	}
	if key == "" {
		key = uuid.NewString()
	}

	res, err := ws.walletRepo.Apply(ctx, ledger.Posting{
		UserID: userID,
		Entries: []model.Transaction{{
			IdempotencyKey: "use-credits:" + userID + ":" + key,
			Amount:         amount,
			Direction:      model.DirectionDebit,
			Bucket:         model.BucketCredits,
			Type:           model.TypeDebit,
			Description:    description,
		}},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return res.TransactionIDs[0], nil
}

// AddPlatformCredits grants credits. Only a capability minted by auth.RequireAdmin is accepted.
func (ws *WalletService) AddPlatformCredits(ctx context.Context, capability auth.AdminCapability, userID string, amount int64, description, key string) (uuid.UUID, error) {
	if !capability.Valid() {
		return uuid.Nil, apperror.Unauthorized("admin capability required")
	}
	if amount <= 0 {
		return uuid.Nil, apperror.Validation("amount must be positive")
	}
	if key == "" {
		key = uuid.NewString()
	}

	middleware.GetLogger(ctx).Info().
		Str("admin_id", capability.GrantedTo()).
		Str("user_id", userID).
		Int64("amount", amount).
		Msg("Granting platform credits")

	res, err := ws.Credit(ctx, CreditRequest{
		UserID:         userID,
		Amount:         amount,
		Type:           model.TypeCredit,
		Bucket:         model.BucketCredits,
		Description:    description,
		IdempotencyKey: "platform-credits:" + capability.GrantedTo() + ":" + key,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return res.TransactionIDs[0], nil
}

// SettlePending moves commission from pending to available as a two-leg posting.
func (ws *WalletService) SettlePending(ctx context.Context, req PendingRequest) (*ledger.Result, error) {
	if req.Amount <= 0 {
		return nil, apperror.Validation("amount must be positive")
	}
	return ws.walletRepo.Apply(ctx, ledger.Posting{
		UserID: req.UserID,
		Entries: []model.Transaction{
			{
				IdempotencyKey: req.IdempotencyKey,
				Amount:         req.Amount,
				Direction:      model.DirectionDebit,
				Bucket:         model.BucketPending,
				Type:           model.TypeReferral,
				Description:    "Referral commission released from pending",
				ReferralID:     &req.ReferralID,
			},
			{
				IdempotencyKey: req.IdempotencyKey + ":available",
				Amount:         req.Amount,
				Direction:      model.DirectionCredit,
				Bucket:         model.BucketAvailable,
				Type:           model.TypeReferral,
				Description:    "Referral commission settled",
				ReferralID:     &req.ReferralID,
			},
		},
	})
}

// ReversePending removes commission that will never settle.
func (ws *WalletService) ReversePending(ctx context.Context, req PendingRequest) (*ledger.Result, error) {
	if req.Amount <= 0 {
		return nil, apperror.Validation("amount must be positive")
	}
	return ws.walletRepo.Apply(ctx, ledger.Posting{
		UserID: req.UserID,
		Entries: []model.Transaction{{
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Direction:      model.DirectionDebit,
			Bucket:         model.BucketPending,
			Type:           model.TypeReferral,
			Description:    "Referral commission reversed",
			ReferralID:     &req.ReferralID,
		}},
		Earnings: -req.Amount,
		Referral: &ledger.ReferralDelta{Code: req.ReferralID, Earnings: -req.Amount},
	})
}

// VoidCommission records the commission key as canceled without moving money, so a credit that
// arrives later under the same key is a duplicate. When the key was already taken, Result.Status
// tells whether the commission had been credited.
func (ws *WalletService) VoidCommission(ctx context.Context, req PendingRequest) (*ledger.Result, error) {
	if req.Amount <= 0 {
		return nil, apperror.Validation("amount must be positive")
	}
	return ws.walletRepo.Apply(ctx, ledger.Posting{
		UserID: req.UserID,
		Entries: []model.Transaction{{
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Direction:      model.DirectionCredit,
			Bucket:         model.BucketPending,
			Type:           model.TypeReferral,
			Status:         model.StatusCanceled,
			Description:    "Referral commission voided before credit",
			ReferralID:     &req.ReferralID,
		}},
	})
}

// CreateConnectAccountLink creates the user's payout account on first use and returns an
// onboarding link for it.
func (ws *WalletService) CreateConnectAccountLink(ctx context.Context, userID string) (string, error) {
	logger := middleware.GetLogger(ctx)

	var accountID string
	w, err := ws.walletRepo.GetWallet(ctx, userID)
	switch {
	case err == nil && w.PayoutAccountID != nil:
		accountID = *w.PayoutAccountID
	case err == nil, errors.Is(err, apperror.ErrNotFound):
		created, err := ws.gateway.CreateAccount(ctx, userID, "account:"+userID)
		if err != nil {
			return "", err
		}
		accountID, err = ws.walletRepo.SetPayoutAccount(ctx, userID, created)
		if err != nil {
			return "", err
		}
		logger.Info().Str("user_id", userID).Str("account_id", accountID).Msg("Payout account created")
	default:
		return "", err
	}

	return ws.gateway.CreateAccountLink(ctx, accountID)
}

// ApplyAccountUpdated mirrors the gateway's payouts_enabled flag onto the wallet.
func (ws *WalletService) ApplyAccountUpdated(ctx context.Context, account types.Account) error {
	userID, err := ws.walletRepo.SetPayoutEnabled(ctx, account.ID, account.PayoutsEnabled)
	if errors.Is(err, apperror.ErrNotFound) {
		middleware.GetLogger(ctx).Warn().Str("account_id", account.ID).Msg("Account update for unknown payout account, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	middleware.GetLogger(ctx).Info().
		Str("user_id", userID).
		Str("account_id", account.ID).
		Bool("payouts_enabled", account.PayoutsEnabled).
		Msg("Payout method updated")
	return nil
}

// ApplyTransferReversed returns a reversed payout to the available balance, keyed by the webhook
// event id so redelivery is harmless.
func (ws *WalletService) ApplyTransferReversed(ctx context.Context, eventID string, transfer types.Transfer) error {
	userID := transfer.Metadata["user_id"]
	if userID == "" {
		return apperror.Validation("transfer %s has no user_id metadata", transfer.ID)
	}

	amount := transfer.AmountReversed
	if amount <= 0 {
		amount = transfer.Amount
	}

	_, err := ws.Credit(ctx, CreditRequest{
		UserID:         userID,
		Amount:         amount,
		Type:           model.TypeCredit,
		Bucket:         model.BucketAvailable,
		Description:    "Payout reversed",
		IdempotencyKey: "transfer-reversed:" + eventID,
		ExternalRef:    &transfer.ID,
	})
	return err
}

func (ws *WalletService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w, err := ws.walletRepo.GetWallet(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return &model.Wallet{UserID: userID}, nil
	}
	return w, err
}

func (ws *WalletService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return ws.walletRepo.ListTransactions(ctx, userID, limit, offset)
}

// Reconcile reports drift between the stored wallet and its ledger. Admin only.
func (ws *WalletService) Reconcile(ctx context.Context, capability auth.AdminCapability, userID string) (*model.Drift, error) {
	if !capability.Valid() {
		return nil, apperror.Unauthorized("admin capability required")
	}
	drift, err := ws.walletRepo.Audit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !drift.Balanced {
		middleware.GetLogger(ctx).Error().
			Str("user_id", userID).
			Int64("available_drift", drift.Available).
			Int64("pending_drift", drift.Pending).
			Int64("credits_drift", drift.Credits).
			Msg("Wallet drift detected")
	}
	return drift, nil
}
