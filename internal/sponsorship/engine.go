// Package sponsorship sells sponsorship tiers with deferred capture: a pledge reserves a spot and
// places a hold on the sponsor's card, and the hold is captured once the event's pre-sale goal is
// met or released when it is not.
package sponsorship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/gateway"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/money"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/internal/referral"
	"github.com/Niiaks/Patron/internal/wallet"
	"github.com/Niiaks/Patron/pkg/constants"
	"github.com/Niiaks/Patron/pkg/types"
)

type EventReader interface {
	Get(ctx context.Context, id string) (*model.Event, error)
}

type Referrals interface {
	ResolveConversion(ctx context.Context, req referral.ConversionRequest) (*referral.Conversion, error)
	CreditConversion(ctx context.Context, sponsorshipID string, conv *referral.Conversion) (*ledger.Result, error)
}

type Wallet interface {
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	Credit(ctx context.Context, req wallet.CreditRequest) (*ledger.Result, error)
	ReversePending(ctx context.Context, req wallet.PendingRequest) (*ledger.Result, error)
	VoidCommission(ctx context.Context, req wallet.PendingRequest) (*ledger.Result, error)
}

type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redis.Lock, error)
}

type PledgeRequest struct {
	EventID         string
	TierID          uuid.UUID
	UserID          string
	PaymentMethodID string
	ReferralCode    *string
}

type Engine struct {
	repo       Repository
	events     EventReader
	gateway    gateway.Gateway
	referrals  Referrals
	wallet     Wallet
	locks      Locker
	feePercent int64
	lockTTL    time.Duration
}

func NewEngine(repo Repository, events EventReader, gw gateway.Gateway, referrals Referrals, w Wallet, locks Locker, feePercent int64, lockTTL time.Duration) *Engine {
	return &Engine{
		repo:       repo,
		events:     events,
		gateway:    gw,
		referrals:  referrals,
		wallet:     w,
		locks:      locks,
		feePercent: feePercent,
		lockTTL:    lockTTL,
	}
}

func (e *Engine) platformFee(amount int64) int64 {
	return money.Percent(amount, e.feePercent)
}

func gatewayError(err error, format string, args ...any) error {
	if apperror.KindOf(err) == apperror.KindPaymentGateway {
		return err
	}
	return apperror.PaymentGateway(err, true, format, args...)
}

// Pledge reserves a spot on the tier and authorizes the tier price. Any failure after the
// reservation gives the spot back before returning. The referrer and commission are stored with
// the sponsorship before any commission is credited, so a release always knows what to undo.
func (e *Engine) Pledge(ctx context.Context, req PledgeRequest) (uuid.UUID, error) {
	logger := middleware.GetLogger(ctx).With().
		Str("event_id", req.EventID).
		Str("tier_id", req.TierID.String()).
		Str("sponsor_id", req.UserID).
		Logger()

	tier, err := e.repo.GetTier(ctx, req.TierID)
	if err != nil {
		return uuid.Nil, err
	}
	if tier.EventID != req.EventID {
		return uuid.Nil, apperror.Validation("tier %s does not belong to event %s", req.TierID, req.EventID)
	}

	event, err := e.events.Get(ctx, req.EventID)
	if err != nil {
		return uuid.Nil, err
	}
	if event.Canceled {
		return uuid.Nil, apperror.InvalidState("event %s is canceled", event.ID)
	}

	id := uuid.New()

	var conv *referral.Conversion
	if req.ReferralCode != nil && *req.ReferralCode != "" {
		conv, err = e.referrals.ResolveConversion(ctx, referral.ConversionRequest{
			Code:          *req.ReferralCode,
			EventID:       event.ID,
			SponsorshipID: id.String(),
			SponsorID:     req.UserID,
			TierPrice:     tier.Price,
		})
		if err != nil {
			// the pledge stands without commission
			logger.Error().Err(err).Str("sponsorship_id", id.String()).Msg("Failed to resolve referral conversion")
			conv = nil
		}
	}

	if err := e.repo.ReserveSpot(ctx, tier.ID); err != nil {
		logger.Info().Err(err).Msg("Spot reservation refused")
		return uuid.Nil, err
	}

	fee := e.platformFee(tier.Price)

	var destination string
	if organizer, err := e.wallet.GetWallet(ctx, event.OrganizerID); err == nil && organizer.PayoutAccountID != nil {
		destination = *organizer.PayoutAccountID
	}

	authorization, err := e.gateway.Authorize(ctx, gateway.AuthorizeRequest{
		Amount:             tier.Price,
		PaymentMethodID:    req.PaymentMethodID,
		DestinationAccount: destination,
		PlatformFee:        fee,
		EventID:            event.ID,
		TierID:             tier.ID.String(),
		SponsorID:          req.UserID,
		IdempotencyKey:     "pledge:" + id.String(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Authorization failed, releasing spot")
		e.releaseSpot(ctx, &logger, tier.ID)
		return uuid.Nil, gatewayError(err, "payment authorization failed")
	}

	s := &model.Sponsorship{
		ID:                     id,
		EventID:                event.ID,
		TierID:                 tier.ID,
		UserID:                 req.UserID,
		Amount:                 tier.Price,
		PaymentAuthorizationID: authorization.ID,
		Status:                 model.SponsorshipPending,
		ReferralCode:           req.ReferralCode,
	}
	if conv != nil {
		s.ReferrerID = &conv.ReferrerID
		s.CommissionAmount = conv.Commission
	}
	if err := e.repo.Create(ctx, s, sponsorshipEvent(s, event, fee)); err != nil {
		logger.Error().Err(err).Str("authorization_id", authorization.ID).Msg("Failed to store sponsorship, voiding authorization")
		if voidErr := e.gateway.Void(ctx, authorization.ID, "void:"+id.String()); voidErr != nil {
			logger.Error().Err(voidErr).Str("authorization_id", authorization.ID).Msg("Failed to void orphaned authorization")
		}
		e.releaseSpot(ctx, &logger, tier.ID)
		return uuid.Nil, err
	}

	if err := e.creditCommission(ctx, s); err != nil {
		// capture credits it again under the same key
		logger.Error().Err(err).Str("sponsorship_id", id.String()).Msg("Failed to credit referral commission")
	}

	logger.Info().Str("sponsorship_id", id.String()).Int64("amount", tier.Price).Msg("Sponsorship pledged")
	return id, nil
}

// creditCommission pays the referrer stored on s. The ledger key is per sponsorship, so repeating
// it is harmless, and once a release has voided the key a late credit changes nothing.
func (e *Engine) creditCommission(ctx context.Context, s *model.Sponsorship) error {
	if s.ReferrerID == nil || s.CommissionAmount <= 0 {
		return nil
	}
	var code string
	if s.ReferralCode != nil {
		code = *s.ReferralCode
	}
	_, err := e.referrals.CreditConversion(ctx, s.ID.String(), &referral.Conversion{
		Code:       code,
		EventID:    s.EventID,
		ReferrerID: *s.ReferrerID,
		Commission: s.CommissionAmount,
	})
	return err
}

func (e *Engine) releaseSpot(ctx context.Context, logger *zerolog.Logger, tierID uuid.UUID) {
	if err := e.repo.ReleaseSpot(context.WithoutCancel(ctx), tierID); err != nil {
		logger.Error().Err(err).Msg("Failed to release reserved spot")
	}
}

func (e *Engine) lock(ctx context.Context, id uuid.UUID) (*redis.Lock, error) {
	lock, err := e.locks.AcquireLock(ctx, "sponsorship:"+id.String(), e.lockTTL)
	if errors.Is(err, redis.ErrLockHeld) {
		return nil, apperror.Conflict("sponsorship %s is being resolved", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock sponsorship: %w", err)
	}
	return lock, nil
}

// Capture collects a pending authorization and pays the organizer and the platform. Calling it on
// a captured sponsorship re-runs only the idempotent credits.
func (e *Engine) Capture(ctx context.Context, id uuid.UUID) error {
	logger := middleware.GetLogger(ctx).With().Str("sponsorship_id", id.String()).Logger()

	lock, err := e.lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.Status == model.SponsorshipReleased {
		return apperror.InvalidState("sponsorship %s was released", id)
	}

	event, err := e.events.Get(ctx, s.EventID)
	if err != nil {
		return err
	}

	if s.Status == model.SponsorshipCaptured {
		logger.Info().Msg("Sponsorship already captured, reconciling credits")
		if err := e.creditCommission(ctx, s); err != nil {
			return err
		}
		return e.creditCapture(ctx, &logger, s, event)
	}

	if err := e.gateway.Capture(ctx, s.PaymentAuthorizationID, "capture:"+id.String()); err != nil {
		logger.Error().Err(err).Msg("Gateway capture failed")
		return gatewayError(err, "capture failed")
	}

	// the captured event settles the commission, so it must be in pending first
	if err := e.creditCommission(ctx, s); err != nil {
		logger.Error().Err(err).Msg("Failed to credit referral commission before capture")
		return err
	}

	s.Status = model.SponsorshipCaptured
	if _, err := e.repo.MarkCaptured(ctx, id, sponsorshipEvent(s, event, e.platformFee(s.Amount))); err != nil {
		return err
	}

	return e.creditCapture(ctx, &logger, s, event)
}

func (e *Engine) creditCapture(ctx context.Context, logger *zerolog.Logger, s *model.Sponsorship, event *model.Event) error {
	fee := e.platformFee(s.Amount)
	net := s.Amount - fee
	orderID := s.ID.String()

	if net > 0 {
		if _, err := e.wallet.Credit(ctx, wallet.CreditRequest{
			UserID:         event.OrganizerID,
			Amount:         net,
			Type:           model.TypeSale,
			Bucket:         model.BucketAvailable,
			Description:    "Sponsorship captured",
			IdempotencyKey: "sponsorship-capture:" + orderID,
			EventID:        &s.EventID,
			OrderID:        &orderID,
		}); err != nil {
			return err
		}
	}

	if fee > 0 {
		if _, err := e.wallet.Credit(ctx, wallet.CreditRequest{
			UserID:         constants.AccountPlatformID,
			Amount:         fee,
			Type:           model.TypeFee,
			Bucket:         model.BucketAvailable,
			Description:    "Platform fee",
			IdempotencyKey: "sponsorship-fee:" + orderID,
			EventID:        &s.EventID,
			OrderID:        &orderID,
		}); err != nil {
			return err
		}
	}

	logger.Info().Str("organizer_id", event.OrganizerID).Int64("net", net).Int64("fee", fee).Msg("Sponsorship captured")
	return nil
}

// Release voids a pending authorization, frees the tier spot and reverses any pending commission.
// Releasing a released sponsorship is a no-op.
func (e *Engine) Release(ctx context.Context, id uuid.UUID) error {
	return e.release(ctx, id, true)
}

// ApplyAuthorizationCanceled releases the sponsorship whose hold the gateway canceled on its own.
func (e *Engine) ApplyAuthorizationCanceled(ctx context.Context, authorizationID string) error {
	s, err := e.repo.GetByAuthorization(ctx, authorizationID)
	if errors.Is(err, apperror.ErrNotFound) {
		middleware.GetLogger(ctx).Warn().Str("authorization_id", authorizationID).Msg("Cancellation for unknown authorization, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	if s.Status == model.SponsorshipCaptured {
		middleware.GetLogger(ctx).Warn().Str("sponsorship_id", s.ID.String()).Msg("Cancellation received for captured sponsorship, ignoring")
		return nil
	}
	return e.release(ctx, s.ID, false)
}

func (e *Engine) release(ctx context.Context, id uuid.UUID, void bool) error {
	logger := middleware.GetLogger(ctx).With().Str("sponsorship_id", id.String()).Logger()

	lock, err := e.lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	switch s.Status {
	case model.SponsorshipCaptured:
		return apperror.InvalidState("sponsorship %s was captured", id)
	case model.SponsorshipReleased:
		return e.reverseCommission(ctx, &logger, s)
	}

	if void {
		if err := e.gateway.Void(ctx, s.PaymentAuthorizationID, "void:"+id.String()); err != nil {
			logger.Error().Err(err).Msg("Gateway void failed")
			return gatewayError(err, "void failed")
		}
	}

	event, err := e.events.Get(ctx, s.EventID)
	if err != nil {
		return err
	}

	s.Status = model.SponsorshipReleased
	if _, err := e.repo.MarkReleased(ctx, s, sponsorshipEvent(s, event, 0)); err != nil {
		return err
	}

	logger.Info().Msg("Sponsorship released")
	return e.reverseCommission(ctx, &logger, s)
}

// reverseCommission undoes the commission of a released sponsorship. Voiding the conversion key
// first settles a race with a credit still in flight: either the void wins and the credit becomes
// a no-op, or the credit is already there and is reversed.
func (e *Engine) reverseCommission(ctx context.Context, logger *zerolog.Logger, s *model.Sponsorship) error {
	if s.ReferrerID == nil || s.CommissionAmount <= 0 {
		return nil
	}

	var code string
	if s.ReferralCode != nil {
		code = *s.ReferralCode
	}
	req := wallet.PendingRequest{
		UserID:         *s.ReferrerID,
		Amount:         s.CommissionAmount,
		ReferralID:     code,
		IdempotencyKey: referral.ConversionKey(s.ID.String()),
	}

	void, err := e.wallet.VoidCommission(ctx, req)
	if err != nil {
		logger.Error().Err(err).Str("referrer_id", *s.ReferrerID).Msg("Failed to void referral commission")
		return err
	}
	if !void.Duplicate {
		logger.Info().Str("referrer_id", *s.ReferrerID).Msg("Referral commission voided before credit")
		return nil
	}
	if void.Status != model.StatusCompleted {
		return nil
	}

	req.IdempotencyKey = "commission-reverse:" + s.ID.String()
	if _, err := e.wallet.ReversePending(ctx, req); err != nil {
		logger.Error().Err(err).Str("referrer_id", *s.ReferrerID).Msg("Failed to reverse referral commission")
		return err
	}
	return nil
}

func sponsorshipEvent(s *model.Sponsorship, event *model.Event, fee int64) types.SponsorshipEvent {
	evt := types.SponsorshipEvent{
		SponsorshipID:    s.ID.String(),
		EventID:          s.EventID,
		TierID:           s.TierID.String(),
		UserID:           s.UserID,
		OrganizerID:      event.OrganizerID,
		Amount:           s.Amount,
		PlatformFee:      fee,
		CommissionAmount: s.CommissionAmount,
		Status:           string(s.Status),
	}
	if fee > 0 {
		evt.NetAmount = s.Amount - fee
	}
	if s.ReferrerID != nil {
		evt.ReferrerID = *s.ReferrerID
	}
	if s.ReferralCode != nil {
		evt.ReferralCode = *s.ReferralCode
	}
	return evt
}
