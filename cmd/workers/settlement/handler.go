package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/wallet"
	"github.com/Niiaks/Patron/pkg/types"
)

type settler interface {
	SettlePending(ctx context.Context, req wallet.PendingRequest) (*ledger.Result, error)
}

// settlementHandler moves a captured sponsorship's referral commission from pending to available.
func settlementHandler(w settler, log *zerolog.Logger) kafka.Handler {
	return func(ctx context.Context, msg *kafka.Message) error {
		l := log.With().Str("topic", msg.Topic).Int64("offset", msg.Offset).Logger()
		if id := msg.Headers["correlation_id"]; id != "" {
			l = l.With().Str("request_id", id).Logger()
			ctx = middleware.WithRequestID(ctx, id)
		}
		ctx = middleware.WithLogger(ctx, &l)

		var event types.SponsorshipEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			l.Error().Err(err).Msg("Failed to unmarshal sponsorship event, skipping")
			return nil
		}

		if event.ReferrerID == "" || event.CommissionAmount <= 0 {
			l.Debug().Str("sponsorship_id", event.SponsorshipID).Msg("No commission to settle")
			return nil
		}

		res, err := w.SettlePending(ctx, wallet.PendingRequest{
			UserID:         event.ReferrerID,
			Amount:         event.CommissionAmount,
			ReferralID:     event.ReferralCode,
			IdempotencyKey: "commission-settle:" + event.SponsorshipID,
		})
		if err != nil {
			l.Error().Err(err).Str("sponsorship_id", event.SponsorshipID).Msg("Failed to settle commission")
			return err
		}

		if res.Duplicate {
			l.Info().Str("sponsorship_id", event.SponsorshipID).Msg("Commission already settled")
			return nil
		}
		l.Info().
			Str("sponsorship_id", event.SponsorshipID).
			Str("referrer_id", event.ReferrerID).
			Int64("amount", event.CommissionAmount).
			Msg("Commission settled")
		return nil
	}
}

type withdrawalResumer interface {
	ResumeWithdrawals(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// resumeWithdrawals settles withdrawal holds whose request ended before the hold did, until ctx is done.
func resumeWithdrawals(ctx context.Context, r withdrawalResumer, log *zerolog.Logger, interval, olderThan time.Duration, batch int) {
	ctx = middleware.WithLogger(ctx, log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ResumeWithdrawals(ctx, olderThan, batch); err != nil {
				log.Error().Err(err).Msg("Failed to resume pending withdrawals")
			}
		}
	}
}
