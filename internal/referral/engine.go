// Package referral issues referral links, counts clicks and conversions, and credits referrers with
// commission on the sponsorships they bring in.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/money"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/internal/wallet"
)

const (
	codeLength     = 10
	maxCodeRetries = 3
)

type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

type EventReader interface {
	Get(ctx context.Context, id string) (*model.Event, error)
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
}

type Crediter interface {
	Credit(ctx context.Context, req wallet.CreditRequest) (*ledger.Result, error)
}

type ConversionRequest struct {
	Code          string
	EventID       string
	SponsorshipID string
	SponsorID     string
	TierPrice     int64
}

type Conversion struct {
	Code       string
	EventID    string
	ReferrerID string
	Commission int64
	Percentage int64
}

type Stats struct {
	TotalReferrals  int64   `json:"totalReferrals"`
	ClickCount      int64   `json:"clickCount"`
	ConversionCount int64   `json:"conversionCount"`
	TotalEarnings   int64   `json:"totalEarnings"`
	ConversionRate  float64 `json:"conversionRate"`
	Period          Period  `json:"period"`
}

type Engine struct {
	repo    Repository
	events  EventReader
	limiter RateLimiter
	wallet  Crediter
	cfg     config.ReferralConfig
	now     func() time.Time
	newCode func() string
}

func NewEngine(repo Repository, events EventReader, limiter RateLimiter, w Crediter, cfg config.ReferralConfig) *Engine {
	return &Engine{
		repo:    repo,
		events:  events,
		limiter: limiter,
		wallet:  w,
		cfg:     cfg,
		now:     time.Now,
		newCode: randomCode,
	}
}

func randomCode() string {
	return strings.ToLower(rand.Text()[:codeLength])
}

func (e *Engine) url(code string) string {
	return e.cfg.BaseURL + code
}

// GenerateLink returns the user's link for an event, creating it on first use. Every call counts
// against the per-user rate limit, including calls that return an existing link.
func (e *Engine) GenerateLink(ctx context.Context, userID, eventID string) (string, error) {
	logger := middleware.GetLogger(ctx)

	res, err := e.limiter.CheckRateLimit(ctx, "referral-link:"+userID, e.cfg.LinkLimit, e.cfg.LinkWindow)
	if err != nil {
		return "", err
	}
	if !res.Allowed {
		return "", apperror.RateLimited("too many referral links requested, try again after %s", res.ResetAt.UTC().Format(time.RFC3339))
	}

	existing, err := e.repo.GetByUserEvent(ctx, userID, eventID)
	if err == nil {
		return e.url(existing.Code), nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return "", err
	}

	if _, err := e.events.Get(ctx, eventID); err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		link := &model.ReferralLink{Code: e.newCode(), UserID: userID, EventID: eventID}
		inserted, err := e.repo.Insert(ctx, link)
		if err != nil {
			return "", err
		}
		if inserted {
			logger.Info().Str("user_id", userID).Str("event_id", eventID).Str("code", link.Code).Msg("Referral link created")
			return e.url(link.Code), nil
		}

		// either a concurrent request created the pair or the code collided
		existing, err := e.repo.GetByUserEvent(ctx, userID, eventID)
		if err == nil {
			return e.url(existing.Code), nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return "", err
		}
	}

	return "", apperror.Conflict("could not allocate a referral code")
}

func (e *Engine) TrackClick(ctx context.Context, code string) error {
	if code == "" {
		return apperror.Validation("code is required")
	}
	return e.repo.IncrementClicks(ctx, code)
}

// ConversionKey is the ledger idempotency key of the commission paid on a sponsorship.
func ConversionKey(sponsorshipID string) string {
	return "referral-conversion:" + sponsorshipID
}

// RecordConversion credits the referrer behind code with commission on a sponsorship. Unknown
// codes, codes for another event and self-referrals are ignored and return nil.
func (e *Engine) RecordConversion(ctx context.Context, req ConversionRequest) (*Conversion, error) {
	conv, err := e.ResolveConversion(ctx, req)
	if err != nil || conv == nil {
		return nil, err
	}
	if _, err := e.CreditConversion(ctx, req.SponsorshipID, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ResolveConversion works out who earns commission on a sponsorship and how much, without writing
// anything. It returns nil when no commission is owed.
func (e *Engine) ResolveConversion(ctx context.Context, req ConversionRequest) (*Conversion, error) {
	logger := middleware.GetLogger(ctx).With().Str("code", req.Code).Str("sponsorship_id", req.SponsorshipID).Logger()

	if req.Code == "" {
		return nil, nil
	}

	link, err := e.repo.GetByCode(ctx, req.Code)
	if errors.Is(err, apperror.ErrNotFound) {
		logger.Info().Msg("Unknown referral code, skipping commission")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if link.EventID != req.EventID {
		logger.Warn().Str("link_event_id", link.EventID).Msg("Referral code belongs to another event, skipping commission")
		return nil, nil
	}
	if link.UserID == req.SponsorID {
		logger.Info().Msg("Self referral, skipping commission")
		return nil, nil
	}

	event, err := e.events.Get(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	pct := money.Clamp(event.ReferralPercentage, e.cfg.MinPercentage, e.cfg.MaxPercentage)
	commission := money.Percent(req.TierPrice, pct)
	if commission <= 0 {
		return nil, nil
	}
	return &Conversion{Code: link.Code, EventID: req.EventID, ReferrerID: link.UserID, Commission: commission, Percentage: pct}, nil
}

// CreditConversion adds the commission to the referrer's pending balance. The link's conversion
// count and earnings move in the same ledger transaction, so a redelivered conversion either
// finds both applied or neither.
func (e *Engine) CreditConversion(ctx context.Context, sponsorshipID string, conv *Conversion) (*ledger.Result, error) {
	res, err := e.wallet.Credit(ctx, wallet.CreditRequest{
		UserID:         conv.ReferrerID,
		Amount:         conv.Commission,
		Type:           model.TypeReferral,
		Bucket:         model.BucketPending,
		Description:    "Referral commission",
		IdempotencyKey: ConversionKey(sponsorshipID),
		EventID:        &conv.EventID,
		ReferralID:     &conv.Code,
	})
	if err != nil {
		return nil, err
	}

	middleware.GetLogger(ctx).Info().
		Str("code", conv.Code).
		Str("sponsorship_id", sponsorshipID).
		Str("referrer_id", conv.ReferrerID).
		Int64("commission", conv.Commission).
		Int64("percentage", conv.Percentage).
		Bool("duplicate", res.Duplicate).
		Msg("Referral conversion recorded")
	return res, nil
}

func (e *Engine) periodStart(p Period) (time.Time, error) {
	now := e.now()
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return now.AddDate(0, -1, 0), nil
	case PeriodYear:
		return now.AddDate(-1, 0, 0), nil
	case PeriodAll, "":
		return time.Unix(0, 0).UTC(), nil
	default:
		return time.Time{}, apperror.Validation("unknown period %q", p)
	}
}

func (e *Engine) GetStats(ctx context.Context, userID string, period Period) (*Stats, error) {
	since, err := e.periodStart(period)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = PeriodAll
	}

	totals, err := e.repo.Stats(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalReferrals:  totals.Links,
		ClickCount:      totals.Clicks,
		ConversionCount: totals.Conversions,
		TotalEarnings:   totals.Earnings,
		ConversionRate:  money.Ratio(totals.Conversions, totals.Clicks),
		Period:          period,
	}, nil
}
