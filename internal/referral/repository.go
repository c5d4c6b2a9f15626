package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/model"
)

type Repository interface {
	GetByUserEvent(ctx context.Context, userID, eventID string) (*model.ReferralLink, error)
	GetByCode(ctx context.Context, code string) (*model.ReferralLink, error)
	// Insert reports false when the code or the (user, event) pair already exists.
	Insert(ctx context.Context, link *model.ReferralLink) (bool, error)
	IncrementClicks(ctx context.Context, code string) error
	Stats(ctx context.Context, userID string, since time.Time) (*Totals, error)
}

// Totals aggregates the counters of every link a user created since a point in time.
type Totals struct {
	Links       int64
	Clicks      int64
	Conversions int64
	Earnings    int64
}

type ReferralRepo struct {
	db database.Querier
}

func NewRepository(db database.Querier) *ReferralRepo {
	return &ReferralRepo{db: db}
}

const linkColumns = `code, user_id, event_id, click_count, conversion_count, earnings, created_at`

func scanLink(row pgx.Row) (*model.ReferralLink, error) {
	var l model.ReferralLink
	if err := row.Scan(&l.Code, &l.UserID, &l.EventID, &l.ClickCount, &l.ConversionCount, &l.Earnings, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (rr *ReferralRepo) GetByUserEvent(ctx context.Context, userID, eventID string) (*model.ReferralLink, error) {
	l, err := scanLink(rr.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM referral_links WHERE user_id = $1 AND event_id = $2`, userID, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no referral link for user %s on event %s", userID, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral link: %w", err)
	}
	return l, nil
}

func (rr *ReferralRepo) GetByCode(ctx context.Context, code string) (*model.ReferralLink, error) {
	l, err := scanLink(rr.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM referral_links WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("referral code %s not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral link: %w", err)
	}
	return l, nil
}

func (rr *ReferralRepo) Insert(ctx context.Context, link *model.ReferralLink) (bool, error) {
	err := rr.db.QueryRow(ctx, `
		INSERT INTO referral_links (code, user_id, event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`, link.Code, link.UserID, link.EventID).Scan(&link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert referral link: %w", err)
	}
	return true, nil
}

func (rr *ReferralRepo) IncrementClicks(ctx context.Context, code string) error {
	tag, err := rr.db.Exec(ctx, `UPDATE referral_links SET click_count = click_count + 1 WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to track click: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("referral code %s not found", code)
	}
	return nil
}

func (rr *ReferralRepo) Stats(ctx context.Context, userID string, since time.Time) (*Totals, error) {
	var t Totals
	err := rr.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(click_count), 0), COALESCE(SUM(conversion_count), 0), COALESCE(SUM(earnings), 0)
		FROM referral_links
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&t.Links, &t.Clicks, &t.Conversions, &t.Earnings)
	if err != nil {
		return nil, fmt.Errorf("failed to load referral stats: %w", err)
	}
	return &t, nil
}
