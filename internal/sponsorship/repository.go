package sponsorship

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

type Repository interface {
	GetTier(ctx context.Context, tierID uuid.UUID) (*model.SponsorshipTier, error)
	// ReserveSpot takes one spot on the tier, or fails with SoldOut.
	ReserveSpot(ctx context.Context, tierID uuid.UUID) error
	ReleaseSpot(ctx context.Context, tierID uuid.UUID) error
	// Create stores a pending sponsorship with its referral outcome and publishes the pledge.
	Create(ctx context.Context, s *model.Sponsorship, evt types.SponsorshipEvent) error
	Get(ctx context.Context, id uuid.UUID) (*model.Sponsorship, error)
	GetByAuthorization(ctx context.Context, authorizationID string) (*model.Sponsorship, error)
	ListPending(ctx context.Context, eventID string, limit int) ([]model.Sponsorship, error)
	// MarkCaptured moves a pending sponsorship to captured. It reports false when the row was not pending.
	MarkCaptured(ctx context.Context, id uuid.UUID, evt types.SponsorshipEvent) (bool, error)
	// MarkReleased moves a pending sponsorship to released and frees its spot in the same transaction.
	MarkReleased(ctx context.Context, s *model.Sponsorship, evt types.SponsorshipEvent) (bool, error)
}

type SponsorshipRepo struct {
	db database.Querier
}

func NewRepository(db database.Querier) *SponsorshipRepo {
	return &SponsorshipRepo{db: db}
}

func (sr *SponsorshipRepo) GetTier(ctx context.Context, tierID uuid.UUID) (*model.SponsorshipTier, error) {
	var t model.SponsorshipTier
	err := sr.db.QueryRow(ctx, `
		SELECT id, event_id, name, price, limited_spots, spots_taken
		FROM sponsorship_tiers
		WHERE id = $1
	`, tierID).Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.LimitedSpots, &t.SpotsTaken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("sponsorship tier %s not found", tierID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}
	return &t, nil
}

func (sr *SponsorshipRepo) ReserveSpot(ctx context.Context, tierID uuid.UUID) error {
	tag, err := sr.db.Exec(ctx, `
		UPDATE sponsorship_tiers
		SET spots_taken = spots_taken + 1
		WHERE id = $1 AND (limited_spots IS NULL OR spots_taken < limited_spots)
	`, tierID)
	if err != nil {
		return fmt.Errorf("failed to reserve spot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.SoldOut(tierID.String())
	}
	return nil
}

func (sr *SponsorshipRepo) ReleaseSpot(ctx context.Context, tierID uuid.UUID) error {
	_, err := sr.db.Exec(ctx, `
		UPDATE sponsorship_tiers
		SET spots_taken = spots_taken - 1
		WHERE id = $1 AND spots_taken > 0
	`, tierID)
	if err != nil {
		return fmt.Errorf("failed to release spot: %w", err)
	}
	return nil
}

func (sr *SponsorshipRepo) Create(ctx context.Context, s *model.Sponsorship, evt types.SponsorshipEvent) error {
	return database.WithTx(ctx, sr.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO sponsorships (
				id, event_id, tier_id, user_id, amount, payment_authorization_id, status,
				referral_code, referrer_id, commission_amount
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`, s.ID, s.EventID, s.TierID, s.UserID, s.Amount, s.PaymentAuthorizationID, string(s.Status),
			s.ReferralCode, s.ReferrerID, s.CommissionAmount,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert sponsorship: %w", err)
		}
		return outbox.Enqueue(ctx, tx, kafka.EventSponsorshipPledged, s.EventID, evt)
	})
}

const sponsorshipColumns = `id, event_id, tier_id, user_id, amount, payment_authorization_id, status,
	referral_code, referrer_id, commission_amount, created_at, updated_at`

func scanSponsorship(row pgx.Row) (*model.Sponsorship, error) {
	var s model.Sponsorship
	err := row.Scan(&s.ID, &s.EventID, &s.TierID, &s.UserID, &s.Amount, &s.PaymentAuthorizationID, &s.Status,
		&s.ReferralCode, &s.ReferrerID, &s.CommissionAmount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (sr *SponsorshipRepo) Get(ctx context.Context, id uuid.UUID) (*model.Sponsorship, error) {
	s, err := scanSponsorship(sr.db.QueryRow(ctx, `SELECT `+sponsorshipColumns+` FROM sponsorships WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("sponsorship %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sponsorship: %w", err)
	}
	return s, nil
}

func (sr *SponsorshipRepo) GetByAuthorization(ctx context.Context, authorizationID string) (*model.Sponsorship, error) {
	s, err := scanSponsorship(sr.db.QueryRow(ctx, `SELECT `+sponsorshipColumns+` FROM sponsorships WHERE payment_authorization_id = $1`, authorizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("no sponsorship for authorization %s", authorizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sponsorship: %w", err)
	}
	return s, nil
}

func (sr *SponsorshipRepo) ListPending(ctx context.Context, eventID string, limit int) ([]model.Sponsorship, error) {
	rows, err := sr.db.Query(ctx, `
		SELECT `+sponsorshipColumns+`
		FROM sponsorships
		WHERE event_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sponsorships: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Sponsorship, error) {
		s, err := scanSponsorship(row)
		if err != nil {
			return model.Sponsorship{}, err
		}
		return *s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sponsorships: %w", err)
	}
	return out, nil
}

func (sr *SponsorshipRepo) MarkCaptured(ctx context.Context, id uuid.UUID, evt types.SponsorshipEvent) (bool, error) {
	var moved bool
	err := database.WithTx(ctx, sr.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sponsorships SET status = 'captured', updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, id)
		if err != nil {
			return fmt.Errorf("failed to mark sponsorship captured: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		moved = true
		return outbox.Enqueue(ctx, tx, kafka.EventSponsorshipCaptured, evt.EventID, evt)
	})
	return moved, err
}

func (sr *SponsorshipRepo) MarkReleased(ctx context.Context, s *model.Sponsorship, evt types.SponsorshipEvent) (bool, error) {
	var moved bool
	err := database.WithTx(ctx, sr.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sponsorships SET status = 'released', updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, s.ID)
		if err != nil {
			return fmt.Errorf("failed to mark sponsorship released: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		moved = true

		if _, err := tx.Exec(ctx, `
			UPDATE sponsorship_tiers SET spots_taken = spots_taken - 1
			WHERE id = $1 AND spots_taken > 0
		`, s.TierID); err != nil {
			return fmt.Errorf("failed to free tier spot: %w", err)
		}
		return outbox.Enqueue(ctx, tx, kafka.EventSponsorshipReleased, evt.EventID, evt)
	})
	return moved, err
}
