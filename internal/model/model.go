package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Model struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransactionType string

const (
	TypeCredit     TransactionType = "credit"
	TypeDebit      TransactionType = "debit"
	TypeReferral   TransactionType = "referral"
	TypePayout     TransactionType = "payout"
	TypeSale       TransactionType = "sale"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeFee        TransactionType = "fee"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeReferral, TypePayout, TypeSale, TypeWithdrawal, TypeFee:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCanceled  TransactionStatus = "canceled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Bucket names the wallet balance field an entry moves.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketCredits   Bucket = "credits"
)

func (b Bucket) Valid() bool {
	return b == BucketAvailable || b == BucketPending || b == BucketCredits
}

type Wallet struct {
	UserID           string  `json:"user_id"`
	AvailableBalance int64   `json:"available_balance"`
	PendingBalance   int64   `json:"pending_balance"`
	PlatformCredits  int64   `json:"platform_credits"`
	TotalEarnings    int64   `json:"total_earnings"`
	PayoutAccountID  *string `json:"payout_account_id,omitempty"`
	HasPayoutMethod  bool    `json:"has_payout_method"`
	Model
}

// Transaction is an immutable ledger entry. Amount is always positive; Direction gives the sign.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	IdempotencyKey  string            `json:"idempotency_key" validate:"required"`
	UserID          string            `json:"user_id" validate:"required"`
	Amount          int64             `json:"amount" validate:"gt=0"`
	Direction       Direction         `json:"direction" validate:"oneof=credit debit"`
	Bucket          Bucket            `json:"bucket" validate:"oneof=available pending credits"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	Description     string            `json:"description"`
	EventID         *string           `json:"event_id,omitempty"`
	ReferralID      *string           `json:"referral_id,omitempty"`
	OrderID         *string           `json:"order_id,omitempty"`
	PaymentMethodID *string           `json:"payment_method_id,omitempty"`
	ExternalRef     *string           `json:"external_ref,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Effect is the signed change this entry applies to its bucket.
func (t *Transaction) Effect() int64 {
	if t.Direction == DirectionDebit {
		return -t.Amount
	}
	return t.Amount
}

// Moves reports whether the entry is reflected in its bucket. A pending debit holds funds until it
// is completed or canceled; other pending entries have no effect yet.
func (t *Transaction) Moves() bool {
	return t.Status == StatusCompleted || (t.Status == StatusPending && t.Direction == DirectionDebit)
}

// Balances are wallet buckets derived from the ledger.
type Balances struct {
	UserID           string `json:"user_id"`
	AvailableBalance int64  `json:"available_balance"`
	PendingBalance   int64  `json:"pending_balance"`
	PlatformCredits  int64  `json:"platform_credits"`
}

type Drift struct {
	UserID    string   `json:"user_id"`
	Stored    Balances `json:"stored"`
	Derived   Balances `json:"derived"`
	Balanced  bool     `json:"balanced"`
	Available int64    `json:"available_drift"`
	Pending   int64    `json:"pending_drift"`
	Credits   int64    `json:"credits_drift"`
}

type Event struct {
	ID                 string     `json:"id"`
	OrganizerID        string     `json:"organizer_id"`
	PreSaleGoal        int64      `json:"pre_sale_goal"`
	TicketsSold        int64      `json:"tickets_sold"`
	ReferralPercentage int64      `json:"referral_percentage"`
	ResolutionDeadline *time.Time `json:"resolution_deadline,omitempty"`
	Canceled           bool       `json:"canceled"`
}

// GoalReached reports whether ticket sales met the pre-sale goal.
func (e *Event) GoalReached() bool {
	return e.TicketsSold >= e.PreSaleGoal
}

type SponsorshipTier struct {
	ID           uuid.UUID `json:"id"`
	EventID      string    `json:"event_id"`
	Name         string    `json:"name"`
	Price        int64     `json:"price"`
	LimitedSpots *int      `json:"limited_spots,omitempty"`
	SpotsTaken   int       `json:"spots_taken"`
}

type SponsorshipStatus string

const (
	SponsorshipPending  SponsorshipStatus = "pending"
	SponsorshipCaptured SponsorshipStatus = "captured"
	SponsorshipReleased SponsorshipStatus = "released"
)

type Sponsorship struct {
	ID                     uuid.UUID         `json:"id"`
	EventID                string            `json:"event_id"`
	TierID                 uuid.UUID         `json:"tier_id"`
	UserID                 string            `json:"user_id"`
	Amount                 int64             `json:"amount"`
	PaymentAuthorizationID string            `json:"payment_authorization_id"`
	Status                 SponsorshipStatus `json:"status"`
	ReferralCode           *string           `json:"referral_code,omitempty"`
	ReferrerID             *string           `json:"referrer_id,omitempty"`
	CommissionAmount       int64             `json:"commission_amount"`
	Model
}

type ReferralLink struct {
	Code            string    `json:"code"`
	UserID          string    `json:"user_id"`
	EventID         string    `json:"event_id"`
	ClickCount      int64     `json:"click_count"`
	ConversionCount int64     `json:"conversion_count"`
	Earnings        int64     `json:"earnings"`
	CreatedAt       time.Time `json:"created_at"`
}

type TransactionOutbox struct {
	ID            int64           `json:"id" validate:"required"`
	EventType     string          `json:"event_type" validate:"required"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	PartitionKey  string          `json:"partition_key" validate:"required"`
	Status        string          `json:"status" validate:"required,oneof=pending processed failed"`
	CorrelationID string          `json:"correlation_id"`
	RetryCount    int             `json:"retry_count" validate:"gte=0"`
	LastError     string          `json:"last_error,omitempty"`
	Model
}
