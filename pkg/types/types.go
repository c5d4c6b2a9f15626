package types

// SponsorshipEvent is published on the outbox for every sponsorship lifecycle change.
type SponsorshipEvent struct {
	SponsorshipID    string `json:"sponsorship_id"`
	EventID          string `json:"event_id"`
	TierID           string `json:"tier_id"`
	UserID           string `json:"user_id"`
	OrganizerID      string `json:"organizer_id,omitempty"`
	Amount           int64  `json:"amount"`
	NetAmount        int64  `json:"net_amount,omitempty"`
	PlatformFee      int64  `json:"platform_fee,omitempty"`
	ReferrerID       string `json:"referrer_id,omitempty"`
	ReferralCode     string `json:"referral_code,omitempty"`
	CommissionAmount int64  `json:"commission_amount,omitempty"`
	Status           string `json:"status"`
}

// LedgerPostedEvent is emitted by the ledger once a posting commits.
type LedgerPostedEvent struct {
	UserID         string   `json:"user_id"`
	TransactionIDs []string `json:"transaction_ids"`
	Type           string   `json:"type"`
	Amount         int64    `json:"amount"`
	IdempotencyKey string   `json:"idempotency_key"`
}

// CaptureJob asks the capture consumer to resolve one pending sponsorship.
type CaptureJob struct {
	SponsorshipID string `json:"sponsorship_id" validate:"required,uuid"`
	Action        string `json:"action" validate:"required,oneof=capture release"`
	Reason        string `json:"reason,omitempty"`
}

const (
	CaptureActionCapture = "capture"
	CaptureActionRelease = "release"
)
