package types

import "encoding/json"

// StripeEvent is the envelope Stripe posts to webhook endpoints.
type StripeEvent struct {
	ID       string          `json:"id" validate:"required"`
	Type     string          `json:"type" validate:"required"`
	Created  int64           `json:"created"`
	Account  string          `json:"account,omitempty"`
	Livemode bool            `json:"livemode"`
	Data     StripeEventData `json:"data"`
}

type StripeEventData struct {
	Object json.RawMessage `json:"object"`
}

const (
	StripeEventAccountUpdated        = "account.updated"
	StripeEventPaymentIntentCanceled = "payment_intent.canceled"
	StripeEventTransferReversed      = "transfer.reversed"
)

type PaymentIntent struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	CaptureMethod string            `json:"capture_method"`
	Metadata      map[string]string `json:"metadata"`
}

type Transfer struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Amount         int64             `json:"amount"`
	AmountReversed int64             `json:"amount_reversed"`
	Currency       string            `json:"currency"`
	Destination    string            `json:"destination"`
	Reversed       bool              `json:"reversed"`
	Metadata       map[string]string `json:"metadata"`
}

type Account struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Type             string            `json:"type"`
	ChargesEnabled   bool              `json:"charges_enabled"`
	PayoutsEnabled   bool              `json:"payouts_enabled"`
	DetailsSubmitted bool              `json:"details_submitted"`
	Metadata         map[string]string `json:"metadata"`
}

type AccountLink struct {
	Object    string `json:"object"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// StripeErrorResponse is the body Stripe returns with 4xx/5xx statuses.
type StripeErrorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code,omitempty"`
		Message     string `json:"message"`
	} `json:"error"`
}
