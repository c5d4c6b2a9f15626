// Package gateway is the payout/payment provider adapter. Every mutating call carries an
// idempotency key that is reused across retries, so a retried transfer can never pay out twice.
package gateway

import "context"

type Gateway interface {
	// Authorize places a manual-capture hold on the sponsor's payment method.
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	Capture(ctx context.Context, authorizationID, idempotencyKey string) error
	Void(ctx context.Context, authorizationID, idempotencyKey string) error
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	CreateAccount(ctx context.Context, userID, idempotencyKey string) (string, error)
	CreateAccountLink(ctx context.Context, accountID string) (string, error)
}

type AuthorizeRequest struct {
	Amount             int64
	PaymentMethodID    string
	DestinationAccount string
	PlatformFee        int64
	EventID            string
	TierID             string
	SponsorID          string
	IdempotencyKey     string
}

type Authorization struct {
	ID     string
	Status string
}

type TransferRequest struct {
	Amount         int64
	Destination    string
	UserID         string
	IdempotencyKey string
}

type TransferResult struct {
	ID     string
	Amount int64
}
