package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/pkg/types"
)

const (
	StatusProcessed = "processed"
	StatusError     = "error"
)

type AccountApplier interface {
	ApplyAccountUpdated(ctx context.Context, account types.Account) error
	ApplyTransferReversed(ctx context.Context, eventID string, transfer types.Transfer) error
}

type AuthorizationApplier interface {
	ApplyAuthorizationCanceled(ctx context.Context, authorizationID string) error
}

// Processor applies stored webhook events to wallets and sponsorships. Each applier is
// idempotent, so redelivered events are safe.
type Processor struct {
	store        Store
	wallets      AccountApplier
	sponsorships AuthorizationApplier
}

func NewProcessor(store Store, wallets AccountApplier, sponsorships AuthorizationApplier) *Processor {
	return &Processor{store: store, wallets: wallets, sponsorships: sponsorships}
}

// Process decodes one queued event and dispatches it. A returned error means the event should be retried.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	logger := middleware.GetLogger(ctx)

	var event types.StripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// not retryable, nothing to mark either
		logger.Error().Err(err).Msg("Failed to decode queued webhook, dropping")
		return nil
	}

	l := logger.With().Str("event_id", event.ID).Str("type", event.Type).Logger()
	ctx = middleware.WithLogger(ctx, &l)

	if err := p.dispatch(ctx, &event); err != nil {
		if markErr := p.store.MarkStatus(ctx, event.ID, StatusError); markErr != nil {
			l.Error().Err(markErr).Msg("Failed to mark webhook as errored")
		}
		return err
	}

	if err := p.store.MarkStatus(ctx, event.ID, StatusProcessed); err != nil {
		l.Error().Err(err).Msg("Webhook applied but status not updated")
	}
	l.Info().Msg("Webhook processed")
	return nil
}

func (p *Processor) dispatch(ctx context.Context, event *types.StripeEvent) error {
	switch event.Type {
	case types.StripeEventAccountUpdated:
		var account types.Account
		if err := json.Unmarshal(event.Data.Object, &account); err != nil {
			return fmt.Errorf("failed to decode account: %w", err)
		}
		return p.wallets.ApplyAccountUpdated(ctx, account)

	case types.StripeEventPaymentIntentCanceled:
		var intent types.PaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return fmt.Errorf("failed to decode payment intent: %w", err)
		}
		return p.sponsorships.ApplyAuthorizationCanceled(ctx, intent.ID)

	case types.StripeEventTransferReversed:
		var transfer types.Transfer
		if err := json.Unmarshal(event.Data.Object, &transfer); err != nil {
			return fmt.Errorf("failed to decode transfer: %w", err)
		}
		return p.wallets.ApplyTransferReversed(ctx, event.ID, transfer)

	default:
		middleware.GetLogger(ctx).Debug().Msg("No applier for webhook type")
		return nil
	}
}
