package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/pkg/types"
)

const (
	SignatureHeaderName = "Stripe-Signature"
	DefaultTolerance    = 5 * time.Minute
	maxPayloadBytes     = 64 << 10
)

// handled lists the event types workers act on. Anything else is acknowledged and dropped.
var handled = map[string]bool{
	types.StripeEventAccountUpdated:        true,
	types.StripeEventPaymentIntentCanceled: true,
	types.StripeEventTransferReversed:      true,
}

type WebhookHandler struct {
	secret    string
	tolerance time.Duration
	store     Store
	now       func() time.Time
}

func NewWebhookHandler(secret string, store Store) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		tolerance: DefaultTolerance,
		store:     store,
		now:       time.Now,
	}
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	header := r.Header.Get(SignatureHeaderName)
	if header == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read request body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := VerifySignature(body, header, h.secret, h.tolerance, h.now()); err != nil {
		logger.Warn().Err(err).Msg("Rejected webhook")
		if errors.Is(err, ErrMalformedSignature) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event types.StripeEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" || event.Type == "" {
		logger.Warn().Msg("Webhook body is not a valid event")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !handled[event.Type] {
		logger.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("Ignoring webhook type")
		w.WriteHeader(http.StatusOK)
		return
	}

	inserted, err := h.store.Record(ctx, &event, body)
	if err != nil {
		// non-2xx makes the gateway redeliver
		logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to store webhook")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !inserted {
		logger.Info().Str("event_id", event.ID).Msg("Duplicate webhook delivery")
	} else {
		logger.Info().Str("event_id", event.ID).Str("type", event.Type).Msg("Webhook queued")
	}
	w.WriteHeader(http.StatusOK)
}
