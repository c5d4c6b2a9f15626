// Command mock-stripe serves the subset of the Stripe API the gateway client calls, for local runs
// and load tests. POST /_mock/webhooks forwards a signed event to the API's webhook endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/webhook"
	"github.com/Niiaks/Patron/pkg/types"
)

const declinedPaymentMethod = "pm_card_chargeDeclined"

var seq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s_mock_%d", prefix, seq.Add(1))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	port := ":8081"
	apiWebhookURL := os.Getenv("PATRON_WEBHOOK_URL")
	if apiWebhookURL == "" {
		apiWebhookURL = "http://localhost:8080/webhooks/stripe"
	}
	secret := os.Getenv("PATRON_STRIPE_WEBHOOK_SECRET")

	r := chi.NewRouter()

	r.Post("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("payment_method") == declinedPaymentMethod {
			var body types.StripeErrorResponse
			body.Error.Type = "card_error"
			body.Error.Code = "card_declined"
			body.Error.DeclineCode = "generic_decline"
			body.Error.Message = "Your card was declined."
			writeJSON(w, http.StatusPaymentRequired, body)
			return
		}

		intent := types.PaymentIntent{
			ID:            nextID("pi"),
			Object:        "payment_intent",
			Currency:      r.PostForm.Get("currency"),
			Status:        "requires_capture",
			CaptureMethod: "manual",
		}
		fmt.Sscan(r.PostForm.Get("amount"), &intent.Amount)
		log.Info().Str("id", intent.ID).Int64("amount", intent.Amount).Msg("Authorized payment intent")
		writeJSON(w, http.StatusOK, intent)
	})

	r.Post("/v1/payment_intents/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log.Info().Str("id", id).Msg("Captured payment intent")
		writeJSON(w, http.StatusOK, types.PaymentIntent{ID: id, Object: "payment_intent", Status: "succeeded"})
	})

	r.Post("/v1/payment_intents/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log.Info().Str("id", id).Msg("Canceled payment intent")
		writeJSON(w, http.StatusOK, types.PaymentIntent{ID: id, Object: "payment_intent", Status: "canceled"})
	})

	r.Post("/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		transfer := types.Transfer{ID: nextID("tr"), Object: "transfer", Destination: r.PostForm.Get("destination")}
		fmt.Sscan(r.PostForm.Get("amount"), &transfer.Amount)
		log.Info().Str("id", transfer.ID).Int64("amount", transfer.Amount).Msg("Created transfer")
		writeJSON(w, http.StatusOK, transfer)
	})

	r.Post("/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.Account{ID: nextID("acct"), Object: "account", Type: "express"})
	})

	r.Post("/v1/account_links", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.AccountLink{
			Object:    "account_link",
			URL:       "https://connect.stripe.com/setup/mock/" + nextID("link"),
			ExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
		})
	})

	// body: {"type": "...", "object": {...}}
	r.Post("/_mock/webhooks", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Type   string          `json:"type"`
			Object json.RawMessage `json:"object"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		event := types.StripeEvent{ID: nextID("evt"), Type: in.Type, Created: time.Now().Unix(), Data: types.StripeEventData{Object: in.Object}}
		payload, err := json.Marshal(event)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, apiWebhookURL, bytes.NewReader(payload))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(webhook.SignatureHeaderName, webhook.SignatureHeader(payload, secret, time.Now()))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		log.Info().Str("event_id", event.ID).Str("type", event.Type).Int("status", resp.StatusCode).Msg("Delivered webhook")
		writeJSON(w, http.StatusOK, map[string]any{"event_id": event.ID, "status": resp.StatusCode})
	})

	log.Info().Str("port", port).Msg("Mock Stripe server starting")
	if err := http.ListenAndServe(port, r); err != nil {
		log.Fatal().Err(err).Msg("mock stripe server stopped")
	}
}
