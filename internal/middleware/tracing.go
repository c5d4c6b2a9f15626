package middleware

import (
	"context"
	"net/http"

	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/pkg/constants"
	"github.com/newrelic/go-agent/v3/integrations/nrgochi"
	"github.com/newrelic/go-agent/v3/newrelic"
)

const webhookSignatureHeader = "Stripe-Signature"

type Tracing struct {
	nrApp *newrelic.Application
}

func NewTracing(nrApp *newrelic.Application) *Tracing {
	return &Tracing{
		nrApp: nrApp,
	}
}

func (t *Tracing) NewRelicMiddleware() func(http.Handler) http.Handler {
	if t.nrApp == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return nrgochi.Middleware(t.nrApp)
}

// EnhanceTracing adds custom attributes to the New Relic transaction.
func (t *Tracing) EnhanceTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txn := newrelic.FromContext(r.Context())
		if txn == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Add request attributes
		txn.AddAttribute("http.real_ip", r.RemoteAddr)
		txn.AddAttribute("http.user_agent", r.UserAgent())

		if requestID := GetRequestID(r); requestID != "" {
			txn.AddAttribute("request.id", requestID)
		}
		if key := r.Header.Get(constants.IdempotencyKeyHeader); key != "" {
			txn.AddAttribute("request.idempotency_key", key)
		}
		if r.Header.Get(webhookSignatureHeader) != "" {
			txn.AddAttribute("webhook.signed", true)
		}
		addUserAttribute(r.Context(), txn)

		next.ServeHTTP(w, r)
	})
}

type attributeAdder interface {
	AddAttribute(key string, value interface{})
}

// addUserAttribute tags the transaction with the caller once a bearer token has been verified.
func addUserAttribute(ctx context.Context, txn attributeAdder) {
	if id, ok := auth.IdentityFromContext(ctx); ok && id.UserID != "" {
		txn.AddAttribute("user.id", id.UserID)
	}
}
