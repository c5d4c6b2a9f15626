package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/internal/referral"
	"github.com/Niiaks/Patron/internal/server"
	"github.com/Niiaks/Patron/internal/sponsorship"
	"github.com/Niiaks/Patron/internal/wallet"
	"github.com/Niiaks/Patron/internal/webhook"
	"github.com/Niiaks/Patron/pkg/constants"
)

const jwtSecret = "router-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	log := zerolog.Nop()

	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: jwtSecret, Issuer: "patron"},
		Observability: &config.ObservabilityConfig{
			HealthChecks: config.HealthChecksConfig{Timeout: time.Second, Checks: []string{"redis"}},
		},
		Sponsorship: config.SponsorshipConfig{IdempotencyTTL: time.Minute},
	}
	s := &server.Server{
		Config: cfg,
		Logger: &log,
		Redis:  redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "test:", &log),
	}

	return NewRouter(s, &Handlers{
		Wallet:      wallet.NewWalletHandler(nil),
		Referral:    referral.NewReferralHandler(nil),
		Sponsorship: sponsorship.NewSponsorshipHandler(nil),
		Webhook:     webhook.NewWebhookHandler("whsec", nil),
	})
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.NewVerifier(jwtSecret, "patron").Sign(userID, role, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRouteProtection(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
	}{
		{"wallet needs token", http.MethodGet, "/api/v1/wallets/me", "", http.StatusUnauthorized},
		{"pledge needs token", http.MethodPost, "/api/v1/sponsorships", "", http.StatusUnauthorized},
		{"admin credits need admin", http.MethodPost, "/api/v1/admin/credits", bearer(t, "u1", constants.RoleUser), http.StatusForbidden},
		{"capture needs service or admin", http.MethodPost, "/api/v1/sponsorships/7b0d7c0e-5f6a-4b8e-9c61-0a8f3f1d2c11/capture", bearer(t, "u1", constants.RoleUser), http.StatusForbidden},
		{"reconcile needs admin", http.MethodGet, "/api/v1/wallets/u2/reconcile", bearer(t, "u1", constants.RoleUser), http.StatusForbidden},
		{"webhook without signature", http.MethodPost, "/webhooks/stripe", "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nope", bearer(t, "u1", constants.RoleUser), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}
