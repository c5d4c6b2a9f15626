package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/referral"
	"github.com/Niiaks/Patron/internal/server"
	"github.com/Niiaks/Patron/internal/sponsorship"
	"github.com/Niiaks/Patron/internal/wallet"
	"github.com/Niiaks/Patron/internal/webhook"
	"github.com/Niiaks/Patron/pkg/constants"
	"github.com/Niiaks/Patron/pkg/response"
)

type Handlers struct {
	Wallet      *wallet.WalletHandler
	Referral    *referral.ReferralHandler
	Sponsorship *sponsorship.SponsorshipHandler
	Webhook     *webhook.WebhookHandler
}

func NewRouter(s *server.Server, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	mw := middleware.NewMiddlewares(s)

	// Apply middleware in order
	r.Use(middleware.RequestID)
	r.Use(mw.Tracing.NewRelicMiddleware())
	r.Use(mw.Tracing.EnhanceTracing)
	r.Use(mw.ContextEnhancer.EnhanceContext)
	r.Use(mw.Global.RequestLogger)

	r.Get("/healthz", healthHandler(s))
	r.Post("/webhooks/stripe", h.Webhook.HandleWebhook)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// public: hit from referral landing pages
		r.Post("/referrals/clicks", h.Referral.TrackClick)

		r.Group(func(r chi.Router) {
			r.Use(mw.Auth.Authenticate)

			r.Route("/sponsorships", func(r chi.Router) {
				r.With(mw.Idempotency.Replay).Post("/", h.Sponsorship.Pledge)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(constants.RoleAdmin, constants.RoleService))
					r.Post("/{id}/capture", h.Sponsorship.Capture)
					r.Post("/{id}/release", h.Sponsorship.Release)
				})
			})

			r.Route("/referrals", func(r chi.Router) {
				r.Post("/links", h.Referral.GenerateLink)
				r.Get("/stats", h.Referral.GetStats)
			})

			r.Route("/wallets", func(r chi.Router) {
				r.Get("/me", h.Wallet.GetMyWallet)
				r.Get("/me/transactions", h.Wallet.ListMyTransactions)
				r.With(mw.Idempotency.Replay).Post("/withdrawals", h.Wallet.Withdraw)
				r.Post("/connect-link", h.Wallet.CreateConnectLink)
				r.Post("/credits/use", h.Wallet.UseCredits)
				r.With(middleware.RequireRole(constants.RoleAdmin)).Get("/{userId}/reconcile", h.Wallet.Reconcile)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(constants.RoleAdmin))
				r.Post("/credits", h.Wallet.AddPlatformCredits)
			})
		})
	})

	return r
}

func healthHandler(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := s.Health(r.Context())
		status := http.StatusOK
		for _, v := range checks {
			if v != "ok" {
				status = http.StatusServiceUnavailable
			}
		}
		response.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
	}
}
