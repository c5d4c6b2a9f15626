package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Niiaks/Patron/internal/app"
	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/logger"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/internal/referral"
	"github.com/Niiaks/Patron/internal/router"
	"github.com/Niiaks/Patron/internal/server"
	"github.com/Niiaks/Patron/internal/sponsorship"
	"github.com/Niiaks/Patron/internal/wallet"
	"github.com/Niiaks/Patron/internal/webhook"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()

	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("PATRON_JWT_SECRET is required")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn().Msg("PATRON_STRIPE_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	rdb, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis client")
	}

	srv, err := server.NewServer(cfg, &log, loggerService, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	services := app.NewServices(cfg, db.Pool, rdb, &log)

	handlers := &router.Handlers{
		Wallet:      wallet.NewWalletHandler(services.Wallet),
		Referral:    referral.NewReferralHandler(services.Referrals),
		Sponsorship: sponsorship.NewSponsorshipHandler(services.Sponsorships),
		Webhook:     webhook.NewWebhookHandler(cfg.Stripe.WebhookSecret, webhook.NewRepository(db.Pool)),
	}

	r := router.NewRouter(srv, handlers)

	srv.SetupHTTPServer(r)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
