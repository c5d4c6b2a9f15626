// Package app builds the domain services shared by the API server, the workers and the capture lambda.
package app

import (
	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/event"
	"github.com/Niiaks/Patron/internal/gateway"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/internal/referral"
	"github.com/Niiaks/Patron/internal/sponsorship"
	"github.com/Niiaks/Patron/internal/wallet"
)

type Services struct {
	Wallet       *wallet.WalletService
	Referrals    *referral.Engine
	Sponsorships *sponsorship.Engine
}

func NewServices(cfg *config.Config, db database.Querier, rdb *redis.Client, log *zerolog.Logger) *Services {
	gw := gateway.NewStripeClient(&cfg.Stripe, log)

	events := event.NewDirectory(db)
	store := ledger.NewStore(db)
	walletService := wallet.NewWalletService(store, gw, rdb, cfg.Redis.LockTTL)

	referralEngine := referral.NewEngine(referral.NewRepository(db), events, rdb, walletService, cfg.Referral)

	sponsorshipEngine := sponsorship.NewEngine(
		sponsorship.NewRepository(db),
		events,
		gw,
		referralEngine,
		walletService,
		rdb,
		cfg.Sponsorship.PlatformFeePercent,
		cfg.Redis.LockTTL,
	)

	return &Services{
		Wallet:       walletService,
		Referrals:    referralEngine,
		Sponsorships: sponsorshipEngine,
	}
}
