package wallet

import (
	"context"
	"time"

	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/redis"
)

// WalletRepository is the slice of the ledger store the wallet service writes through.
type WalletRepository interface {
	Apply(ctx context.Context, p ledger.Posting) (*ledger.Result, error)
	CompleteHold(ctx context.Context, key, externalRef string) error
	CancelHold(ctx context.Context, key string) error
	PendingHolds(ctx context.Context, cutoff time.Time, limit int) ([]model.Transaction, error)
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	Audit(ctx context.Context, userID string) (*model.Drift, error)
	SetPayoutAccount(ctx context.Context, userID, accountID string) (string, error)
	SetPayoutEnabled(ctx context.Context, accountID string, enabled bool) (string, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error)
}

type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redis.Lock, error)
}

var (
	_ WalletRepository = (*ledger.Store)(nil)
	_ Locker           = (*redis.Client)(nil)
)
