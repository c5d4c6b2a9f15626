package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/gateway"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/Niiaks/Patron/internal/redis"
)

// memLedger is a single-wallet ledger with conditional debits and withdrawal holds.
type memLedger struct {
	mu           sync.Mutex
	wallet       model.Wallet
	entries      map[string]*model.Transaction
	failComplete int
}

func newMemLedger(available int64) *memLedger {
	return &memLedger{wallet: *payoutWallet(available), entries: map[string]*model.Transaction{}}
}

func (m *memLedger) Apply(ctx context.Context, p ledger.Posting) (*ledger.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := p.Entries[0]
	if existing, ok := m.entries[e.IdempotencyKey]; ok {
		return &ledger.Result{TransactionIDs: []uuid.UUID{existing.ID}, Duplicate: true, Status: existing.Status}, nil
	}
	if e.Status == "" {
		e.Status = model.StatusCompleted
	}
	if e.Moves() {
		if e.Direction == model.DirectionDebit && m.wallet.AvailableBalance < e.Amount {
			return nil, apperror.InsufficientFunds(m.wallet.AvailableBalance, e.Amount)
		}
		m.wallet.AvailableBalance += e.Effect()
	}
	e.ID = uuid.New()
	m.entries[e.IdempotencyKey] = &e
	return &ledger.Result{TransactionIDs: []uuid.UUID{e.ID}, Status: e.Status}, nil
}

func (m *memLedger) CompleteHold(ctx context.Context, key, externalRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failComplete > 0 {
		m.failComplete--
		return errors.New("connection refused")
	}
	e := m.entries[key]
	if e.Status == model.StatusPending {
		e.Status = model.StatusCompleted
		e.ExternalRef = &externalRef
	}
	return nil
}

func (m *memLedger) CancelHold(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e.Status == model.StatusPending {
		e.Status = model.StatusCanceled
		m.wallet.AvailableBalance += e.Amount
	}
	return nil
}

func (m *memLedger) PendingHolds(context.Context, time.Time, int) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for _, e := range m.entries {
		if e.Type == model.TypeWithdrawal && e.Status == model.StatusPending {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memLedger) GetWallet(context.Context, string) (*model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.wallet
	return &w, nil
}

func (m *memLedger) Audit(context.Context, string) (*model.Drift, error) { return nil, nil }

func (m *memLedger) SetPayoutAccount(context.Context, string, string) (string, error) {
	return "", nil
}

func (m *memLedger) SetPayoutEnabled(context.Context, string, bool) (string, error) {
	return "", nil
}

func (m *memLedger) ListTransactions(context.Context, string, int, int) ([]model.Transaction, error) {
	return nil, nil
}

func (m *memLedger) entry(key string) model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.entries[key]
}

func (m *memLedger) available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet.AvailableBalance
}

// payoutGateway replays the original transfer for a repeated idempotency key, like the real one.
type payoutGateway struct {
	mockGateway
	mu         sync.Mutex
	transfers  map[string]*gateway.TransferResult
	err        error
	onTransfer func()
}

func (g *payoutGateway) Transfer(_ context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	g.mu.Lock()
	hook := g.onTransfer
	g.onTransfer = nil
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if tr, ok := g.transfers[req.IdempotencyKey]; ok {
		return tr, nil
	}
	tr := &gateway.TransferResult{ID: fmt.Sprintf("tr_%d", len(g.transfers)+1), Amount: req.Amount}
	g.transfers[req.IdempotencyKey] = tr
	return tr, nil
}

func (g *payoutGateway) paidOut() (count int, total int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tr := range g.transfers {
		count++
		total += tr.Amount
	}
	return count, total
}

type payoutFixture struct {
	svc     *WalletService
	ledger  *memLedger
	gateway *payoutGateway
	redis   *miniredis.Miniredis
}

func newPayoutFixture(t *testing.T, available int64) *payoutFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log := zerolog.Nop()

	f := &payoutFixture{
		ledger:  newMemLedger(available),
		gateway: &payoutGateway{transfers: map[string]*gateway.TransferResult{}},
		redis:   mr,
	}
	f.svc = NewWalletService(f.ledger, f.gateway, redis.NewFromClient(rdb, "test:", &log), 30*time.Second)
	f.svc.settleBackoff = time.Millisecond
	return f
}

func TestWithdrawLockExpiryCannotDoubleSpend(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, 1000)

	var secondErr error
	f.gateway.onTransfer = func() {
		// the first transfer outlives the wallet lock
		f.redis.FastForward(31 * time.Second)
		_, secondErr = f.svc.Withdraw(ctx, "user-1", 800, "k2")
	}

	_, err := f.svc.Withdraw(ctx, "user-1", 900, "k1")
	require.NoError(t, err)
	assert.ErrorIs(t, secondErr, apperror.ErrInsufficientFunds)

	count, total := f.gateway.paidOut()
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(900), total)
	assert.Equal(t, int64(100), f.ledger.available())

	hold := f.ledger.entry("withdraw:user-1:k1")
	assert.Equal(t, model.StatusCompleted, hold.Status)
	require.NotNil(t, hold.ExternalRef)
	assert.Equal(t, "tr_1", *hold.ExternalRef)
}

func TestWithdrawRecordsTransferAfterClientHangsUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newPayoutFixture(t, 1000)
	f.gateway.onTransfer = cancel
	f.ledger.failComplete = 1

	_, err := f.svc.Withdraw(ctx, "user-1", 400, "k1")
	require.NoError(t, err)

	hold := f.ledger.entry("withdraw:user-1:k1")
	assert.Equal(t, model.StatusCompleted, hold.Status)
	assert.Equal(t, int64(600), f.ledger.available())
}

func TestResumeWithdrawals(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a hold whose transfer went out", func(t *testing.T) {
		f := newPayoutFixture(t, 1000)
		f.ledger.failComplete = settleAttempts

		_, err := f.svc.Withdraw(ctx, "user-1", 400, "k1")
		require.NoError(t, err)
		require.Equal(t, model.StatusPending, f.ledger.entry("withdraw:user-1:k1").Status)

		settled, err := f.svc.ResumeWithdrawals(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, settled)
		assert.Equal(t, model.StatusCompleted, f.ledger.entry("withdraw:user-1:k1").Status)

		count, total := f.gateway.paidOut()
		assert.Equal(t, 1, count)
		assert.Equal(t, int64(400), total)
		assert.Equal(t, int64(600), f.ledger.available())
	})

	t.Run("unknown outcome is retried, decline refunds", func(t *testing.T) {
		f := newPayoutFixture(t, 1000)
		f.gateway.err = apperror.PaymentGateway(nil, true, "stripe unavailable")

		_, err := f.svc.Withdraw(ctx, "user-1", 400, "k1")
		assert.ErrorIs(t, err, apperror.ErrPaymentGateway)
		assert.Equal(t, int64(600), f.ledger.available())

		settled, err := f.svc.ResumeWithdrawals(ctx, 0, 10)
		require.NoError(t, err)
		assert.Zero(t, settled)
		assert.Equal(t, model.StatusPending, f.ledger.entry("withdraw:user-1:k1").Status)

		f.gateway.err = apperror.PaymentGateway(nil, false, "account closed")
		settled, err = f.svc.ResumeWithdrawals(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, settled)
		assert.Equal(t, model.StatusCanceled, f.ledger.entry("withdraw:user-1:k1").Status)
		assert.Equal(t, int64(1000), f.ledger.available())
	})
}

func TestWithdrawAfterDeclineNeedsNewKey(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, 1000)
	f.gateway.err = apperror.PaymentGateway(nil, false, "account closed")

	_, err := f.svc.Withdraw(ctx, "user-1", 400, "k1")
	assert.ErrorIs(t, err, apperror.ErrPaymentGateway)
	assert.Equal(t, int64(1000), f.ledger.available())

	f.gateway.err = nil
	_, err = f.svc.Withdraw(ctx, "user-1", 400, "k1")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	count, _ := f.gateway.paidOut()
	assert.Zero(t, count)
}
