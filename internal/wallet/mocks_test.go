package wallet

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Niiaks/Patron/internal/gateway"
	"github.com/Niiaks/Patron/internal/ledger"
	"github.com/Niiaks/Patron/internal/model"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Apply(ctx context.Context, p ledger.Posting) (*ledger.Result, error) {
	args := m.Called(ctx, p)
	res, _ := args.Get(0).(*ledger.Result)
	return res, args.Error(1)
}

func (m *mockRepo) CompleteHold(ctx context.Context, key, externalRef string) error {
	return m.Called(ctx, key, externalRef).Error(0)
}

func (m *mockRepo) CancelHold(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockRepo) PendingHolds(ctx context.Context, cutoff time.Time, limit int) ([]model.Transaction, error) {
	args := m.Called(ctx, cutoff, limit)
	txs, _ := args.Get(0).([]model.Transaction)
	return txs, args.Error(1)
}

func (m *mockRepo) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	w, _ := args.Get(0).(*model.Wallet)
	return w, args.Error(1)
}

func (m *mockRepo) Audit(ctx context.Context, userID string) (*model.Drift, error) {
	args := m.Called(ctx, userID)
	d, _ := args.Get(0).(*model.Drift)
	return d, args.Error(1)
}

func (m *mockRepo) SetPayoutAccount(ctx context.Context, userID, accountID string) (string, error) {
	args := m.Called(ctx, userID, accountID)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) SetPayoutEnabled(ctx context.Context, accountID string, enabled bool) (string, error) {
	args := m.Called(ctx, accountID, enabled)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	txs, _ := args.Get(0).([]model.Transaction)
	return txs, args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (*gateway.Authorization, error) {
	args := m.Called(ctx, req)
	a, _ := args.Get(0).(*gateway.Authorization)
	return a, args.Error(1)
}

func (m *mockGateway) Capture(ctx context.Context, authorizationID, idempotencyKey string) error {
	return m.Called(ctx, authorizationID, idempotencyKey).Error(0)
}

func (m *mockGateway) Void(ctx context.Context, authorizationID, idempotencyKey string) error {
	return m.Called(ctx, authorizationID, idempotencyKey).Error(0)
}

func (m *mockGateway) Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*gateway.TransferResult)
	return r, args.Error(1)
}

func (m *mockGateway) CreateAccount(ctx context.Context, userID, idempotencyKey string) (string, error) {
	args := m.Called(ctx, userID, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateAccountLink(ctx context.Context, accountID string) (string, error) {
	args := m.Called(ctx, accountID)
	return args.String(0), args.Error(1)
}
