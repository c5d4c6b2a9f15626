package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := zerolog.Nop()
	return NewStripeClient(&config.StripeConfig{
		SecretKey:    "sk_test",
		BaseURL:      srv.URL,
		Currency:     "usd",
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		RefreshURL:   "http://app/refresh",
		ReturnURL:    "http://app/return",
	}, &log)
}

func TestAuthorize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "pledge:abc", r.Header.Get("Idempotency-Key"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test", user)

		assert.Equal(t, "50000", r.PostForm.Get("amount"))
		assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
		assert.Equal(t, "acct_org", r.PostForm.Get("metadata[destination_account]"))
		assert.Equal(t, "5000", r.PostForm.Get("metadata[platform_fee]"))
		assert.Empty(t, r.PostForm.Get("transfer_data[destination]"))
		assert.Equal(t, "evt-1", r.PostForm.Get("metadata[event_id]"))

		w.Write([]byte(`{"id":"pi_123","status":"requires_capture","amount":50000}`))
	})

	auth, err := client.Authorize(context.Background(), AuthorizeRequest{
		Amount:             50000,
		PaymentMethodID:    "pm_card",
		DestinationAccount: "acct_org",
		PlatformFee:        5000,
		EventID:            "evt-1",
		TierID:             "tier-1",
		SponsorID:          "user-1",
		IdempotencyKey:     "pledge:abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", auth.ID)
}

func TestAuthorizeNotHeld(t *testing.T) {
	var canceled atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents":
			w.Write([]byte(`{"id":"pi_123","status":"requires_action"}`))
		case "/v1/payment_intents/pi_123/cancel":
			canceled.Add(1)
			assert.Equal(t, "void:k", r.Header.Get("Idempotency-Key"))
			w.Write([]byte(`{"id":"pi_123","status":"canceled"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	_, err := client.Authorize(context.Background(), AuthorizeRequest{Amount: 100, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrPaymentGateway)
	assert.False(t, apperror.IsRetryable(err))
	assert.Equal(t, int32(1), canceled.Load(), "open intent should be canceled")

	t.Run("already canceled intent is left alone", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payment_intents", r.URL.Path)
			w.Write([]byte(`{"id":"pi_456","status":"canceled"}`))
		})

		_, err := client.Authorize(context.Background(), AuthorizeRequest{Amount: 100, IdempotencyKey: "k2"})
		assert.ErrorIs(t, err, apperror.ErrPaymentGateway)
	})
}

func TestTransferRetriesTransientFailuresWithSameKey(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "withdraw:w-1", r.Header.Get("Idempotency-Key"))
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"type":"api_error","message":"try again"}}`))
			return
		}
		w.Write([]byte(`{"id":"tr_1","amount":700}`))
	})

	res, err := client.Transfer(context.Background(), TransferRequest{
		Amount:         700,
		Destination:    "acct_1",
		UserID:         "user-1",
		IdempotencyKey: "withdraw:w-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_1", res.ID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	_, err := client.Authorize(context.Background(), AuthorizeRequest{Amount: 100, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.False(t, apperror.IsRetryable(err))
	assert.Contains(t, err.Error(), "Your card was declined.")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := client.Capture(context.Background(), "pi_1", "capture:s-1")
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestConnectOnboarding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/v1/accounts":
			assert.Equal(t, "express", r.PostForm.Get("type"))
			assert.Equal(t, "user-1", r.PostForm.Get("metadata[user_id]"))
			w.Write([]byte(`{"id":"acct_new"}`))
		case "/v1/account_links":
			assert.Equal(t, "acct_new", r.PostForm.Get("account"))
			assert.Equal(t, "account_onboarding", r.PostForm.Get("type"))
			assert.Equal(t, "http://app/return", r.PostForm.Get("return_url"))
			w.Write([]byte(`{"url":"https://connect.stripe.com/setup/abc"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	accountID, err := client.CreateAccount(ctx, "user-1", "connect-account:user-1")
	require.NoError(t, err)
	assert.Equal(t, "acct_new", accountID)

	link, err := client.CreateAccountLink(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "https://connect.stripe.com/setup/abc", link)
}

func TestVoidSendsCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_9/cancel", r.URL.Path)
		assert.Equal(t, "void:s-9", r.Header.Get("Idempotency-Key"))
		w.Write([]byte(`{"id":"pi_9","status":"canceled"}`))
	})

	require.NoError(t, client.Void(context.Background(), "pi_9", "void:s-9"))
}
