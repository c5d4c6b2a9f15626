package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/pkg/types"
	"github.com/rs/zerolog"
)

const (
	statusRequiresCapture = "requires_capture"
	statusCanceled        = "canceled"
	statusSucceeded       = "succeeded"
)

type StripeClient struct {
	httpClient   *http.Client
	secretKey    string
	baseURL      string
	currency     string
	maxRetries   int
	retryBackoff time.Duration
	refreshURL   string
	returnURL    string
	log          *zerolog.Logger
}

var _ Gateway = (*StripeClient)(nil)

func NewStripeClient(cfg *config.StripeConfig, log *zerolog.Logger) *StripeClient {
	return &StripeClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
		secretKey:    cfg.SecretKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		currency:     cfg.Currency,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		refreshURL:   cfg.RefreshURL,
		returnURL:    cfg.ReturnURL,
		log:          log,
	}
}

func (c *StripeClient) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", c.currency)
	form.Set("payment_method", req.PaymentMethodID)
	form.Set("confirm", "true")
	form.Set("capture_method", "manual")
	form.Set("payment_method_types[]", "card")
	// funds settle to the platform balance; organizers are paid out of their wallet
	if req.DestinationAccount != "" {
		form.Set("metadata[destination_account]", req.DestinationAccount)
	}
	form.Set("metadata[event_id]", req.EventID)
	form.Set("metadata[tier_id]", req.TierID)
	form.Set("metadata[sponsor_id]", req.SponsorID)
	form.Set("metadata[platform_fee]", strconv.FormatInt(req.PlatformFee, 10))

	var intent types.PaymentIntent
	if err := c.post(ctx, "/v1/payment_intents", form, req.IdempotencyKey, &intent); err != nil {
		return nil, err
	}

	if intent.Status != statusRequiresCapture {
		// an intent left open could still be confirmed after the pledge is refused
		if intent.Status != statusCanceled && intent.Status != statusSucceeded {
			if err := c.Void(context.WithoutCancel(ctx), intent.ID, "void:"+req.IdempotencyKey); err != nil {
				c.log.Error().Err(err).Str("payment_intent_id", intent.ID).Msg("Failed to cancel unheld payment intent")
			}
		}
		return nil, apperror.PaymentGateway(nil, false, "authorization %s not held: status %s", intent.ID, intent.Status)
	}

	return &Authorization{ID: intent.ID, Status: intent.Status}, nil
}

func (c *StripeClient) Capture(ctx context.Context, authorizationID, idempotencyKey string) error {
	var intent types.PaymentIntent
	return c.post(ctx, "/v1/payment_intents/"+url.PathEscape(authorizationID)+"/capture", url.Values{}, idempotencyKey, &intent)
}

func (c *StripeClient) Void(ctx context.Context, authorizationID, idempotencyKey string) error {
	form := url.Values{}
	form.Set("cancellation_reason", "abandoned")

	var intent types.PaymentIntent
	return c.post(ctx, "/v1/payment_intents/"+url.PathEscape(authorizationID)+"/cancel", form, idempotencyKey, &intent)
}

func (c *StripeClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", c.currency)
	form.Set("destination", req.Destination)
	form.Set("metadata[user_id]", req.UserID)

	var transfer types.Transfer
	if err := c.post(ctx, "/v1/transfers", form, req.IdempotencyKey, &transfer); err != nil {
		return nil, err
	}
	return &TransferResult{ID: transfer.ID, Amount: transfer.Amount}, nil
}

func (c *StripeClient) CreateAccount(ctx context.Context, userID, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("capabilities[transfers][requested]", "true")
	form.Set("metadata[user_id]", userID)

	var account types.Account
	if err := c.post(ctx, "/v1/accounts", form, idempotencyKey, &account); err != nil {
		return "", err
	}
	return account.ID, nil
}

func (c *StripeClient) CreateAccountLink(ctx context.Context, accountID string) (string, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", c.refreshURL)
	form.Set("return_url", c.returnURL)
	form.Set("type", "account_onboarding")

	// Account links are single-use and safe to mint repeatedly, so no idempotency key.
	var link types.AccountLink
	if err := c.post(ctx, "/v1/account_links", form, "", &link); err != nil {
		return "", err
	}
	return link.URL, nil
}

// post sends a form request, retrying transient failures with exponential backoff. The same
// idempotency key is sent on every attempt.
func (c *StripeClient) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return apperror.PaymentGateway(ctx.Err(), true, "stripe %s cancelled", path)
			case <-time.After(backoff):
			}
		}

		respBody, err := c.doRequest(ctx, http.MethodPost, path, form, idempotencyKey)
		if err == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return apperror.PaymentGateway(err, false, "failed to parse stripe response")
			}
			return nil
		}

		lastErr = err
		if !apperror.IsRetryable(err) {
			return err
		}

		c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt+1).Msg("Retrying Stripe request")
	}

	return lastErr
}

func (c *StripeClient) doRequest(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(form.Encode()))
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to create HTTP request")
		return nil, apperror.PaymentGateway(err, false, "failed to create request")
	}

	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		c.log.Error().Err(err).
			Str("method", method).
			Str("url", url).
			Int64("duration_ms", duration).
			Msg("HTTP request failed")
		return nil, apperror.PaymentGateway(err, !errors.Is(err, context.Canceled), "stripe request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error().Err(err).
			Str("method", method).
			Str("url", url).
			Int64("duration_ms", duration).
			Msg("Failed to read response body")
		return nil, apperror.PaymentGateway(err, true, "failed to read stripe response")
	}

	if resp.StatusCode >= 400 {
		var apiErr types.StripeErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)

		c.log.Error().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("url", url).
			Int64("duration_ms", duration).
			Str("stripe_code", apiErr.Error.Code).
			Str("stripe_type", apiErr.Error.Type).
			Msg("Stripe API error response")

		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, apperror.PaymentGateway(
			fmt.Errorf("stripe status=%d code=%s", resp.StatusCode, apiErr.Error.Code),
			retryable,
			"%s", gatewayMessage(apiErr, resp.StatusCode),
		)
	}

	c.log.Info().
		Int("status", resp.StatusCode).
		Str("method", method).
		Str("url", url).
		Int64("duration_ms", duration).
		Msg("Stripe API request successful")

	return respBody, nil
}

func gatewayMessage(apiErr types.StripeErrorResponse, status int) string {
	if apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return fmt.Sprintf("payment provider returned status %d", status)
}
