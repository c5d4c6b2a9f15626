// Package apperror defines the typed failures surfaced by the ledger, wallet, sponsorship and
// referral services. Every error carries a Kind the HTTP layer maps to a status code and a
// Retryable flag the client uses to decide whether to offer a retry.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInsufficientCreds Kind = "insufficient_credits"
	KindSoldOut           Kind = "sold_out"
	KindRateLimit         Kind = "rate_limited"
	KindNoPayoutMethod    Kind = "no_payout_method"
	KindPaymentGateway    Kind = "payment_gateway_error"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindInvalidState      Kind = "invalid_state"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal_error"
)

type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperror.ErrSoldOut) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientCreds = &Error{Kind: KindInsufficientCreds}
	ErrSoldOut           = &Error{Kind: KindSoldOut}
	ErrRateLimit         = &Error{Kind: KindRateLimit}
	ErrNoPayoutMethod    = &Error{Kind: KindNoPayoutMethod}
	ErrPaymentGateway    = &Error{Kind: KindPaymentGateway}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrConflict          = &Error{Kind: KindConflict}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InsufficientFunds(available, requested int64) *Error {
	return &Error{Kind: KindInsufficientFunds, Message: fmt.Sprintf("requested %d exceeds available balance %d", requested, available)}
}

func InsufficientCredits(credits, requested int64) *Error {
	return &Error{Kind: KindInsufficientCreds, Message: fmt.Sprintf("requested %d exceeds platform credits %d", requested, credits)}
}

func SoldOut(tierID string) *Error {
	return &Error{Kind: KindSoldOut, Message: fmt.Sprintf("tier %s has no spots left", tierID)}
}

func RateLimited(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimit, Message: fmt.Sprintf(format, args...)}
}

func NoPayoutMethod(userID string) *Error {
	return &Error{Kind: KindNoPayoutMethod, Message: fmt.Sprintf("user %s has no payout method", userID)}
}

// PaymentGateway wraps an upstream failure. retryable marks transient faults (timeouts, 5xx, 429).
func PaymentGateway(err error, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: KindPaymentGateway, Message: fmt.Sprintf(format, args...), Retryable: retryable, Err: err}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Retryable: true}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Retryable: true, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry the operation that produced err.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// HTTPStatus maps an error kind to the response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds, KindInsufficientCreds, KindNoPayoutMethod:
		return http.StatusUnprocessableEntity
	case KindSoldOut, KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindPaymentGateway:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
