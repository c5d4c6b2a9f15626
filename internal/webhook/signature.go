package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrStaleSignature     = errors.New("webhook timestamp outside tolerance")
)

// VerifySignature checks a Stripe-Signature header ("t=<unix>,v1=<hex>[,v1=...]") against the
// HMAC-SHA256 of "<t>.<payload>" and rejects timestamps further than tolerance from now.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrMalformedSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}
	if diff := now.Sub(time.Unix(ts, 0)); diff > tolerance || diff < -tolerance {
		return ErrStaleSignature
	}

	expected := computeSignature(payload, timestamp, secret)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func computeSignature(payload []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds a header for payload as the gateway would. Used by tests and local tooling.
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	return "t=" + timestamp + ",v1=" + computeSignature(payload, timestamp, secret)
}
