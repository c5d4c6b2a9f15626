package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/pkg/constants"
	"github.com/Niiaks/Patron/pkg/response"
)

// IdempotencyStore is the subset of the redis client used to replay responses.
type IdempotencyStore interface {
	CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	MarkIdempotencyFailed(ctx context.Context, key string) error
}

type Idempotency struct {
	store IdempotencyStore
	ttl   time.Duration
}

func NewIdempotency(store IdempotencyStore, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Replay honours an optional Idempotency-Key header: the first successful response is cached and
// replayed for repeats, a repeat arriving while the original is in flight gets a retryable conflict,
// and failed responses free the key.
func (i *Idempotency) Replay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(constants.IdempotencyKeyHeader)
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logger := GetLogger(ctx)

		key := r.Method + ":" + r.URL.Path + ":" + header
		if id, ok := auth.IdentityFromContext(ctx); ok {
			key = id.UserID + ":" + key
		}

		cached, err := i.store.CheckAndSetIdempotency(ctx, key, i.ttl)
		if errors.Is(err, redis.ErrKeyExists) {
			logger.Warn().Str("idempotency_key", header).Msg("Request still in progress with same idempotency key")
			response.WriteError(w, apperror.Conflict("request with this idempotency key is in progress"))
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to check idempotency key")
			response.WriteError(w, err)
			return
		}

		if cached != nil {
			var res cachedResponse
			if err := json.Unmarshal(cached, &res); err == nil {
				logger.Info().Str("idempotency_key", header).Msg("Returning cached response due to idempotency key")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(res.Status)
				w.Write(res.Body)
				return
			}
		}

		rec := &recordingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.statusCode >= http.StatusOK && rec.statusCode < http.StatusMultipleChoices {
			body := rec.body.Bytes()
			if !json.Valid(body) {
				body = []byte("null")
			}
			payload, _ := json.Marshal(cachedResponse{Status: rec.statusCode, Body: body})
			if err := i.store.MarkIdempotencyComplete(ctx, key, payload, i.ttl); err != nil {
				logger.Error().Err(err).Msg("Failed to cache idempotent response")
			}
			return
		}

		if err := i.store.MarkIdempotencyFailed(ctx, key); err != nil {
			logger.Error().Err(err).Msg("Failed to release idempotency key")
		}
	})
}

type recordingWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
