package middleware

import (
	"net/http"
	"strings"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/pkg/response"
	"github.com/newrelic/go-agent/v3/newrelic"
)

type Auth struct {
	verifier *auth.Verifier
}

func NewAuth(verifier *auth.Verifier) *Auth {
	return &Auth{verifier: verifier}
}

// Authenticate requires a valid bearer token and stores the caller identity in the context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.WriteError(w, apperror.Unauthorized("missing bearer token"))
			return
		}

		id, err := a.verifier.Verify(token)
		if err != nil {
			GetLogger(r.Context()).Warn().Err(err).Msg("rejected bearer token")
			response.WriteError(w, apperror.Unauthorized("invalid bearer token"))
			return
		}

		ctx := auth.WithIdentity(r.Context(), id)

		contextLogger := GetLogger(ctx).With().Str("user_id", id.UserID).Str("role", id.Role).Logger()
		ctx = WithLogger(ctx, &contextLogger)

		if txn := newrelic.FromContext(ctx); txn != nil {
			addUserAttribute(ctx, txn)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose role is not in roles. Must run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				response.WriteError(w, apperror.Unauthorized("not authenticated"))
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.WriteError(w, apperror.Forbidden("role %s may not access this resource", id.Role))
		})
	}
}
