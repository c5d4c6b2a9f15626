package middleware

import (
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/server"
	"github.com/newrelic/go-agent/v3/newrelic"
)

type Middlewares struct {
	Global          *Global
	ContextEnhancer *ContextEnhancer
	Tracing         *Tracing
	Auth            *Auth
	Idempotency     *Idempotency
}

func NewMiddlewares(s *server.Server) *Middlewares {

	var nrApp *newrelic.Application

	if s.LoggerService != nil {
		nrApp = s.LoggerService.GetApplication()
	}

	return &Middlewares{
		Global:          NewGlobal(s),
		ContextEnhancer: NewContextEnhancer(s),
		Tracing:         NewTracing(nrApp),
		Auth:            NewAuth(auth.NewVerifier(s.Config.Auth.JWTSecret, s.Config.Auth.Issuer)),
		Idempotency:     NewIdempotency(s.Redis, s.Config.Sponsorship.IdempotencyTTL),
	}
}
