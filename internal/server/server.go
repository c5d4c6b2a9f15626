package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	loggerPkg "github.com/Niiaks/Patron/internal/logger"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/rs/zerolog"
)

type Server struct {
	Config        *config.Config
	Logger        *zerolog.Logger
	LoggerService *loggerPkg.LoggerService
	Db            *database.Database
	Redis         *redis.Client
	httpServer    *http.Server
}

func NewServer(cfg *config.Config, logger *zerolog.Logger, ls *loggerPkg.LoggerService, db *database.Database, rdb *redis.Client) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &Server{
		Config:        cfg,
		Logger:        logger,
		LoggerService: ls,
		Db:            db,
		Redis:         rdb,
	}, nil
}

func (s *Server) SetupHTTPServer(handler http.Handler) {
	s.httpServer = &http.Server{
		Addr:         ":" + s.Config.Server.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(s.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.Config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.Config.Server.IdleTimeout) * time.Second,
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return errors.New("http server not initialized")
	}

	s.Logger.Info().Str("port", s.Config.Server.Port).Str("env", s.Config.Primary.Env).Msg("starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	if err := s.Redis.Close(); err != nil {
		s.Logger.Error().Err(err).Msg("failed to close redis client")
	}
	s.Db.Close()

	return nil
}

// Health pings every dependency listed in the health check config.
func (s *Server) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, s.Config.Observability.HealthChecks.Timeout)
	defer cancel()

	status := make(map[string]string, len(s.Config.Observability.HealthChecks.Checks))
	for _, check := range s.Config.Observability.HealthChecks.Checks {
		var err error
		switch check {
		case "database":
			err = s.Db.Ping(ctx)
		case "redis":
			err = s.Redis.Ping(ctx)
		default:
			continue
		}
		if err != nil {
			status[check] = err.Error()
			continue
		}
		status[check] = "ok"
	}
	return status
}
