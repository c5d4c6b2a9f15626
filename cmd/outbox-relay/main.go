package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/logger"
	"github.com/Niiaks/Patron/internal/outbox"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.WithComponent(logger.NewLoggerWithService(cfg.Observability, loggerService), "outbox-relay")

	log.Info().Msg("Starting Outbox Relay Service...")

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	kProducer, err := kafka.NewProducer(kafka.DefaultConfig(cfg.Kafka.Brokers), &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka producer")
	}
	defer kProducer.Close()

	relay := outbox.NewRelay(db.Pool, kProducer, &log).WithConfig(cfg.Outbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Relay service stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Outbox Relay...")
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if n, err := relay.Drain(drainCtx); err != nil {
		log.Error().Err(err).Int("relayed", n).Msg("Failed to drain outbox")
	} else if n > 0 {
		log.Info().Int("relayed", n).Msg("Drained outbox")
	}

	log.Info().Msg("Outbox Relay shutdown complete")
}
