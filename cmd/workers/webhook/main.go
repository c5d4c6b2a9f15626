package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Niiaks/Patron/internal/app"
	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/logger"
	"github.com/Niiaks/Patron/internal/redis"
	"github.com/Niiaks/Patron/internal/webhook"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.WithComponent(logger.NewLoggerWithService(cfg.Observability, loggerService), "webhook-worker")

	log.Info().Msg("Starting Webhook Worker...")

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	rdb, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis")
	}
	defer rdb.Close()

	kafkaCfg := kafka.DefaultConfig(cfg.Kafka.Brokers)
	dlq, err := kafka.NewProducer(kafkaCfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka producer")
	}
	defer dlq.Close()

	consumer, err := kafka.NewConsumer(kafkaCfg, kafka.GroupWebhookWorker, kafka.TopicWebhookPending, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka consumer")
	}
	consumer.WithDeadLetter(dlq)
	defer consumer.Close()

	services := app.NewServices(cfg, db.Pool, rdb, &log)
	processor := webhook.NewProcessor(webhook.NewRepository(db.Pool), services.Wallet, services.Sponsorships)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Run(ctx, webhookHandler(processor, &log)); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Webhook worker stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Webhook Worker...")
	cancel()

	log.Info().Msg("Webhook Worker shutdown complete")
}
