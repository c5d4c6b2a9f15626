package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/event"
	"github.com/Niiaks/Patron/internal/logger"
	"github.com/Niiaks/Patron/internal/presale"
	"github.com/Niiaks/Patron/internal/scheduler"
	"github.com/Niiaks/Patron/internal/sponsorship"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.WithComponent(logger.NewLoggerWithService(cfg.Observability, loggerService), "presale-sweeper")

	if cfg.AWS.CaptureQueueURL == "" {
		log.Fatal().Msg("PATRON_CAPTURE_QUEUE_URL is required")
	}

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load AWS config")
	}
	sched := scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), cfg.AWS.CaptureQueueURL)

	sweeper := presale.NewSweeper(
		event.NewDirectory(db.Pool),
		sponsorship.NewRepository(db.Pool),
		sched,
		&log,
		cfg.Presale.SweepInterval,
		cfg.Presale.BatchSize,
	)

	go func() {
		if err := sweeper.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Presale sweeper stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Presale Sweeper...")
	cancel()

	log.Info().Msg("Presale Sweeper shutdown complete")
}
