package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Niiaks/Patron/internal/app"
	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/logger"
	"github.com/Niiaks/Patron/internal/redis"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.WithComponent(logger.NewLoggerWithService(cfg.Observability, loggerService), "capture-lambda")

	// connections are reused across invocations of a warm container
	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	rdb, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis")
	}

	services := app.NewServices(cfg, db.Pool, rdb, &log)

	lambda.Start(captureHandler(services.Sponsorships, &log))
}
