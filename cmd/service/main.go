package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reconciliation-service/config"
	"reconciliation-service/internal/fulfillment"
	"reconciliation-service/internal/gateway"
	"reconciliation-service/internal/producer"
	"reconciliation-service/internal/repository"
	"reconciliation-service/internal/service"
	transport "reconciliation-service/internal/transport/http"
	"reconciliation-service/pkg/database"
	"reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)
	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	repos := repository.New(db)
	payments := gateway.NewStripeGateway(cfg.StripeAPIKey, log)
	dispatcher := fulfillment.NewZMAClient(cfg.ZMABaseURL, cfg.ZMAAPIKey, cfg.ZMATimeout, log)

	// Kafka опциональна: без брокеров события просто не публикуются
	var events service.EventBus
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		p := producer.NewOrderEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer p.Close()
		events = p
	}

	verifier := service.NewVerifier(repos, payments, events, log, cfg.Pipeline)
	retries := service.NewRetryScheduler(repos, dispatcher, repos.Executions, events, log, cfg.Pipeline)
	duplicates := service.NewDuplicateService(repos, dispatcher, events, log, cfg.Pipeline)
	splitter := service.NewSplitter(repos, dispatcher, retries, events, log, cfg.Pipeline)

	handler := transport.NewPipelineHandler(verifier, retries, duplicates, splitter, log)
	router := transport.Router(handler, cfg.APIKey)

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Starting reconciliation HTTP server", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-quit
	log.Info("Shutting down reconciliation HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("Reconciliation HTTP server stopped gracefully")
}
