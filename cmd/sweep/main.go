package main

import (
	"context"
	"fmt"
	"os"

	"reconciliation-service/config"
	"reconciliation-service/internal/fulfillment"
	"reconciliation-service/internal/gateway"
	"reconciliation-service/internal/repository"
	"reconciliation-service/internal/service"
	"reconciliation-service/pkg/database"
	"reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Одноразовый запуск развёрток из cron/планировщика.
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

	verifier := service.NewVerifier(repos, payments, nil, log, cfg.Pipeline)
	retries := service.NewRetryScheduler(repos, dispatcher, repos.Executions, nil, log, cfg.Pipeline)
	duplicates := service.NewDuplicateService(repos, dispatcher, nil, log, cfg.Pipeline)

	ctx := context.Background()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "reconcile":
		sum, err := verifier.ReconcileStuck(ctx)
		if err != nil {
			log.Fatal("reconciliation sweep failed", zap.Error(err))
		}
		log.Info("reconciliation sweep summary", zap.Any("summary", sum))
	case "retry":
		sum, err := retries.ProcessDueRetries(ctx)
		if err != nil {
			log.Fatal("retry sweep failed", zap.Error(err))
		}
		log.Info("retry sweep summary", zap.Any("summary", sum))
	case "duplicates":
		mode := service.ModeReport
		if len(os.Args) > 2 && os.Args[2] == "--cleanup" {
			mode = service.ModeCleanup
		}
		rep, err := duplicates.Run(ctx, mode)
		if err != nil {
			log.Fatal("duplicate pass failed", zap.Error(err))
		}
		log.Info("duplicate pass report", zap.Any("report", rep))
	case "all":
		if sum, err := verifier.ReconcileStuck(ctx); err != nil {
			log.Fatal("reconciliation sweep failed", zap.Error(err))
		} else {
			log.Info("reconciliation sweep summary", zap.Any("summary", sum))
		}
		if sum, err := retries.ProcessDueRetries(ctx); err != nil {
			log.Fatal("retry sweep failed", zap.Error(err))
		} else {
			log.Info("retry sweep summary", zap.Any("summary", sum))
		}
		if rep, err := duplicates.Run(ctx, service.ModeReport); err != nil {
			log.Fatal("duplicate pass failed", zap.Error(err))
		} else {
			log.Info("duplicate pass report", zap.Any("report", rep))
		}
	default:
		usage()
		os.Exit(1)
	}

	log.Info("sweep completed successfully")
}

func usage() {
	fmt.Println("Usage: go run cmd/sweep/main.go [reconcile|retry|duplicates [--cleanup]|all]")
	fmt.Println("  reconcile  - verify stuck payments against the gateway")
	fmt.Println("  retry      - process due retry_pending orders")
	fmt.Println("  duplicates - report duplicate fulfillment refs (--cleanup to cancel)")
	fmt.Println("  all        - run every sweep once (duplicates in report mode)")
}
