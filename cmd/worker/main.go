package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"instant-payout/config"
	"instant-payout/internal/adapter/broker/rabbitmq"
	pgStorage "instant-payout/internal/adapter/storage/postgres"
	redisStorage "instant-payout/internal/adapter/storage/redis"
	"instant-payout/internal/service"
	"instant-payout/pkg/logger"
)

const brokerConnectAttempts = 5

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Int("concurrency", cfg.Payout.WorkerConcurrency).
		Int("max_retries", cfg.Payout.MaxRetryAttempts).
		Msg("Starting settlement worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ, brokerConnectAttempts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer conn.Close()
	log.Info().Msg("RabbitMQ connected")

	userRepo := pgStorage.NewUserRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	lockSvc := redisStorage.NewLockService(rdb)
	balanceCache := redisStorage.NewBalanceCache(rdb)
	eventBus := redisStorage.NewEventBus(rdb, log)

	settlementSvc := service.NewSettlementService(
		userRepo, txRepo, auditRepo, lockSvc, balanceCache, eventBus, log,
	)

	consumer, err := rabbitmq.NewConsumer(
		conn,
		settlementSvc,
		cfg.Payout.WorkerConcurrency,
		cfg.Payout.MaxRetryAttempts,
		cfg.Payout.RetryDelay,
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize settlement consumer")
	}

	// Start blocks until the context is cancelled and all in-flight
	// deliveries have been settled or returned to the queue.
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Settlement consumer failed")
	}

	log.Info().Msg("Worker exited")
}
