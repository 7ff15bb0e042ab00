package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instant-payout/config"
	"instant-payout/internal/adapter/broker/rabbitmq"
	httpHandler "instant-payout/internal/adapter/http/handler"
	pgStorage "instant-payout/internal/adapter/storage/postgres"
	redisStorage "instant-payout/internal/adapter/storage/redis"
	"instant-payout/internal/adapter/ws"
	"instant-payout/internal/core/ports"
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
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting payout gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Redis
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// RabbitMQ
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ, brokerConnectAttempts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer conn.Close()
	log.Info().Msg("RabbitMQ connected")

	publisher, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQ.Confirms, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize payout publisher")
	}
	defer publisher.Close()

	// Repositories and Redis stores
	userRepo := pgStorage.NewUserRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	lockSvc := redisStorage.NewLockService(rdb)
	balanceCache := redisStorage.NewBalanceCache(rdb)
	eventBus := redisStorage.NewEventBus(rdb, log)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Core services
	intakeSvc, err := service.NewIntakeService(
		userRepo, txRepo, auditRepo, lockSvc, balanceCache, publisher, eventBus,
		cfg.Payout, log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize intake service")
	}
	tokenSvc := service.NewTokenService(cfg.JWT)

	// Realtime hub, fed by the worker's events over the Redis bridge.
	hub := ws.NewHub(log)
	go func() {
		if err := eventBus.Subscribe(ctx, hub.Deliver); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Event bridge subscription ended")
		}
	}()

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)
	mqHealth := rabbitmq.NewHealthCheck(conn)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Intake:         intakeSvc,
		TokenSvc:       tokenSvc,
		Hub:            hub,
		RateLimitStore: rateLimitStore,
		RateLimit:      cfg.RateLimit,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth, mqHealth},
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Shutdown(shutdownCtx)

	log.Info().Msg("Gateway exited")
}
