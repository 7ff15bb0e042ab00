package handler

import (
	"instant-payout/config"
	"instant-payout/internal/adapter/http/middleware"
	redisStore "instant-payout/internal/adapter/storage/redis"
	"instant-payout/internal/adapter/ws"
	"instant-payout/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Intake         ports.IntakeService
	TokenSvc       ports.TokenService
	Hub            *ws.Hub
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimit      config.RateLimitConfig
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	noop := func(c *gin.Context) { c.Next() }
	globalRL, userRL := noop, noop
	if deps.RateLimitStore != nil {
		globalRL = middleware.GlobalRateLimit(deps.RateLimitStore, middleware.RateLimitRule{
			Limit:  deps.RateLimit.MaxRequests,
			Window: deps.RateLimit.Window,
		}, deps.Logger)
		userRL = middleware.UserRateLimit(deps.RateLimitStore, middleware.RateLimitRule{
			Limit:  deps.RateLimit.UserMaxRequests,
			Window: deps.RateLimit.UserWindow,
		}, deps.Logger)
	}
	r.Use(globalRL)

	// Health endpoints are exempt from the rate limits.
	health := r.Group("/api/health")
	{
		health.GET("", Readiness(deps.HealthCheckers...))
		health.GET("/ready", Readiness(deps.HealthCheckers...))
		health.GET("/live", Liveness)
		health.GET("/detailed", DetailedHealth(deps.HealthCheckers...))
	}

	payoutHandler := NewPayoutHandler(deps.Intake)

	payout := r.Group("/api/payout")
	{
		payout.POST("", userRL, payoutHandler.InitiatePayout)

		if deps.Hub != nil {
			wsHandler := NewWSHandler(deps.Hub, deps.Logger)
			subscribeAuth := middleware.SubscribeAuth(deps.TokenSvc, deps.Logger)
			payout.GET("/ws", subscribeAuth, wsHandler.Subscribe)
		}

		user := payout.Group("/user/:user_id")
		{
			user.GET("/balance", userRL, payoutHandler.GetBalance)
			user.GET("/history", userRL, payoutHandler.GetHistory)
		}

		payout.GET("/:transaction_id", payoutHandler.GetTransaction)
	}

	return r
}
