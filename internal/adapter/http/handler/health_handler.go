package handler

import (
	"net/http"
	"time"

	"instant-payout/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// Liveness handles GET /health/live: the process is up.
func Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness handles GET /health/ready and GET /health: every dependency
// must answer for the instance to accept traffic.
func Readiness(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not ready",
					"failed": checker.Name(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// DetailedHealth handles GET /health/detailed with per-dependency
// status and latency.
func DetailedHealth(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status    string `json:"status"`
			LatencyMS int64  `json:"latency_ms"`
			Error     string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			start := time.Now()
			err := checker.Ping(c.Request.Context())
			latency := time.Since(start).Milliseconds()
			if err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy", LatencyMS: latency}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"dependencies": deps,
		})
	}
}
