package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is a dependency that can be checked for reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports whether the broker connection has dropped
type BrokerStatus interface {
	IsClosed() bool
}

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

const (
	statusUp       = "up"
	statusDown     = "down"
	statusDisabled = "disabled"
)

// Ready returns readiness check with dependencies. A nil redis or rmq means
// the dependency is not configured and is reported as disabled.
func Ready(db *sql.DB, redis Pinger, rmq BrokerStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// Check dependencies in parallel
		dbResult := make(chan HealthCheckResult, 1)
		redisResult := make(chan HealthCheckResult, 1)
		rmqResult := make(chan HealthCheckResult, 1)

		go func() {
			dbResult <- checkDatabase(ctx, db)
		}()

		go func() {
			redisResult <- checkRedis(ctx, redis)
		}()

		go func() {
			rmqResult <- checkRabbitMQ(rmq)
		}()

		checks := map[string]HealthCheckResult{
			"database": <-dbResult,
			"redis":    <-redisResult,
			"rabbitmq": <-rmqResult,
		}

		response := map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    checks,
		}

		allHealthy := true
		for _, check := range checks {
			if check.Status == statusDown {
				allHealthy = false
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if allHealthy {
			response["status"] = "ready"
			w.WriteHeader(http.StatusOK)
		} else {
			response["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}

// checkDatabase verifies database connectivity
func checkDatabase(ctx context.Context, db *sql.DB) HealthCheckResult {
	if db == nil {
		return HealthCheckResult{Status: statusDown, Error: "not configured"}
	}

	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	stats := db.Stats()

	if err != nil {
		return HealthCheckResult{
			Status:    statusDown,
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}

	return HealthCheckResult{
		Status:    statusUp,
		LatencyMs: latency.Milliseconds(),
		Metadata: map[string]interface{}{
			"connections_open":   stats.OpenConnections,
			"connections_in_use": stats.InUse,
			"connections_idle":   stats.Idle,
			"max_open":           stats.MaxOpenConnections,
		},
	}
}

// checkRedis verifies session storage connectivity
func checkRedis(ctx context.Context, redis Pinger) HealthCheckResult {
	if redis == nil {
		return HealthCheckResult{Status: statusDisabled}
	}

	start := time.Now()
	err := redis.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return HealthCheckResult{
			Status:    statusDown,
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}

	return HealthCheckResult{
		Status:    statusUp,
		LatencyMs: latency.Milliseconds(),
	}
}

// checkRabbitMQ verifies RabbitMQ connectivity
func checkRabbitMQ(rmq BrokerStatus) HealthCheckResult {
	if rmq == nil {
		return HealthCheckResult{Status: statusDisabled}
	}

	if rmq.IsClosed() {
		return HealthCheckResult{
			Status: statusDown,
			Error:  "connection closed",
		}
	}

	return HealthCheckResult{Status: statusUp}
}
