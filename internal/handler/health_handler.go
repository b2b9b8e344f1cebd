package handler

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"
)

const readinessTimeout = 5 * time.Second

// Health is the liveness probe
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheckResult is one dependency's entry in the readiness report
type HealthCheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Broker reports whether the broadcast backplane connection is down
type Broker interface {
	IsClosed() bool
}

type readinessCheck func(ctx context.Context) HealthCheckResult

// Ready probes the database and, when broadcasts go through RabbitMQ, the broker.
// A nil broker reports "disabled" and does not affect readiness.
func Ready(db *sql.DB, broker Broker) http.HandlerFunc {
	checks := map[string]readinessCheck{
		"database": func(ctx context.Context) HealthCheckResult { return checkDatabase(ctx, db) },
		"rabbitmq": func(context.Context) HealthCheckResult { return checkBroker(broker) },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := runChecks(ctx, checks)

		status, code := "ready", http.StatusOK
		for _, res := range results {
			if res.Status == "down" {
				status, code = "not_ready", http.StatusServiceUnavailable
				break
			}
		}

		writeJSON(w, code, map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    results,
		})
	}
}

func runChecks(ctx context.Context, checks map[string]readinessCheck) map[string]HealthCheckResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]HealthCheckResult, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check readinessCheck) {
			defer wg.Done()
			res := check(ctx)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return results
}

func checkDatabase(ctx context.Context, db *sql.DB) HealthCheckResult {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return HealthCheckResult{
			Status:    "down",
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	stats := db.Stats()
	return HealthCheckResult{
		Status:    "up",
		LatencyMs: time.Since(start).Milliseconds(),
		Metadata: map[string]any{
			"connections_open":   stats.OpenConnections,
			"connections_in_use": stats.InUse,
			"max_open":           stats.MaxOpenConnections,
		},
	}
}

func checkBroker(broker Broker) HealthCheckResult {
	switch {
	case broker == nil:
		return HealthCheckResult{Status: "disabled"}
	case broker.IsClosed():
		return HealthCheckResult{Status: "down", Error: "connection closed"}
	default:
		return HealthCheckResult{Status: "up"}
	}
}
