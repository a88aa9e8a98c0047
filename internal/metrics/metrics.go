// Package metrics exposes Prometheus metrics and a health endpoint for the
// trader process.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trader.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleErrorsTotal prometheus.Counter

	RefinementsTotal      prometheus.Counter
	ChallengerPromotions  prometheus.Counter
	BacktestDur           prometheus.Histogram
	EventsTotal           *prometheus.CounterVec // labels: type
	WithdrawalsExecuted   prometheus.Counter
	HighWaterMark         prometheus.Gauge
	TotalTaxProvision     prometheus.Gauge
	PendingWithdrawalUSD  prometheus.Gauge
	RedisBreakerState      prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips      prometheus.Counter
	RedisBufferedPublishes prometheus.Counter
	RedisFlushedPublishes  prometheus.Counter
	WSClients              prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Scheduler cycles executed",
		}),
		CycleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycle_errors_total",
			Help: "Cycles abandoned due to an error",
		}),
		RefinementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_refinements_total",
			Help: "Tournament rounds completed",
		}),
		ChallengerPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_challenger_promotions_total",
			Help: "Tournaments won by the fresh challenger",
		}),
		BacktestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_backtest_duration_seconds",
			Help:    "Wall time of a single backtest run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_events_total",
			Help: "Events appended to the event log",
		}, []string{"type"}),
		WithdrawalsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_withdrawals_executed_total",
			Help: "Withdrawals handed to the exchange collaborator",
		}),
		HighWaterMark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_high_water_mark_usd",
			Help: "Persisted high-water mark",
		}),
		TotalTaxProvision: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_total_tax_provision_usd",
			Help: "Accumulated tax provision tally",
		}),
		PendingWithdrawalUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_pending_withdrawal_usd",
			Help: "Outstanding pending withdrawal amount (0 when none)",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_buffered_publishes_total",
			Help: "Event publishes buffered locally while the breaker was open",
		}),
		RedisFlushedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_flushed_publishes_total",
			Help: "Buffered publishes replayed after the breaker closed",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleErrorsTotal,
		m.RefinementsTotal,
		m.ChallengerPromotions,
		m.BacktestDur,
		m.EventsTotal,
		m.WithdrawalsExecuted,
		m.HighWaterMark,
		m.TotalTaxProvision,
		m.PendingWithdrawalUSD,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisBufferedPublishes,
		m.RedisFlushedPublishes,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the process health.
type HealthStatus struct {
	mu sync.RWMutex

	SQLiteOK       bool
	RedisConnected bool
	RedisEnabled   bool
	LastCycleAt    time.Time

	SQLiteLatencyMs float64
	RedisLatencyMs  float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:    time.Now(),
		RedisEnabled: redisEnabled,
	}
}

// SetLastCycle records the completion time of the latest cycle.
func (h *HealthStatus) SetLastCycle(t time.Time) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(time.Since(start).Microseconds()) / 1000
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(time.Since(start).Microseconds()) / 1000
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the stores on an interval until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, db *sql.DB, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				cancel()
			}
		}
	}()
}

func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SQLiteOK || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
