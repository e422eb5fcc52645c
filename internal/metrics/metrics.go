package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trading bot.
type Metrics struct {
	CandlesTotal   *prometheus.CounterVec // labels: symbol
	TicksTotal     *prometheus.CounterVec // labels: symbol
	SignalsTotal   *prometheus.CounterVec // labels: symbol, action
	RiskRejections *prometheus.CounterVec // labels: kind
	DecisionDur    prometheus.Histogram

	// Positions
	PositionsOpened *prometheus.CounterVec // labels: symbol, side
	PositionsClosed *prometheus.CounterVec // labels: symbol, reason
	OpenPositions   prometheus.Gauge

	// Failures
	ExecutionFailures   *prometheus.CounterVec // labels: op
	OrderingViolations  *prometheus.CounterVec // labels: symbol
	PersistenceFailures *prometheus.CounterVec // labels: op
	PersistenceRetries  prometheus.Counter
	PersistencePending  prometheus.Gauge
	NotificationDrops   prometheus.Counter
	NotificationErrors  *prometheus.CounterVec // labels: sink
	LaneHalted          *prometheus.GaugeVec   // labels: symbol; 1 = halted

	// Feed
	FeedReconnects *prometheus.CounterVec // labels: symbol
	FeedGaps       *prometheus.CounterVec // labels: symbol

	StreamClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// selects the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_candles_total",
			Help: "Closed candles processed",
		}, []string{"symbol"}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_ticks_total",
			Help: "Ticks checked against stop-loss/take-profit",
		}, []string{"symbol"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_signals_total",
			Help: "Signals generated by action",
		}, []string{"symbol", "action"}),
		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_risk_rejections_total",
			Help: "Signals rejected by the risk manager",
		}, []string{"kind"}),
		DecisionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sniperbot_decision_duration_seconds",
			Help:    "Per-candle decision latency including order acknowledgment",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_positions_opened_total",
			Help: "Positions opened",
		}, []string{"symbol", "side"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_positions_closed_total",
			Help: "Positions closed by exit reason",
		}, []string{"symbol", "reason"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sniperbot_open_positions",
			Help: "Currently open positions across symbols",
		}),

		ExecutionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_execution_failures_total",
			Help: "Exchange calls that failed",
		}, []string{"op"}),
		OrderingViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_ordering_violations_total",
			Help: "Out-of-order candles that halted a lane",
		}, []string{"symbol"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_persistence_failures_total",
			Help: "Store writes that failed and were queued for retry",
		}, []string{"op"}),
		PersistenceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sniperbot_persistence_retried_writes_total",
			Help: "Queued store writes replayed successfully",
		}),
		PersistencePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sniperbot_persistence_pending_writes",
			Help: "Store writes waiting for replay",
		}),
		NotificationDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sniperbot_notification_drops_total",
			Help: "Notifications dropped on a full queue",
		}),
		NotificationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_notification_errors_total",
			Help: "Notification deliveries that failed",
		}, []string{"sink"}),
		LaneHalted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sniperbot_lane_halted",
			Help: "Symbol lane halted after an ordering violation (1=halted)",
		}, []string{"symbol"}),

		FeedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_feed_reconnects_total",
			Help: "Market data WebSocket reconnection attempts",
		}, []string{"symbol"}),
		FeedGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_feed_gaps_total",
			Help: "Candles delivered after a detected gap",
		}, []string{"symbol"}),

		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sniperbot_stream_clients",
			Help: "Connected event stream WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.TicksTotal,
		m.SignalsTotal,
		m.RiskRejections,
		m.DecisionDur,
		m.PositionsOpened,
		m.PositionsClosed,
		m.OpenPositions,
		m.ExecutionFailures,
		m.OrderingViolations,
		m.PersistenceFailures,
		m.PersistenceRetries,
		m.PersistencePending,
		m.NotificationDrops,
		m.NotificationErrors,
		m.LaneHalted,
		m.FeedReconnects,
		m.FeedGaps,
		m.StreamClients,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected map[string]bool
	LastEventTime time.Time
	StoreOK       bool
	Halted        map[string]bool
	Mode          string

	// Liveness check results
	StoreLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(mode string) *HealthStatus {
	return &HealthStatus{
		FeedConnected: make(map[string]bool),
		Halted:        make(map[string]bool),
		StoreOK:       true,
		Mode:          mode,
		StartedAt:     time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(symbol string, v bool) {
	h.mu.Lock()
	h.FeedConnected[symbol] = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetHalted(symbol string, v bool) {
	h.mu.Lock()
	h.Halted[symbol] = v
	h.mu.Unlock()
}

// CheckStore pings the database and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, sqlDB *sql.DB, interval time.Duration) {
	if sqlDB == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckStore(checkCtx, sqlDB)
				cancel()
			}
		}
	}()
}

// Report is the JSON body of /healthz.
type Report struct {
	Status         string          `json:"status"`
	Mode           string          `json:"mode"`
	Uptime         string          `json:"uptime"`
	FeedConnected  map[string]bool `json:"feed_connected"`
	HaltedLanes    []string        `json:"halted_lanes,omitempty"`
	LastEventTime  string          `json:"last_event_time"`
	EventAge       string          `json:"event_age"`
	StoreOK        bool            `json:"store_ok"`
	StoreLatencyMs float64         `json:"store_latency_ms"`
	LastCheckAt    string          `json:"last_check_at"`
}

// Report summarizes the current health. degraded when a feed is down, a
// lane is halted or the store is failing.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK

	feeds := make(map[string]bool, len(h.FeedConnected))
	for s, v := range h.FeedConnected {
		feeds[s] = v
		if !v {
			status = "degraded"
		}
	}
	var halted []string
	for s, v := range h.Halted {
		if v {
			halted = append(halted, s)
			status = "degraded"
		}
	}
	if !h.StoreOK {
		status = "degraded"
	}
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	age := ""
	if !h.LastEventTime.IsZero() {
		age = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	return Report{
		Status:         status,
		Mode:           h.Mode,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  feeds,
		HaltedLanes:    halted,
		LastEventTime:  h.LastEventTime.Format(time.RFC3339),
		EventAge:       age,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(rep)
}
