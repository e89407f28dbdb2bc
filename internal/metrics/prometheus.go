package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds the service metrics
type Collector struct {
	// Order metrics
	OrderTransitions *prometheus.CounterVec

	// Capacity metrics
	CapacityRejections *prometheus.CounterVec
	CapacityCommitted  *prometheus.GaugeVec

	// Pool metrics
	PoolOperations *prometheus.CounterVec
	PoolBalance    *prometheus.GaugeVec

	// Outbox metrics
	OutboxDispatched *prometheus.CounterVec
	OutboxBacklog    prometheus.Gauge

	// Reconciliation metrics
	Verifications *prometheus.CounterVec

	// API metrics
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	RateLimitHits     prometheus.Counter

	// WebSocket metrics
	WSConnectionsActive prometheus.Gauge
}

// GetCollector returns the singleton metrics collector
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
		collector.registerAll()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order state machine operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	c.CapacityRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "capacity",
			Name:      "rejections_total",
			Help:      "Reservations refused by the capacity ledger",
		},
		[]string{"fund_id", "reason"},
	)

	c.CapacityCommitted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "simplefund",
			Subsystem: "capacity",
			Name:      "committed_quantity",
			Help:      "Committed quota quantity per fund",
		},
		[]string{"fund_id"},
	)

	c.PoolOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "pools",
			Name:      "operations_total",
			Help:      "Pool ledger mutations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	c.PoolBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "simplefund",
			Subsystem: "pools",
			Name:      "current_balance",
			Help:      "Current balance per pool",
		},
		[]string{"pool_id"},
	)

	c.OutboxDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "outbox",
			Name:      "dispatched_total",
			Help:      "Outbox event dispatch attempts by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	c.OutboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "simplefund",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Outbox events waiting for delivery",
		},
	)

	c.Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "reconcile",
			Name:      "verifications_total",
			Help:      "Settlement reference verifications by result",
		},
		[]string{"result"},
	)

	c.APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)

	c.APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simplefund",
			Subsystem: "api",
			Name:      "latency_ms",
			Help:      "HTTP request latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"method", "path"},
	)

	c.RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "simplefund",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	c.WSConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "simplefund",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Open websocket connections",
		},
	)

	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(
		c.OrderTransitions,
		c.CapacityRejections,
		c.CapacityCommitted,
		c.PoolOperations,
		c.PoolBalance,
		c.OutboxDispatched,
		c.OutboxBacklog,
		c.Verifications,
		c.APIRequestsTotal,
		c.APIRequestLatency,
		c.RateLimitHits,
		c.WSConnectionsActive,
	)
}

// Handler returns the HTTP handler for the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

func (c *Collector) RecordOrderTransition(operation string, err error) {
	c.OrderTransitions.WithLabelValues(operation, outcome(err)).Inc()
}

func (c *Collector) RecordCapacityRejection(fundID uint, reason string) {
	c.CapacityRejections.WithLabelValues(strconv.FormatUint(uint64(fundID), 10), reason).Inc()
}

func (c *Collector) RecordCommitted(fundID uint, committed int64) {
	c.CapacityCommitted.WithLabelValues(strconv.FormatUint(uint64(fundID), 10)).Set(float64(committed))
}

func (c *Collector) RecordPoolOperation(kind string, err error) {
	c.PoolOperations.WithLabelValues(kind, outcome(err)).Inc()
}

func (c *Collector) RecordPoolBalance(poolID uint, balance float64) {
	c.PoolBalance.WithLabelValues(strconv.FormatUint(uint64(poolID), 10)).Set(balance)
}

func (c *Collector) RecordOutboxDispatch(eventType string, err error) {
	c.OutboxDispatched.WithLabelValues(eventType, outcome(err)).Inc()
}

func (c *Collector) RecordVerification(result string) {
	c.Verifications.WithLabelValues(result).Inc()
}

func (c *Collector) RecordAPIRequest(method, path, status string, latencyMs float64) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(latencyMs)
}

func (c *Collector) RecordWSConnection(delta int) {
	c.WSConnectionsActive.Add(float64(delta))
}

// Middleware records request counts and latency per route template
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		timer := NewTimer()
		ctx.Next()
		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		c.RecordAPIRequest(ctx.Request.Method, path, strconv.Itoa(ctx.Writer.Status()), timer.ElapsedMs())
	}
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
