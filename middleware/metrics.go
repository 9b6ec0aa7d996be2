package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	stockMovementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_movements_total",
			Help: "Total number of committed stock movements",
		},
		[]string{"movement_type"},
	)

	lowStockWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_low_warnings_total",
			Help: "Total number of movements leaving a product at or below its minimum",
		},
		[]string{"product_id"},
	)

	reconcilerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_reconciler_outcomes_total",
			Help: "Per-item outcomes of order events applied to the stock ledger",
		},
		[]string{"event_type", "outcome"},
	)

	rejectedEnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_envelopes_rejected_total",
			Help: "Total number of consumed envelopes that could not be decoded or are of an unsupported version",
		},
		[]string{"topic"},
	)

	outboxPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_outbox_published_total",
			Help: "Outbox rows handed to the event log",
		},
		[]string{"result"},
	)

	stockFollowUpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_stock_followups_total",
			Help: "Stock follow-up events recorded against orders",
		},
		[]string{"event_type"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(stockMovementsTotal)
	prometheus.MustRegister(lowStockWarningsTotal)
	prometheus.MustRegister(reconcilerOutcomesTotal)
	prometheus.MustRegister(rejectedEnvelopesTotal)
	prometheus.MustRegister(outboxPublishedTotal)
	prometheus.MustRegister(stockFollowUpsTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordStockMovement(movementType string) {
	stockMovementsTotal.WithLabelValues(movementType).Inc()
}

func RecordLowStock(productID int64) {
	lowStockWarningsTotal.WithLabelValues(strconv.FormatInt(productID, 10)).Inc()
}

func RecordReconcilerOutcome(eventType, outcome string) {
	reconcilerOutcomesTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordRejectedEnvelope(topic string) {
	rejectedEnvelopesTotal.WithLabelValues(topic).Inc()
}

func RecordOutboxPublish(result string) {
	outboxPublishedTotal.WithLabelValues(result).Inc()
}

func RecordStockFollowUp(eventType string) {
	stockFollowUpsTotal.WithLabelValues(eventType).Inc()
}
