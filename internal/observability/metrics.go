// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Session metrics
	TicksProcessed  prometheus.Counter
	TicksSkipped    *prometheus.CounterVec
	SessionsSettled *prometheus.CounterVec
	CurrentLuck     prometheus.Gauge
	CurrentPnLUSD   prometheus.Gauge

	// Exchange metrics
	OrdersPlaced   *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	SignRequests   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	// Price feed metrics
	QuotesServed   *prometheus.CounterVec
	FeedReconnects prometheus.Counter
	LastPrice      prometheus.Gauge

	// Reward metrics
	CrownsAwarded   *prometheus.CounterVec
	CrownPromotions prometheus.Counter

	// Database metrics
	DBQueryErrors *prometheus.CounterVec

	// Health metrics
	LastSettlement prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "perp_ritual"
	}

	return &Metrics{
		TicksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ticks_processed_total",
			Help:      "Total number of price ticks evaluated against session boundaries",
		}),
		TicksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ticks_skipped_total",
			Help:      "Total number of ticks skipped by reason",
		}, []string{"reason"}),
		SessionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "settled_total",
			Help:      "Total number of sessions settled by terminal status",
		}, []string{"status"}),
		CurrentLuck: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "current_luck",
			Help:      "Latest luck value of the running session",
		}),
		CurrentPnLUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "current_pnl_usd",
			Help:      "Unrealized profit of the running session in USD",
		}),

		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "orders_placed_total",
			Help:      "Total number of orders submitted by kind",
		}, []string{"kind"}),
		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "orders_rejected_total",
			Help:      "Total number of order rejections by kind",
		}, []string{"kind"}),
		SignRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "sign_requests_total",
			Help:      "Total number of wallet signing requests by result",
		}, []string{"result"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "request_latency_seconds",
			Help:      "Exchange HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		QuotesServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "quotes_total",
			Help:      "Total number of quotes served by source",
		}, []string{"source"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "ws_reconnects_total",
			Help:      "Total number of websocket feed reconnects",
		}),
		LastPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "last_price",
			Help:      "Latest observed reference price",
		}),

		CrownsAwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "crowns_awarded_total",
			Help:      "Total number of crown units awarded by tier",
		}, []string{"tier"}),
		CrownPromotions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "promotions_total",
			Help:      "Total number of three-for-one tier promotions",
		}),

		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSettlement: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_settlement_timestamp",
			Help:      "Unix timestamp of the last session settlement",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTick records one evaluated price tick with the session's
// current luck and unrealized profit.
func RecordTick(price, luck, pnlUSD float64) {
	DefaultMetrics.TicksProcessed.Inc()
	DefaultMetrics.LastPrice.Set(price)
	DefaultMetrics.CurrentLuck.Set(luck)
	DefaultMetrics.CurrentPnLUSD.Set(pnlUSD)
}

// RecordTickSkipped records a dropped tick.
func RecordTickSkipped(reason string) {
	DefaultMetrics.TicksSkipped.WithLabelValues(reason).Inc()
}

// RecordSettlement records a session reaching a terminal status.
func RecordSettlement(status string, atUnix int64) {
	DefaultMetrics.SessionsSettled.WithLabelValues(status).Inc()
	DefaultMetrics.LastSettlement.Set(float64(atUnix))
}

// RecordOrder records an order submission outcome.
func RecordOrder(kind string, rejected bool) {
	DefaultMetrics.OrdersPlaced.WithLabelValues(kind).Inc()
	if rejected {
		DefaultMetrics.OrdersRejected.WithLabelValues(kind).Inc()
	}
}

// RecordSignRequest records a wallet signing attempt.
func RecordSignRequest(result string) {
	DefaultMetrics.SignRequests.WithLabelValues(result).Inc()
}

// RecordQuote records a served quote by source.
func RecordQuote(source string) {
	DefaultMetrics.QuotesServed.WithLabelValues(source).Inc()
}

// RecordFeedReconnect records a websocket feed reconnect.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordAward records a crown award and its promotion count.
func RecordAward(tier string, units, promotions int) {
	DefaultMetrics.CrownsAwarded.WithLabelValues(tier).Add(float64(units))
	for i := 0; i < promotions; i++ {
		DefaultMetrics.CrownPromotions.Inc()
	}
}

// RecordDBError records a database query error.
func RecordDBError(database, operation string) {
	DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
}
