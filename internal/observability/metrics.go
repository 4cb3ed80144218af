package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradechat_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradechat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradechat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradechat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradechat_messages_sent_total",
			Help: "Chat send attempts by result.",
		},
		[]string{"result"},
	)
	mirrorWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradechat_mirror_write_failures_total",
			Help: "Best-effort backend mirror writes that failed.",
		},
	)
	pagesLoadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradechat_chat_pages_loaded_total",
			Help: "Older-message pages fetched from the realtime store.",
		},
	)
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradechat_chat_snapshots_total",
			Help: "Live window snapshots delivered, by outcome.",
		},
		[]string{"outcome"},
	)
	purchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradechat_purchases_total",
			Help: "Purchase orchestrations by result.",
		},
		[]string{"result"},
	)
	topUpOrdersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradechat_topup_orders_total",
			Help: "Top-up orders created through the payment gateway.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradechat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesSentTotal,
		mirrorWriteFailuresTotal,
		pagesLoadedTotal,
		snapshotsTotal,
		purchasesTotal,
		topUpOrdersTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string)       { wsActiveConnections.WithLabelValues(kind).Inc() }
func DecWSActive(kind string)       { wsActiveConnections.WithLabelValues(kind).Dec() }
func IncWSEvent(kind, event string) { wsEventsTotal.WithLabelValues(kind, event).Inc() }
func IncMessageSend(result string)  { messagesSentTotal.WithLabelValues(result).Inc() }
func IncMirrorWriteFailure()        { mirrorWriteFailuresTotal.Inc() }
func IncPageLoaded()                { pagesLoadedTotal.Inc() }
func IncSnapshot(outcome string)    { snapshotsTotal.WithLabelValues(outcome).Inc() }
func IncPurchase(result string)     { purchasesTotal.WithLabelValues(result).Inc() }
func IncTopUpOrder()                { topUpOrdersTotal.Inc() }
func IncAMQPPublishError()          { amqpPublishErrorsTotal.Inc() }
