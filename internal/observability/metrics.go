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
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat backend.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages created and deleted, by thread kind.",
		},
		[]string{"thread", "op"},
	)
	pointerUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_pointer_updates_total",
			Help: "Last-message pointer writes, by thread kind and outcome.",
		},
		[]string{"thread", "op"},
	)
	pushSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_sends_total",
			Help: "Push notification attempts, by provider and result.",
		},
		[]string{"provider", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		messagesTotal,
		pointerUpdatesTotal,
		pushSendsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// IncMessage counts a message lifecycle event. thread is "direct" or "group", op "created" or "deleted".
func IncMessage(thread, op string) {
	messagesTotal.WithLabelValues(thread, op).Inc()
}

// IncPointerUpdate counts a pointer write: "set", "reassigned" or "cleared".
func IncPointerUpdate(thread, op string) {
	pointerUpdatesTotal.WithLabelValues(thread, op).Inc()
}

// IncPushSend counts one push delivery attempt.
func IncPushSend(provider, result string) {
	pushSendsTotal.WithLabelValues(provider, result).Inc()
}
