package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_ws_connections",
		Help: "Current number of active websocket connections",
	})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_rooms_active",
		Help: "Current number of rooms held in memory",
	})
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_events_total",
		Help: "Total number of inbound events dispatched, by event type",
	}, []string{"type"})
	EventErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_event_errors_total",
		Help: "Total number of rejected or failed inbound events, by error kind",
	}, []string{"kind"})
	EventsThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_events_throttled_total",
		Help: "Total number of inbound events dropped by the per-connection rate limit",
	})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_chat_messages_total",
		Help: "Total number of chat messages accepted",
	})
	BroadcastsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_broadcasts_dropped_total",
		Help: "Total number of outbound messages that could not be queued for a connection",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, RoomsActive, EventsTotal, EventErrorsTotal, EventsThrottledTotal,
		ChatMessagesTotal, BroadcastsDroppedTotal, HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
