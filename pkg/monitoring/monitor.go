package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "test_sessions_active",
			Help: "Number of test sessions currently in progress",
		},
	)

	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_sessions_finished_total",
			Help: "Finished test sessions by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	AnswerUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_image_uploads_total",
			Help: "Answer image uploads by result",
		},
		[]string{"result"},
	)

	DocumentLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_document_loads_total",
			Help: "Test document load attempts by result (loaded, failed, unavailable, fallback)",
		},
		[]string{"result"},
	)

	SessionSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "test_session_ws_subscribers",
			Help: "Number of open session WebSocket connections",
		},
	)

	SessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_session_events_total",
			Help: "Session events pushed to WebSocket subscribers",
		},
		[]string{"type"},
	)

	registerOnce sync.Once
)

// Init 注册全部指标，重复调用安全
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			ActiveSessions,
			SessionsFinished,
			AnswerUploads,
			DocumentLoads,
			SessionSubscribers,
			SessionEvents,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
