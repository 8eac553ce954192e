package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_http_requests_total",
			Help: "Total number of REST requests issued by the chat client.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_http_request_duration_seconds",
			Help:    "REST request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_client_ws_active_connections",
			Help: "Number of open live channel connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_events_total",
			Help: "Total number of live channel lifecycle events.",
		},
		[]string{"event"},
	)
	wsFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_frames_total",
			Help: "Push frames received, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

// Frame outcomes.
const (
	FrameApplied   = "applied"
	FrameDropped   = "dropped"
	FrameMalformed = "malformed"
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		wsFramesTotal,
		amqpPublishErrorsTotal,
	)
}

// ObserveHTTPRequest records one finished REST call. status 0 means the
// request never got a response.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	httpRequestsTotal.WithLabelValues(method, route, label).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncFrame(frameType, outcome string) {
	if frameType == "" {
		frameType = "unknown"
	}
	wsFramesTotal.WithLabelValues(frameType, outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// NewMetricsRouter exposes /metrics and /healthz.
func NewMetricsRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// ServeMetrics serves the metrics router on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMetricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
