package observability

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matchchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchchat_messages_sent_total",
			Help: "Messages sent through the sync engine by outcome.",
		},
		[]string{"result"},
	)
	activeSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matchchat_active_subscriptions",
			Help: "Live store subscriptions held by sync engines.",
		},
		[]string{"kind"},
	)
	subscriptionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchchat_subscription_errors_total",
			Help: "Live subscriptions that stopped on a transport error.",
		},
		[]string{"kind"},
	)
	bestEffortWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchchat_best_effort_writes_total",
			Help: "Presence and typing writes by outcome.",
		},
		[]string{"kind", "result"},
	)
	storeBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matchchat_store_breaker_state",
			Help: "Document store circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchchat_ws_active_sessions",
			Help: "Number of active websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchchat_ws_events_total",
			Help: "Websocket commands received and events pushed.",
		},
		[]string{"direction", "type"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		messagesSentTotal,
		activeSubscriptions,
		subscriptionErrorsTotal,
		bestEffortWritesTotal,
		storeBreakerState,
		wsActiveSessions,
		wsEventsTotal,
	)
}

func HTTPMetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status

			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func IncMessageSent(result string) {
	messagesSentTotal.WithLabelValues(result).Inc()
}

func IncSubscriptions(kind string) {
	activeSubscriptions.WithLabelValues(kind).Inc()
}

func DecSubscriptions(kind string) {
	activeSubscriptions.WithLabelValues(kind).Dec()
}

func IncSubscriptionError(kind string) {
	subscriptionErrorsTotal.WithLabelValues(kind).Inc()
}

func IncBestEffortWrite(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	bestEffortWritesTotal.WithLabelValues(kind, result).Inc()
}

func SetBreakerState(name string, state int) {
	storeBreakerState.WithLabelValues(name).Set(float64(state))
}

func IncWSActive() {
	wsActiveSessions.Inc()
}

func DecWSActive() {
	wsActiveSessions.Dec()
}

func IncWSEvent(direction, eventType string) {
	wsEventsTotal.WithLabelValues(direction, eventType).Inc()
}
