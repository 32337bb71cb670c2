package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platformenv_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platformenv_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Provisioning metrics
	provisionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platformenv_provision_runs_total",
			Help: "Total number of provisioning runs",
		},
		[]string{"hosting"}, // enabled, disabled
	)

	provisionStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platformenv_provision_steps_total",
			Help: "Total number of provisioning steps by outcome",
		},
		[]string{"step", "outcome"}, // applied, skipped, failed
	)

	provisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platformenv_provision_duration_seconds",
			Help:    "Provisioning run duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
	)

	variablesMerged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platformenv_variables_merged",
			Help: "Number of platform variables merged into the environment by the last run",
		},
	)

	hostingEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platformenv_hosting_enabled",
			Help: "1 when the process runs on the hosting platform",
		},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platformenv_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platformenv_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platformenv_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// RecordProvisionRun records one Initialize call
func RecordProvisionRun(enabled bool, duration time.Duration) {
	label := "disabled"
	value := 0.0
	if enabled {
		label = "enabled"
		value = 1
	}
	provisionRunsTotal.WithLabelValues(label).Inc()
	hostingEnabled.Set(value)
	provisionDuration.Observe(duration.Seconds())
}

// RecordProvisionStep counts a step outcome
func RecordProvisionStep(step, outcome string) {
	provisionStepsTotal.WithLabelValues(step, outcome).Inc()
}

// SetVariablesMerged records how many variables the last merge wrote
func SetVariablesMerged(count int) {
	variablesMerged.Set(float64(count))
}

// UpdateDatabaseMetrics updates database connection metrics
func UpdateDatabaseMetrics(active, idle int) {
	dbConnectionsActive.Set(float64(active))
	dbConnectionsIdle.Set(float64(idle))
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
