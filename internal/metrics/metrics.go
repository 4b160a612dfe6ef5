// Package metrics exports Prometheus metrics for the debug agent: HTTP
// and WebSocket traffic, the debugger domain (scripts parsed, pauses,
// breakpoints, console traffic, CPU profiles), and storage health.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every Prometheus collector the debug agent exports.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// WebSocket session metrics
	SessionsGauge        prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec
	WebSocketMessageSize   *prometheus.HistogramVec
	WebSocketLatency       *prometheus.HistogramVec

	// Debugger domain metrics
	ScriptsParsedTotal   prometheus.Counter
	PausesTotal          *prometheus.CounterVec
	ResumesTotal         prometheus.Counter
	BreakpointsHitTotal  prometheus.Counter
	BreakpointsSetTotal  prometheus.Counter
	ConsoleMessagesTotal *prometheus.CounterVec
	ProfilesRecordedTotal prometheus.Counter
	ProfileDuration      prometheus.Histogram

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBQueryDuration     *prometheus.HistogramVec
	DBErrorsTotal       *prometheus.CounterVec

	// System metrics
	BuildInfo    *prometheus.GaugeVec
	StartupTime  prometheus.Gauge
	GoroutineNum prometheus.Gauge
}

// Get returns the process-wide Metrics singleton, registering every
// collector with the default Prometheus registry on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debugagent",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debugagent",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"endpoint"},
	)

	m.SessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "websocket",
			Name:      "sessions",
			Help:      "Current number of attached debugger WebSocket sessions",
		},
	)

	m.WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total number of WebSocket messages by CDP method and direction",
		},
		[]string{"method", "direction"},
	)

	m.WebSocketMessageSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debugagent",
			Subsystem: "websocket",
			Name:      "message_size_bytes",
			Help:      "WebSocket message size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 10),
		},
		[]string{"direction"},
	)

	m.WebSocketLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debugagent",
			Subsystem: "websocket",
			Name:      "dispatch_latency_seconds",
			Help:      "Time to dispatch one inbound CDP method call",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)

	m.ScriptsParsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "debugger",
			Name:      "scripts_parsed_total",
			Help:      "Total number of scripts announced via Debugger.scriptParsed",
		},
	)

	m.PausesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "debugger",
			Name:      "pauses_total",
			Help:      "Total number of execution pauses by reason",
		},
		[]string{"reason"},
	)

	m.ResumesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "debugger",
			Name:      "resumes_total",
			Help:      "Total number of times execution resumed from a pause",
		},
	)

	m.BreakpointsHitTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "debugger",
			Name:      "breakpoints_hit_total",
			Help:      "Total number of times a set breakpoint paused execution",
		},
	)

	m.BreakpointsSetTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "debugger",
			Name:      "breakpoints_set_total",
			Help:      "Total number of Debugger.setBreakpointByUrl calls",
		},
	)

	m.ConsoleMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "debugger",
			Name:      "console_messages_total",
			Help:      "Total number of console messages emitted, by level",
		},
		[]string{"level"},
	)

	m.ProfilesRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "profiler",
			Name:      "profiles_recorded_total",
			Help:      "Total number of completed CPU profiling sessions",
		},
	)

	m.ProfileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "debugagent",
			Subsystem: "profiler",
			Name:      "profile_duration_seconds",
			Help:      "Wall-clock duration of a CPU profiling session",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	m.DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "database",
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)

	m.DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "database",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)

	m.DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "debugagent",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation", "table"},
	)

	m.DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "database",
			Name:      "errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)

	m.BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "build",
			Name:      "info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_date"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "debugagent",
			Subsystem: "server",
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration, responseSize int) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(endpoint).Observe(float64(responseSize))
}

// RecordWebSocketMessage records one CDP message crossing the wire.
func (m *Metrics) RecordWebSocketMessage(method, direction string, size int) {
	m.WebSocketMessagesTotal.WithLabelValues(method, direction).Inc()
	m.WebSocketMessageSize.WithLabelValues(direction).Observe(float64(size))
}

// RecordDispatchLatency records how long one inbound method call took to
// handle, from read to response write.
func (m *Metrics) RecordDispatchLatency(method string, duration time.Duration) {
	m.WebSocketLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordScriptParsed records one Debugger.scriptParsed event.
func (m *Metrics) RecordScriptParsed() {
	m.ScriptsParsedTotal.Inc()
}

// RecordPause records one execution pause, tagged with why it paused
// ("breakpoint", "step", "exception").
func (m *Metrics) RecordPause(reason string) {
	m.PausesTotal.WithLabelValues(reason).Inc()
	if reason == "breakpoint" {
		m.BreakpointsHitTotal.Inc()
	}
}

// RecordResume records execution resuming from a pause.
func (m *Metrics) RecordResume() {
	m.ResumesTotal.Inc()
}

// RecordBreakpointSet records a Debugger.setBreakpointByUrl call.
func (m *Metrics) RecordBreakpointSet() {
	m.BreakpointsSetTotal.Inc()
}

// RecordConsoleMessage records one console message by level.
func (m *Metrics) RecordConsoleMessage(level string) {
	m.ConsoleMessagesTotal.WithLabelValues(level).Inc()
}

// RecordProfile records one completed CPU profiling session.
func (m *Metrics) RecordProfile(duration time.Duration) {
	m.ProfilesRecordedTotal.Inc()
	m.ProfileDuration.Observe(duration.Seconds())
}

// RecordDBQuery records a database query.
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		m.DBErrorsTotal.WithLabelValues(operation, "query_error").Inc()
	}
}

// SetBuildInfo sets build information.
func (m *Metrics) SetBuildInfo(version, commit, buildDate string) {
	m.BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
