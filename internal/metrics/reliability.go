package metrics

import (
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reliabilityLabelSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

	sessionReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "reliability",
			Name:      "session_reconnects_total",
			Help:      "Total number of WebSocket sessions that reconnected while a pause was outstanding",
		},
		[]string{"result"},
	)

	breakpointResolutionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debugagent",
			Subsystem: "reliability",
			Name:      "breakpoint_resolution_failures_total",
			Help:      "Total number of pending breakpoints whose target script never parsed before the session closed",
		},
		[]string{"reason"},
	)
)

// RecordSessionReconnect records a client reconnecting to the same debug
// target, tagged with whether it recovered the in-progress pause.
func RecordSessionReconnect(result string) {
	sessionReconnectsTotal.WithLabelValues(sanitizeReliabilityLabel(result, "unknown")).Inc()
}

// RecordBreakpointResolutionFailure records a pending breakpoint that
// never resolved against a parsed script.
func RecordBreakpointResolutionFailure(reason string) {
	breakpointResolutionFailuresTotal.WithLabelValues(sanitizeReliabilityLabel(reason, "unknown")).Inc()
}

func sanitizeReliabilityLabel(raw, fallback string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return fallback
	}
	s = reliabilityLabelSanitizer.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return fallback
	}
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
