// ABOUTME: Prometheus collectors for runs, tool calls, qualification and channel traffic
// ABOUTME: Registered once at package init via promauto; served by Handler on /metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lead_gateway"

var (
	// runsTotal counts runs by the status they ended in.
	//
	// Labels:
	//   - status: "completed", "failed", "cancelled", "expired"
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Assistant runs by terminal status.",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from run creation to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)

	runPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "polls",
			Help:      "Status reads issued per run.",
			Buckets:   prometheus.LinearBuckets(1, 3, 10),
		},
	)

	// toolCallsTotal counts tool dispatches.
	//
	// Labels:
	//   - tool: registered tool name, or "unsupported"
	//   - outcome: "ok", "error", "timeout", "unsupported"
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool calls dispatched on behalf of the assistant.",
		},
		[]string{"tool", "outcome"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Duration of a single tool handler invocation.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"tool"},
	)

	qualificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qualification",
			Name:      "evaluations_total",
			Help:      "Qualification evaluations by signal source and readiness.",
		},
		[]string{"source", "ready"},
	)

	webhookMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "messages_total",
			Help:      "Inbound channel messages by handling outcome.",
		},
		[]string{"outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Outbound channel sends by outcome.",
		},
		[]string{"outcome"},
	)
)

// ObserveRun records a run that reached a terminal status.
func ObserveRun(status string, elapsed time.Duration, polls int) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	runPolls.Observe(float64(polls))
}

// ObserveToolCall records one tool dispatch.
func ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	if outcome != "unsupported" {
		toolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

// ObserveQualification records where the signals came from and whether the lead is ready.
func ObserveQualification(source string, ready bool) {
	r := "false"
	if ready {
		r = "true"
	}
	qualificationsTotal.WithLabelValues(source, r).Inc()
}

// ObserveWebhookMessage records how an inbound channel message was handled.
func ObserveWebhookMessage(outcome string) {
	webhookMessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelivery records an outbound send attempt.
func ObserveDelivery(outcome string) {
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
