// Package metrics holds the Prometheus collectors of the orchestrator.
//
//   - cortexflow_runs_total{status}                 runs by terminal status
//   - cortexflow_stage_duration_seconds{stage}      stage invocation latency
//   - cortexflow_stage_degraded_total{stage}        stage outputs degraded by validation errors
//   - cortexflow_debate_turns_total{segment}        debate turns taken
//   - cortexflow_debate_stops_total{segment,reason} debate stop reasons
//   - cortexflow_checkpoints_total{backend}         checkpoints written
//   - cortexflow_retries_total{op}                  retries of transient failures
//   - cortexflow_risk_verdicts_total{result,reason} RiskGate verdicts
//   - cortexflow_orders_total{outcome,side}         execution outcomes
//
// Collectors are registered in init() and served by the CLI at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_runs_total",
			Help: "Runs by terminal status",
		},
		[]string{"status"},
	)

	mtxStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortexflow_stage_duration_seconds",
			Help:    "Stage invocation latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage"},
	)

	mtxStageDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_stage_degraded_total",
			Help: "Stage outputs replaced by a safe default after a validation error",
		},
		[]string{"stage"},
	)

	mtxDebateTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_debate_turns_total",
			Help: "Debate turns appended to a transcript",
		},
		[]string{"segment"},
	)

	mtxDebateStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_debate_stops_total",
			Help: "Debate segments stopped, by reason",
		},
		[]string{"segment", "reason"},
	)

	mtxCheckpoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_checkpoints_total",
			Help: "Checkpoints written",
		},
		[]string{"backend"},
	)

	mtxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_retries_total",
			Help: "Retries of transient failures",
		},
		[]string{"op"},
	)

	mtxRiskVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_risk_verdicts_total",
			Help: "RiskGate verdicts; reason is empty for accepted orders",
		},
		[]string{"result", "reason"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexflow_orders_total",
			Help: "Execution outcomes by side",
		},
		[]string{"outcome", "side"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxRuns,
		mtxStageDuration,
		mtxStageDegraded,
		mtxDebateTurns,
		mtxDebateStops,
		mtxCheckpoints,
		mtxRetries,
		mtxRiskVerdicts,
		mtxOrders,
	)
}

func Run(status string) { mtxRuns.WithLabelValues(status).Inc() }

func StageDuration(stage string, d time.Duration) {
	mtxStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func StageDegraded(stage string) { mtxStageDegraded.WithLabelValues(stage).Inc() }

func DebateTurn(segment string) { mtxDebateTurns.WithLabelValues(segment).Inc() }

func DebateStop(segment, reason string) { mtxDebateStops.WithLabelValues(segment, reason).Inc() }

func Checkpoint(backend string) { mtxCheckpoints.WithLabelValues(backend).Inc() }

// Retry matches the retry.Policy OnRetry hook.
func Retry(op string, _ int, _ error) { mtxRetries.WithLabelValues(op).Inc() }

func RiskVerdict(accepted bool, reason string) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	mtxRiskVerdicts.WithLabelValues(result, reason).Inc()
}

func Order(outcome, side string) { mtxOrders.WithLabelValues(outcome, side).Inc() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
