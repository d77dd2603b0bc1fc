// Package metrics defines Prometheus metrics for the orchestration server.
//
// Metric naming follows Prometheus conventions: a cascade_ prefix for all
// custom metrics, a _total suffix for counters, and a _seconds suffix for
// duration histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsByStatus gauges the current count of jobs in each status, per
	// workspace.
	JobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_jobs_by_status",
			Help: "Current number of jobs by workspace and status.",
		},
		[]string{"workspace", "status"},
	)

	// ClaimsTotal counts successful fresh claims.
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_claims_total",
			Help: "Total successful job claims by workspace.",
		},
		[]string{"workspace"},
	)

	// ReclaimsTotal counts stale-lease reclaims.
	ReclaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_reclaims_total",
			Help: "Total stale-claim reclaims by workspace.",
		},
		[]string{"workspace"},
	)

	// ProofGateRejectionsTotal counts DONE transitions rejected by the proof
	// gate for lacking a qualifying ref.
	ProofGateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_proof_gate_rejections_total",
			Help: "Total completions rejected by the proof gate.",
		},
		[]string{"workspace"},
	)

	// CascadeEscalationsTotal counts cascade sessions that reached the
	// Escalated phase, by reason.
	CascadeEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_escalations_total",
			Help: "Total cascade sessions escalated, by reason.",
		},
		[]string{"reason"},
	)

	// RadarAttentionRows gauges the number of rows a Radar query returned
	// that carried at least one attention signal.
	RadarAttentionRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_radar_attention_rows",
			Help: "Most recent Radar query's count of rows needing attention, by workspace.",
		},
		[]string{"workspace"},
	)

	// StoreTxDurationSeconds histograms job-store transaction latency by
	// operation.
	StoreTxDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_store_tx_duration_seconds",
			Help:    "Job store transaction duration in seconds, by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Registry bundles this package's metrics for Handler/test isolation
// rather than registering onto prometheus' global DefaultRegisterer,
// since multiple Store instances (as in tests) must not collide.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates and registers this package's metric families.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		JobsByStatus,
		ClaimsTotal,
		ReclaimsTotal,
		ProofGateRejectionsTotal,
		CascadeEscalationsTotal,
		RadarAttentionRows,
		StoreTxDurationSeconds,
	)
	return &Registry{reg: reg}
}

// Handler serves the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordClaim records a successful claim or reclaim.
func RecordClaim(workspace string, reclaimed bool) {
	if reclaimed {
		ReclaimsTotal.WithLabelValues(workspace).Inc()
		return
	}
	ClaimsTotal.WithLabelValues(workspace).Inc()
}

// RecordProofGateRejection records a completion rejected for lacking a
// qualifying proof ref.
func RecordProofGateRejection(workspace string) {
	ProofGateRejectionsTotal.WithLabelValues(workspace).Inc()
}

// RecordEscalation records a cascade session reaching Escalated.
func RecordEscalation(reason string) {
	CascadeEscalationsTotal.WithLabelValues(reason).Inc()
}

// SetJobsByStatus overwrites the current per-status gauge for a workspace.
func SetJobsByStatus(workspace string, counts map[string]int) {
	for status, n := range counts {
		JobsByStatus.WithLabelValues(workspace, status).Set(float64(n))
	}
}

// SetRadarAttentionRows records the most recent Radar query's attention
// row count for a workspace.
func SetRadarAttentionRows(workspace string, n int) {
	RadarAttentionRows.WithLabelValues(workspace).Set(float64(n))
}
