// Package metrics exposes Prometheus collectors for reconciliation runs and
// the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inboxbench"

var (
	// Actions executed, by type and outcome (applied, failed, skipped)
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Classification actions processed by the executor",
		},
		[]string{"workspace", "action", "outcome"},
	)

	warmupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warmup_failures_total",
			Help:      "Warm-up enable calls that failed after a successful tag update",
		},
		[]string{"workspace"},
	)

	// Campaign membership changes, by kind (added, removed, failed)
	campaignChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_changes_total",
			Help:      "Campaign membership additions, removals and failures",
		},
		[]string{"workspace", "change"},
	)

	syncRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_rows_total",
			Help:      "Snapshot rows written to or dropped by the state store",
		},
		[]string{"workspace", "result"},
	)

	accounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Accounts per classification after the latest run",
		},
		[]string{"workspace", "status"},
	)

	sendingVolume = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sending_volume",
			Help:      "Total daily limit of accounts classified Sending",
		},
		[]string{"workspace"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by outcome",
		},
		[]string{"workspace", "outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of reconciliation runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"workspace"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func ObserveAction(workspace, action, outcome string) {
	actionsTotal.WithLabelValues(workspace, action, outcome).Inc()
}

func ObserveWarmupFailures(workspace string, n int) {
	warmupFailures.WithLabelValues(workspace).Add(float64(n))
}

func ObserveCampaign(workspace string, added, removed, failed int) {
	campaignChanges.WithLabelValues(workspace, "added").Add(float64(added))
	campaignChanges.WithLabelValues(workspace, "removed").Add(float64(removed))
	campaignChanges.WithLabelValues(workspace, "failed").Add(float64(failed))
}

func ObserveSync(workspace string, written, total int) {
	syncRows.WithLabelValues(workspace, "written").Add(float64(written))
	syncRows.WithLabelValues(workspace, "failed").Add(float64(total - written))
}

// SetFleet records the per-status account counts and the sending volume.
func SetFleet(workspace string, counts map[string]int, volume int) {
	for status, n := range counts {
		accounts.WithLabelValues(workspace, status).Set(float64(n))
	}
	sendingVolume.WithLabelValues(workspace).Set(float64(volume))
}

// ObserveRun records a finished run. outcome is completed, locked or failed.
func ObserveRun(workspace, outcome string, d time.Duration) {
	runsTotal.WithLabelValues(workspace, outcome).Inc()
	if outcome == "completed" {
		runDuration.WithLabelValues(workspace).Observe(d.Seconds())
	}
}

// Middleware records request counts and latencies. The chi route pattern is
// used as the route label so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "route": route, "status": strconv.Itoa(status)}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
