// Package metrics exposes the daemon's prometheus gauges and counters,
// grounded on warren's pkg/metrics package-level collector pattern: plain
// vars registered in init(), served over promhttp on the internal mux
// alongside the callback receiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SlotsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orcd_slots_idle",
			Help: "Number of worker slots currently idle",
		},
	)

	TasksClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orcd_tasks_claimed_total",
			Help: "Total number of tasks claimed by the scheduler loop",
		},
	)

	MergeTestFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orcd_merge_test_failures_total",
			Help: "Total number of merge_and_test failures",
		},
	)

	RecoveredTasksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orcd_recovered_tasks_total",
			Help: "Total number of in-flight tasks reset to pending during startup recovery",
		},
	)
)

func init() {
	prometheus.MustRegister(SlotsIdle)
	prometheus.MustRegister(TasksClaimedTotal)
	prometheus.MustRegister(MergeTestFailuresTotal)
	prometheus.MustRegister(RecoveredTasksTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
