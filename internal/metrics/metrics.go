// Package metrics exposes the engine's Prometheus instrumentation: a
// gauge tracking how much of the configured build concurrency is in
// use, and a counter of update outcomes by kind. Purely additive
// observability, not part of the engine's own decision-making —
// nothing in internal/orchestrator reads these back.
//
// Grounded on vjache-cie/cmd/cie/index.go's --metrics-addr flag
// exposing promhttp.Handler() on a dedicated mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BuildSemaphoreOccupancy tracks the number of concurrent build-tool
// invocations currently held against the configured MaxNixBuilds
// weight, so an operator graphing this against the configured max can
// see how saturated the build semaphore runs during a pass.
var BuildSemaphoreOccupancy = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "nix_update_engine",
	Name:      "build_semaphore_occupancy",
	Help:      "Number of build-tool invocations currently holding the build semaphore.",
})

// BuildSemaphoreCapacity reports the configured MaxNixBuilds ceiling,
// so occupancy can be read as a fraction without scraping config.
var BuildSemaphoreCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "nix_update_engine",
	Name:      "build_semaphore_capacity",
	Help:      "Configured maximum concurrent build-tool invocations.",
})

// Outcomes counts sources by terminal status at the end of a run.
var Outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nix_update_engine",
	Name:      "update_outcomes_total",
	Help:      "Count of source updates by terminal status (updated, error, no_change).",
}, []string{"status"})

// Register adds this package's collectors to reg. Safe to call once
// per process; registering the same collector twice panics, which is
// what callers want during startup rather than silently double
// counting.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(BuildSemaphoreOccupancy, BuildSemaphoreCapacity, Outcomes)
}

// ObserveSummary records one run's outcome counts. Accepts the raw
// counts rather than an *orchestrator.Summary so this package never
// needs to import internal/orchestrator.
func ObserveSummary(updated, errored, noChange int) {
	Outcomes.WithLabelValues("updated").Add(float64(updated))
	Outcomes.WithLabelValues("error").Add(float64(errored))
	Outcomes.WithLabelValues("no_change").Add(float64(noChange))
}
