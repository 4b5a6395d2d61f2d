// Package metrics is the daemon's shared Prometheus registry: the
// scheduler (which also counts store commits and conflicts) and the
// worker fabric register their gauges/counters against one Registry
// instance so a single /metrics
// route (server/admin.go) reports every subsystem, instead of each
// package standing up its own default registerer (grounded on the
// worker package's existing per-Hub registerer pattern in
// worker/hub.go, generalized to the whole daemon).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters/gauges C6 (scheduler) and C5's GC pass
// expose. C8 (worker fabric) registers its own metrics directly
// against Registerer() via worker.WithRegisterer.
type Registry struct {
	reg *prometheus.Registry

	GCCycles        prometheus.Counter
	GCObjectsFreed  prometheus.Counter
	CommitsTotal    prometheus.Counter
	CommitConflicts prometheus.Counter
	TaskQueueDepth  prometheus.Gauge
}

// New creates a Registry with its own prometheus.Registry, so multiple
// Registries (one per test, or per in-process Server) never collide
// registering the same metric names against the global default
// registerer.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		GCCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "moocore_gc_cycles_total",
			Help: "Anonymous-object mark-sweep cycles run.",
		}),
		GCObjectsFreed: factory.NewCounter(prometheus.CounterOpts{
			Name: "moocore_gc_objects_freed_total",
			Help: "Anonymous objects recycled across all GC cycles.",
		}),
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "moocore_store_commits_total",
			Help: "Task transactions committed successfully.",
		}),
		CommitConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "moocore_store_commit_conflicts_total",
			Help: "Task transactions that hit a write-write conflict at commit (retried, or killed once retries run out).",
		}),
		TaskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moocore_task_queue_depth",
			Help: "Tasks currently queued for execution.",
		}),
	}
}

// Registerer exposes the underlying prometheus.Registry so other
// packages (worker.WithRegisterer) can register their own metrics into
// the same registry instead of standing up a second one.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
