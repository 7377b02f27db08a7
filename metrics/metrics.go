package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// OverlaysRendered counts successfully annotated canvases, screen and
	// export paths combined.
	OverlaysRendered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anomaly",
		Subsystem: "report",
		Name:      "overlays_rendered_total",
		Help:      "Total number of annotated overlay canvases rendered.",
	})

	// RenderFailures counts image loads or annotations that degraded to a
	// placeholder or plain image.
	RenderFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anomaly",
		Subsystem: "report",
		Name:      "render_failures_total",
		Help:      "Total number of overlay renders that degraded to a placeholder or unannotated image.",
	})

	// ReportsCompiled counts completed HTML compilations.
	ReportsCompiled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anomaly",
		Subsystem: "report",
		Name:      "reports_compiled_total",
		Help:      "Total number of HTML report documents assembled.",
	})

	// CompileDurationSeconds is end-to-end report compilation time,
	// including every image load and render.
	CompileDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "anomaly",
		Subsystem: "report",
		Name:      "compile_duration_seconds",
		Help:      "End-to-end time to compile one HTML report.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	})

	// ExportsTotal counts export operations by kind and outcome.
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anomaly",
		Subsystem: "report",
		Name:      "exports_total",
		Help:      "Total number of export operations, labeled by kind (html|pdf) and result.",
	}, []string{"kind", "result"})
)

// Register registers all metrics with the default registry. Safe to call
// more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			OverlaysRendered,
			RenderFailures,
			ReportsCompiled,
			CompileDurationSeconds,
			ExportsTotal,
		)
	})
}
