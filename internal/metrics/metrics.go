// Package metrics registers the Prometheus metrics shared by the ingestion
// pipeline and the query engine. Collectors are created against an injectable
// registry so unit tests stay hermetic; the process-wide instance lives on
// the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors owned by librarian.
type Metrics struct {
	// DocsProcessedTotal counts documents observed by the pipeline,
	// partitioned by outcome: "changed", "unchanged", or "error".
	DocsProcessedTotal *prometheus.CounterVec

	// ChunksEmbeddedTotal counts chunks embedded, partitioned by modality.
	ChunksEmbeddedTotal *prometheus.CounterVec

	// FetchErrorsTotal counts item-level acquisition failures, partitioned
	// by source kind.
	FetchErrorsTotal *prometheus.CounterVec

	// EmbedBatchSeconds records the latency of each embed batch RPC.
	EmbedBatchSeconds prometheus.Histogram

	// QuerySeconds records end-to-end hybrid query latency.
	QuerySeconds prometheus.Histogram
}

// New registers all collectors against reg and returns the populated
// Metrics. promauto.With(reg) is used so each call registers into the
// provided registry rather than the global default.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DocsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "ingest",
			Name:      "docs_processed_total",
			Help:      "Documents observed by the ingestion pipeline, partitioned by outcome.",
		}, []string{"outcome"}),

		ChunksEmbeddedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "ingest",
			Name:      "chunks_embedded_total",
			Help:      "Chunks embedded and upserted into the vector store, partitioned by modality.",
		}, []string{"modality"}),

		FetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "fetch",
			Name:      "errors_total",
			Help:      "Item-level acquisition failures, partitioned by source kind.",
		}, []string{"kind"}),

		EmbedBatchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "librarian",
			Subsystem: "embed",
			Name:      "batch_seconds",
			Help:      "Latency of embed batch requests against the sidecar.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		QuerySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "librarian",
			Subsystem: "query",
			Name:      "seconds",
			Help:      "End-to-end hybrid query latency including rerank.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// Default is the process-wide Metrics instance, registered against the
// default Prometheus registry.
var Default = New(prometheus.DefaultRegisterer)
