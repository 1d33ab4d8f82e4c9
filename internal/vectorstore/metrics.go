package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider label values.
const (
	providerMemory   = "memory"
	providerQdrant   = "qdrant"
	providerChromem  = "chromem"
	providerPgvector = "pgvector"
)

// Operation label values.
const (
	opInsert = "insert"
	opSearch = "search"
	opDelete = "delete"
	opReset  = "reset"
	opCount  = "count"
	opHealth = "health"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rag",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations by provider, operation, and result.",
		},
		[]string{"provider", "operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rag",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	documentsStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "vectorstore",
			Name:      "documents_stored",
			Help:      "Number of documents currently stored, by provider.",
		},
		[]string{"provider"},
	)

	backendUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rag",
			Subsystem: "vectorstore",
			Name:      "backend_up",
			Help:      "Whether the vector store backend is reachable (1) or not (0).",
		},
		[]string{"provider"},
	)
)

// recordOp observes a completed store operation. Invoke with defer so the
// error pointer is dereferenced after the operation finishes:
//
//	defer recordOp(providerQdrant, opSearch, time.Now(), &err)
func recordOp(provider, operation string, start time.Time, errp *error) {
	result := "success"
	if errp != nil && *errp != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(provider, operation, result).Inc()
	operationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// setDocumentCount updates the stored-documents gauge for a provider.
func setDocumentCount(provider string, count int) {
	documentsStored.WithLabelValues(provider).Set(float64(count))
}

// setBackendHealth records backend reachability for a provider.
func setBackendHealth(provider string, healthy bool) {
	up := 0.0
	if healthy {
		up = 1.0
	}
	backendUp.WithLabelValues(provider).Set(up)
}
