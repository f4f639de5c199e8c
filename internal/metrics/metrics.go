package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symptomtracker_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symptomtracker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HydrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "symptomtracker_hydration_duration_seconds",
			Help:    "Time spent building the working-memory snapshot.",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkflowsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symptomtracker_workflows_dispatched_total",
			Help: "Messages dispatched per classified intent.",
		},
		[]string{"intent"},
	)

	WorkflowFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symptomtracker_workflow_failures_total",
			Help: "Workflow executions that aborted with an error.",
		},
		[]string{"intent"},
	)

	EpisodesLinkedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symptomtracker_episodes_linked_total",
			Help: "Symptom mentions linked to episodes, by outcome.",
		},
		[]string{"outcome"}, // created, updated, resolved
	)

	EmbeddingDimensionMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "symptomtracker_embedding_dimension_mismatch_total",
			Help: "Embeddings rejected because of a wrong vector length.",
		},
	)

	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "symptomtracker_search_results",
			Help:    "Number of messages returned by semantic search.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	StatusPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "symptomtracker_status_publish_failures_total",
			Help: "Status notifications that could not be delivered.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HydrationDuration,
		WorkflowsDispatchedTotal,
		WorkflowFailuresTotal,
		EpisodesLinkedTotal,
		EmbeddingDimensionMismatchTotal,
		SearchResults,
		StatusPublishFailuresTotal,
	)
}
