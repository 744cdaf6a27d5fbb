package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics tracks rows flowing through the ingestion pipeline and queue consumers.
type IngestMetrics struct {
	RowsTotal             *prometheus.CounterVec
	RejectionsTotal       *prometheus.CounterVec
	BatchDuration         *prometheus.HistogramVec
	ConsumerMessagesTotal *prometheus.CounterVec
	ConsumerResubscribes  *prometheus.CounterVec
	ActiveConsumers       prometheus.Gauge
}

// NewIngestMetrics creates and registers ingestion metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := &IngestMetrics{
		RowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Total number of rows processed by the ingestion pipeline",
			},
			[]string{"kind", "outcome"}, // outcome: accepted, rejected
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rejections_total",
				Help:      "Total number of rejected rows by reason",
			},
			[]string{"kind", "reason"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "batch_duration_seconds",
				Help:      "Duration of a whole file ingestion",
				Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"kind"},
		),
		ConsumerMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Total number of row messages consumed",
			},
			[]string{"queue", "status"}, // status: accepted, rejected, requeued, malformed
		),
		ConsumerResubscribes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "resubscribes_total",
				Help:      "Total number of times a consumer subscribed again after its delivery channel closed",
			},
			[]string{"queue"},
		),
		ActiveConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "active_consumers",
				Help:      "Number of active row consumers",
			},
		),
	}

	MustRegister(
		m.RowsTotal,
		m.RejectionsTotal,
		m.BatchDuration,
		m.ConsumerMessagesTotal,
		m.ConsumerResubscribes,
		m.ActiveConsumers,
	)

	return m
}

// QueryMetrics tracks the proximity and statistics queries.
type QueryMetrics struct {
	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	CandidatesScanned *prometheus.CounterVec
	MatchesReturned   prometheus.Histogram
}

// NewQueryMetrics creates and registers query metrics.
func NewQueryMetrics(namespace string) *QueryMetrics {
	m := &QueryMetrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "queries_total",
				Help:      "Total number of queries",
			},
			[]string{"query", "status"}, // query: proximity, monthly_counts
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Duration of queries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		CandidatesScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "candidates_scanned_total",
				Help:      "Total number of records scanned by queries",
			},
			[]string{"query"},
		),
		MatchesReturned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "proximity_matches",
				Help:      "Number of records returned by proximity queries",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.CandidatesScanned,
		m.MatchesReturned,
	)

	return m
}

// StoreMetrics tracks persistence operations.
type StoreMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ConnectionsOpen   prometheus.Gauge
}

// NewStoreMetrics creates and registers store metrics.
func NewStoreMetrics(namespace string) *StoreMetrics {
	m := &StoreMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"}, // operation: upsert, find, scan, count, update
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "connections_open",
				Help:      "Number of open database connections",
			},
		),
	}

	MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.ConnectionsOpen,
	)

	return m
}
