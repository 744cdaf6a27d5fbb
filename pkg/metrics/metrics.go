// Package metrics provides Prometheus metrics collection for the IPDR services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by the IPDR binaries.
const Namespace = "ipdr"

// Registry is the process-wide Prometheus registry.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler serving the registry in OpenMetrics format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with the global registry.
// Panics if registration fails.
func MustRegister(collectors ...prometheus.Collector) {
	Registry.MustRegister(collectors...)
}

// Set bundles the metric groups the server wires into its components.
type Set struct {
	API    *APIMetrics
	Ingest *IngestMetrics
	Query  *QueryMetrics
	Store  *StoreMetrics
	MQ     *MQMetrics
}

// NewSet creates and registers every metric group under namespace.
// It must be called at most once per process.
func NewSet(namespace string) *Set {
	return &Set{
		API:    NewAPIMetrics(namespace),
		Ingest: NewIngestMetrics(namespace),
		Query:  NewQueryMetrics(namespace),
		Store:  NewStoreMetrics(namespace),
		MQ:     NewMQMetrics(namespace),
	}
}
