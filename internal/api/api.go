// Package api serves the IPDR and profile HTTP endpoints used by the dashboards.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/pkg/metrics"
)

const (
	defaultMaxUploadBytes = 32 << 20
	defaultPageSize       = 100
	maxPageSize           = 1000
	maxBodyBytes          = 1 << 20
)

// Config holds the dependencies of the API.
type Config struct {
	Logger    *slog.Logger
	Store     ipdr.Store
	Pipeline  *ipdr.Pipeline
	Proximity *ipdr.ProximityEngine
	Stats     *ipdr.StatsAggregator
	Locations *ipdr.LocationService
	Metrics   *metrics.APIMetrics // Optional

	// MaxUploadBytes caps multipart uploads (default 32 MiB).
	MaxUploadBytes int64
	// PageSize is the listing page size when none is requested (default 100).
	PageSize int
}

// API holds the HTTP handlers.
type API struct {
	logger    *slog.Logger
	store     ipdr.Store
	pipeline  *ipdr.Pipeline
	proximity *ipdr.ProximityEngine
	stats     *ipdr.StatsAggregator
	locations *ipdr.LocationService
	metrics   *metrics.APIMetrics

	maxUpload int64
	pageSize  int
}

// New validates cfg and builds the API.
func New(cfg *Config) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}
	if cfg.Proximity == nil {
		return nil, errors.New("proximity engine cannot be nil")
	}
	if cfg.Stats == nil {
		return nil, errors.New("stats aggregator cannot be nil")
	}
	if cfg.Locations == nil {
		return nil, errors.New("location service cannot be nil")
	}

	a := &API{
		logger:    cfg.Logger,
		store:     cfg.Store,
		pipeline:  cfg.Pipeline,
		proximity: cfg.Proximity,
		stats:     cfg.Stats,
		locations: cfg.Locations,
		metrics:   cfg.Metrics,
		maxUpload: cfg.MaxUploadBytes,
		pageSize:  cfg.PageSize,
	}
	if a.maxUpload <= 0 {
		a.maxUpload = defaultMaxUploadBytes
	}
	if a.pageSize <= 0 {
		a.pageSize = defaultPageSize
	}
	return a, nil
}

// Routes returns the router for every endpoint.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", a.instrument("health", a.handleHealth))

	// IPDR records
	mux.Handle("POST /ipdr/getIPDRRecords", a.instrument("ipdr_nearby", a.handleNearby))
	mux.Handle("GET /ipdr/getAllIPDRRecords", a.instrument("ipdr_list", a.handleListRecords))
	mux.Handle("GET /ipdr/getRecordsCount", a.instrument("ipdr_count", a.handleCountRecords))
	mux.Handle("POST /ipdr/getIPDRRecordsgivenNumber", a.instrument("ipdr_by_number", a.handleRecordsByNumber))
	mux.Handle("POST /ipdr/addIPDRRecord", a.instrument("ipdr_add", a.handleAddRecord))
	mux.Handle("GET /ipdr/getStatistics", a.instrument("ipdr_statistics", a.handleStatistics))
	mux.Handle("POST /ipdr/upload", a.instrument("ipdr_upload", a.handleUpload(ipdr.KindIPDR, false)))
	mux.Handle("POST /ipdr/uploadCSV", a.instrument("ipdr_upload_csv", a.handleUpload(ipdr.KindIPDR, true)))

	// Location lookups
	mux.Handle("POST /ipdr/getIPDRLatLong", a.instrument("ipdr_latlong", a.handleLocatePhone))
	mux.Handle("POST /ipdr/getIPDRLocationsList", a.instrument("ipdr_locations", a.handleSuggestLocations))

	// Profiles
	mux.Handle("POST /profile/upload", a.instrument("profile_upload", a.handleUpload(ipdr.KindProfile, false)))
	mux.Handle("POST /profile/uploadCSV", a.instrument("profile_upload_csv", a.handleUpload(ipdr.KindProfile, true)))
	mux.Handle("POST /profile/addProfile", a.instrument("profile_add", a.handleAddProfile))
	mux.Handle("GET /profile/getAllProfiles", a.instrument("profile_list", a.handleListProfiles))
	mux.Handle("POST /profile/getProfile", a.instrument("profile_get", a.handleGetProfile))

	return mux
}

// handleHealth reports whether the store answers.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Error("health check failed", "error", err)
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
