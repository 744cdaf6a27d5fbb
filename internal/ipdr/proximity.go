package ipdr

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/ipdr/pkg/geo"
	"procodus.dev/ipdr/pkg/metrics"
)

const (
	// DefaultRadiusKm applies when a query gives no usable radius.
	DefaultRadiusKm = 5.0
	// DefaultScanBatchSize is the number of records read per store round trip.
	DefaultScanBatchSize = 500
	// MaxDurationMinutes is the widest half-window a time.Duration can hold.
	MaxDurationMinutes = float64(math.MaxInt64 / int64(time.Minute))
)

// NearbyQuery describes a proximity search around a point and a time.
type NearbyQuery struct {
	RefTime time.Time
	// DurationMinutes is the half-width of the symmetric window around RefTime.
	DurationMinutes float64
	Lat             *float64
	Long            *float64
	// RadiusKm falls back to the engine default when zero, negative or NaN.
	RadiusKm float64
}

// ProximityConfig holds the dependencies of a ProximityEngine.
type ProximityConfig struct {
	Store           Store
	Logger          *slog.Logger
	DefaultRadiusKm float64
	BatchSize       int
	Metrics         *metrics.QueryMetrics // Optional
}

// ProximityEngine finds records started near a point in time and space.
type ProximityEngine struct {
	store         Store
	logger        *slog.Logger
	defaultRadius float64
	batchSize     int
	metrics       *metrics.QueryMetrics
}

// NewProximityEngine validates cfg and builds an engine.
func NewProximityEngine(cfg *ProximityConfig) (*ProximityEngine, error) {
	if cfg == nil {
		return nil, errors.New("proximity config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	radius := cfg.DefaultRadiusKm
	if !(radius > 0) || math.IsInf(radius, 0) {
		radius = DefaultRadiusKm
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultScanBatchSize
	}

	return &ProximityEngine{
		store:         cfg.Store,
		logger:        cfg.Logger,
		defaultRadius: radius,
		batchSize:     batch,
		metrics:       cfg.Metrics,
	}, nil
}

// Window returns the inclusive StartTime bounds of q.
func (q NearbyQuery) Window() (time.Time, time.Time) {
	d := time.Duration(q.DurationMinutes * float64(time.Minute))
	return q.RefTime.Add(-d), q.RefTime.Add(d)
}

func (q NearbyQuery) validate() error {
	switch {
	case q.RefTime.IsZero():
		return RequestError("refTime", "is required")
	case math.IsNaN(q.DurationMinutes) || q.DurationMinutes <= 0 || math.IsInf(q.DurationMinutes, 0):
		return RequestError("duration", "must be a positive number of minutes")
	case q.DurationMinutes > MaxDurationMinutes:
		return RequestError("duration", "is too large")
	case q.Lat == nil || q.Long == nil:
		return RequestError("location", "is required")
	case !validLatitude(*q.Lat) || !validLongitude(*q.Long):
		return RequestError("location", "is out of range")
	}
	return nil
}

// FindNearby returns the records whose StartTime lies in the query window and
// whose origin lies within the radius of the reference point, in store order.
// Records without a complete origin never match. No match is an empty result.
func (e *ProximityEngine) FindNearby(ctx context.Context, q NearbyQuery) ([]Record, error) {
	if err := q.validate(); err != nil {
		e.observe("error")
		return nil, err
	}

	if e.metrics != nil {
		timer := prometheus.NewTimer(e.metrics.QueryDuration.WithLabelValues("proximity"))
		defer timer.ObserveDuration()
	}

	radius := q.RadiusKm
	if !(radius > 0) {
		radius = e.defaultRadius
	}
	from, to := q.Window()
	refLat, refLong := *q.Lat, *q.Long

	matches := []Record{}
	var scanned, incomplete int
	err := e.store.ScanRecords(ctx, RecordFilter{StartFrom: from, StartTo: to}, e.batchSize, func(batch []Record) error {
		scanned += len(batch)
		for _, rec := range batch {
			if !rec.OriginLatLong.Complete() {
				incomplete++
				continue
			}
			ok, err := geo.Within(refLat, refLong, *rec.OriginLatLong.Lat, *rec.OriginLatLong.Long, radius)
			if err != nil {
				e.logger.Warn("skipping record with invalid origin", "record_id", rec.ID, "error", err)
				continue
			}
			if ok {
				matches = append(matches, rec)
			}
		}
		return nil
	})
	if err != nil {
		e.observe("error")
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.CandidatesScanned.WithLabelValues("proximity").Add(float64(scanned))
		e.metrics.MatchesReturned.Observe(float64(len(matches)))
	}
	e.observe("success")

	e.logger.Debug("proximity query complete",
		"window_start", from,
		"window_end", to,
		"radius_km", radius,
		"candidates", scanned,
		"coordinate_incomplete", incomplete,
		"matches", len(matches))

	return matches, nil
}

func (e *ProximityEngine) observe(status string) {
	if e.metrics != nil {
		e.metrics.QueriesTotal.WithLabelValues("proximity", status).Inc()
	}
}

func validLatitude(v float64) bool {
	return !math.IsNaN(v) && v >= -90 && v <= 90
}

func validLongitude(v float64) bool {
	return !math.IsNaN(v) && v >= -180 && v <= 180
}
