package ipdr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/ipdr/pkg/metrics"
)

// StatsConfig holds the dependencies of a StatsAggregator.
type StatsConfig struct {
	Store  Store
	Logger *slog.Logger
	// Location decides which calendar month a StartTime falls in (UTC when nil).
	Location  *time.Location
	BatchSize int
	// Now is the clock used for the default year.
	Now     func() time.Time
	Metrics *metrics.QueryMetrics // Optional
}

// StatsAggregator buckets records by calendar month.
type StatsAggregator struct {
	store     Store
	logger    *slog.Logger
	loc       *time.Location
	batchSize int
	now       func() time.Time
	metrics   *metrics.QueryMetrics
}

// NewStatsAggregator validates cfg and builds an aggregator.
func NewStatsAggregator(cfg *StatsConfig) (*StatsAggregator, error) {
	if cfg == nil {
		return nil, errors.New("stats config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	s := &StatsAggregator{
		store:     cfg.Store,
		logger:    cfg.Logger,
		loc:       cfg.Location,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultScanBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// MonthlyCounts returns the number of records started in each month of year;
// index 0 is January. A year of 0 means the current year.
func (s *StatsAggregator) MonthlyCounts(ctx context.Context, year int) ([12]int64, error) {
	var counts [12]int64

	if year < 0 {
		return counts, RequestError("year", "cannot be negative")
	}
	if year == 0 {
		year = s.now().In(s.loc).Year()
	}

	if s.metrics != nil {
		timer := prometheus.NewTimer(s.metrics.QueryDuration.WithLabelValues("monthly_counts"))
		defer timer.ObserveDuration()
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
	to := from.AddDate(1, 0, 0).Add(-time.Millisecond)

	var scanned int
	err := s.store.ScanRecords(ctx, RecordFilter{StartFrom: from, StartTo: to}, s.batchSize, func(batch []Record) error {
		scanned += len(batch)
		for _, rec := range batch {
			local := rec.StartTime.In(s.loc)
			if local.Year() != year {
				continue
			}
			counts[local.Month()-1]++
		}
		return nil
	})
	if err != nil {
		s.observe("error")
		return [12]int64{}, err
	}

	if s.metrics != nil {
		s.metrics.CandidatesScanned.WithLabelValues("monthly_counts").Add(float64(scanned))
	}
	s.observe("success")

	return counts, nil
}

func (s *StatsAggregator) observe(status string) {
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues("monthly_counts", status).Inc()
	}
}
