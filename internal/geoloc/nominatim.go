package geoloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"procodus.dev/ipdr/pkg/metrics"
)

const nominatimService = "nominatim"

// NominatimConfig configures a NominatimGeocoder.
type NominatimConfig struct {
	BaseURL string
	// UserAgent is mandatory under the public Nominatim usage policy.
	UserAgent string
	Timeout   time.Duration
	// Limit caps the number of places requested (default 5).
	Limit   int
	Logger  *slog.Logger
	Metrics *metrics.APIMetrics // Optional
}

// NominatimGeocoder geocodes text against an OpenStreetMap Nominatim server.
type NominatimGeocoder struct {
	client  *resty.Client
	limit   int
	logger  *slog.Logger
	metrics *metrics.APIMetrics
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Country string `json:"country"`
	} `json:"address"`
}

// NewNominatimGeocoder builds a geocoder. Requests are never retried.
func NewNominatimGeocoder(cfg NominatimConfig) (*NominatimGeocoder, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("nominatim base url cannot be empty")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ipdr-service"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)

	return &NominatimGeocoder{
		client:  client,
		limit:   cfg.Limit,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Geocode returns up to Limit places for query, best match first.
func (g *NominatimGeocoder) Geocode(ctx context.Context, query string) (places []Place, err error) {
	start := time.Now()
	defer func() { observe(g.metrics, nominatimService, start, err) }()

	var result []nominatimPlace
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":              query,
			"format":         "jsonv2",
			"addressdetails": "1",
			"limit":          strconv.Itoa(g.limit),
		}).
		SetResult(&result).
		Get("/search")
	if err != nil {
		g.logger.Warn("nominatim request failed", "error", err)
		return nil, classify(nominatimService, err)
	}
	if resp.IsError() {
		g.logger.Warn("nominatim returned error status", "status_code", resp.StatusCode())
		return nil, fmt.Errorf("%w: %s: status %d", ErrUpstreamError, nominatimService, resp.StatusCode())
	}

	places = make([]Place, 0, len(result))
	for _, p := range result {
		lat, latErr := strconv.ParseFloat(p.Lat, 64)
		long, longErr := strconv.ParseFloat(p.Lon, 64)
		if latErr != nil || longErr != nil {
			g.logger.Debug("skipping place with unparsable coordinates", "display_name", p.DisplayName)
			continue
		}
		places = append(places, Place{
			Lat:              lat,
			Long:             long,
			FormattedAddress: p.DisplayName,
			Country:          p.Address.Country,
		})
		if len(places) == g.limit {
			break
		}
	}

	return places, nil
}
