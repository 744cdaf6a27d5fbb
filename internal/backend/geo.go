package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"procodus.dev/ipdr/internal/geoloc"
	"procodus.dev/ipdr/pkg/metrics"
)

// GeoConfig selects the geocoding and IP-location collaborators. Every part
// is optional; a missing collaborator makes its lookups fail as upstream errors.
type GeoConfig struct {
	NominatimURL       string
	NominatimUserAgent string
	// MaxMindCityDB is preferred over IPAPIURL when both are set.
	MaxMindCityDB string
	IPAPIURL      string
	Timeout       time.Duration
	// RedisAddr enables the geocoding cache.
	RedisAddr string
	CacheTTL  time.Duration
}

type geoStack struct {
	geocoder geoloc.Geocoder
	locator  geoloc.IPLocator
	closers  []io.Closer
}

func newGeoStack(cfg GeoConfig, logger *slog.Logger, m *metrics.APIMetrics) (*geoStack, error) {
	g := &geoStack{}

	if cfg.NominatimURL != "" {
		nominatim, err := geoloc.NewNominatimGeocoder(geoloc.NominatimConfig{
			BaseURL:   cfg.NominatimURL,
			UserAgent: cfg.NominatimUserAgent,
			Timeout:   cfg.Timeout,
			Logger:    logger,
			Metrics:   m,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create geocoder: %w", err)
		}
		g.geocoder = nominatim

		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			cached, err := geoloc.NewCachedGeocoder(geoloc.CacheConfig{
				Next:   nominatim,
				Client: client,
				TTL:    cfg.CacheTTL,
				Logger: logger,
			})
			if err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("failed to create geocoding cache: %w", err)
			}
			g.geocoder = cached
			g.closers = append(g.closers, client)
			logger.Info("geocoding cache enabled", "redis_addr", cfg.RedisAddr)
		}
	}

	switch {
	case cfg.MaxMindCityDB != "":
		locator, err := geoloc.OpenMaxMind(cfg.MaxMindCityDB, m)
		if err != nil {
			_ = g.Close()
			return nil, err
		}
		g.locator = locator
		g.closers = append(g.closers, locator)
	case cfg.IPAPIURL != "":
		locator, err := geoloc.NewIPAPILocator(geoloc.IPAPIConfig{
			BaseURL: cfg.IPAPIURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
			Metrics: m,
		})
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("failed to create ip locator: %w", err)
		}
		g.locator = locator
	}

	if g.geocoder == nil {
		logger.Warn("geocoding not configured, address lookups will fail")
	}
	if g.locator == nil {
		logger.Warn("ip location not configured, phone location lookups will fail")
	}
	return g, nil
}

// Close releases the cache client and the MaxMind database.
func (g *geoStack) Close() error {
	var errs []error
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}
