package geoloc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"procodus.dev/ipdr/pkg/metrics"
)

const maxmindService = "maxmind"

// MaxMindLocator resolves IP addresses from a local GeoIP2/GeoLite2 City database.
type MaxMindLocator struct {
	reader  *geoip2.Reader
	metrics *metrics.APIMetrics
}

// OpenMaxMind opens the City database at path.
func OpenMaxMind(path string, m *metrics.APIMetrics) (*MaxMindLocator, error) {
	if path == "" {
		return nil, errors.New("maxmind database path cannot be empty")
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open maxmind database: %w", err)
	}
	return &MaxMindLocator{reader: reader, metrics: m}, nil
}

// Locate looks ip up in the database. The context is only checked up front;
// lookups are local and do not block.
func (l *MaxMindLocator) Locate(ctx context.Context, ip string) (loc IPLocation, err error) {
	start := time.Now()
	defer func() { observe(l.metrics, maxmindService, start, err) }()

	if err := ctx.Err(); err != nil {
		return IPLocation{}, classify(maxmindService, err)
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return IPLocation{}, fmt.Errorf("%w: invalid ip address %q", ErrUpstreamError, ip)
	}

	record, err := l.reader.City(parsed)
	if err != nil {
		return IPLocation{}, classify(maxmindService, err)
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 && record.City.GeoNameID == 0 {
		return IPLocation{}, fmt.Errorf("%w: %s", ErrNoLocation, ip)
	}

	loc = IPLocation{
		IP:      ip,
		Lat:     record.Location.Latitude,
		Long:    record.Location.Longitude,
		City:    record.City.Names["en"],
		Country: record.Country.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// Close releases the database.
func (l *MaxMindLocator) Close() error {
	return l.reader.Close()
}
