// Package geoloc wraps the remote collaborators that turn text or IP
// addresses into coordinates.
package geoloc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"procodus.dev/ipdr/pkg/metrics"
)

var (
	// ErrUpstreamTimeout is returned when a lookup exceeds its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamError is returned for any other failed lookup.
	ErrUpstreamError = errors.New("upstream error")
	// ErrNoLocation is returned when the service knows nothing about an address.
	ErrNoLocation = errors.New("no location for address")
)

// Place is one geocoding candidate.
type Place struct {
	Lat              float64 `json:"lat"`
	Long             float64 `json:"long"`
	FormattedAddress string  `json:"formattedAddress"`
	Country          string  `json:"country,omitempty"`
}

// IPLocation is the approximate position of an IP address.
type IPLocation struct {
	IP      string  `json:"ip"`
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
	City    string  `json:"city,omitempty"`
	Region  string  `json:"region,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Geocoder resolves free text to candidate places, best match first.
type Geocoder interface {
	Geocode(ctx context.Context, query string) ([]Place, error)
}

// IPLocator resolves an IP address to a location.
type IPLocator interface {
	Locate(ctx context.Context, ip string) (IPLocation, error)
}

// classify maps transport failures onto ErrUpstreamTimeout or ErrUpstreamError.
func classify(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamError) || errors.Is(err, ErrNoLocation) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrUpstreamTimeout, service, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamError, service, err)
}

func observe(m *metrics.APIMetrics, service string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		status = "timeout"
	case errors.Is(err, ErrNoLocation):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	m.UpstreamCallsTotal.WithLabelValues(service, status).Inc()
	m.UpstreamCallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}
