package ipdr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"procodus.dev/ipdr/internal/geoloc"
)

// DefaultMaxSuggestions caps SuggestLocations results.
const DefaultMaxSuggestions = 5

// LocationConfig holds the dependencies of a LocationService. Geocoder and
// Locator are optional; operations needing a missing one fail with
// geoloc.ErrUpstreamError.
type LocationConfig struct {
	Store    Store
	Geocoder geoloc.Geocoder
	Locator  geoloc.IPLocator
	Logger   *slog.Logger
	// Timeout bounds every upstream call (default 5s).
	Timeout        time.Duration
	MaxSuggestions int
}

// PhoneLocation is the IP-derived position of a phone's latest session.
type PhoneLocation struct {
	PhoneNumber string            `json:"phoneNumber"`
	PublicIP    string            `json:"publicIP"`
	StartTime   time.Time         `json:"startTime"`
	Location    geoloc.IPLocation `json:"location"`
}

// LocationService answers location questions through the geo collaborators.
type LocationService struct {
	store          Store
	geocoder       geoloc.Geocoder
	locator        geoloc.IPLocator
	logger         *slog.Logger
	timeout        time.Duration
	maxSuggestions int
}

// NewLocationService validates cfg and builds the service.
func NewLocationService(cfg *LocationConfig) (*LocationService, error) {
	if cfg == nil {
		return nil, errors.New("location config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	s := &LocationService{
		store:          cfg.Store,
		geocoder:       cfg.Geocoder,
		locator:        cfg.Locator,
		logger:         cfg.Logger,
		timeout:        cfg.Timeout,
		maxSuggestions: cfg.MaxSuggestions,
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.maxSuggestions <= 0 {
		s.maxSuggestions = DefaultMaxSuggestions
	}
	return s, nil
}

// LocatePhone resolves the public IP of the phone's most recent session.
func (s *LocationService) LocatePhone(ctx context.Context, phoneNumber string) (PhoneLocation, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return PhoneLocation{}, RequestError("phoneNumber", "is required")
	}
	if err := checkDigits(phoneNumber, 10); err != nil {
		return PhoneLocation{}, fmt.Errorf("%w: phoneNumber %w", ErrInvalidRequest, err)
	}
	if s.locator == nil {
		return PhoneLocation{}, fmt.Errorf("%w: ip location is not configured", geoloc.ErrUpstreamError)
	}

	recs, err := s.store.FindRecords(ctx, RecordFilter{
		PhoneNumber: phoneNumber,
		Order:       OrderNewestFirst,
		Limit:       1,
	})
	if err != nil {
		return PhoneLocation{}, err
	}
	if len(recs) == 0 {
		return PhoneLocation{}, fmt.Errorf("%w: no records for phone number %s", ErrNotFound, phoneNumber)
	}
	latest := recs[0]

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	loc, err := s.locator.Locate(callCtx, latest.PublicIP)
	if err != nil {
		err = upstreamError(callCtx, err)
		s.logger.Warn("ip location failed", "phone_number", phoneNumber, "public_ip", latest.PublicIP, "error", err)
		return PhoneLocation{}, err
	}

	return PhoneLocation{
		PhoneNumber: phoneNumber,
		PublicIP:    latest.PublicIP,
		StartTime:   latest.StartTime,
		Location:    loc,
	}, nil
}

// SuggestLocations returns the formatted addresses of the best geocoding
// matches for text. No match is ErrNotFound.
func (s *LocationService) SuggestLocations(ctx context.Context, text string) ([]string, error) {
	places, err := s.geocode(ctx, text, "data")
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, min(len(places), s.maxSuggestions))
	for _, p := range places {
		if p.FormattedAddress == "" {
			continue
		}
		out = append(out, p.FormattedAddress)
		if len(out) == s.maxSuggestions {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no locations match %q", ErrNotFound, text)
	}
	return out, nil
}

// ResolvePlace geocodes an address to the coordinates of its best match.
func (s *LocationService) ResolvePlace(ctx context.Context, address string) (geoloc.Place, error) {
	places, err := s.geocode(ctx, address, "location.address")
	if err != nil {
		return geoloc.Place{}, err
	}
	if len(places) == 0 {
		return geoloc.Place{}, fmt.Errorf("%w: no locations match %q", ErrNotFound, address)
	}
	return places[0], nil
}

func (s *LocationService) geocode(ctx context.Context, text, field string) ([]geoloc.Place, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, RequestError(field, "is required")
	}
	if s.geocoder == nil {
		return nil, fmt.Errorf("%w: geocoding is not configured", geoloc.ErrUpstreamError)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	places, err := s.geocoder.Geocode(callCtx, text)
	if err != nil {
		err = upstreamError(callCtx, err)
		s.logger.Warn("geocoding failed", "query", text, "error", err)
		return nil, err
	}
	return places, nil
}

// upstreamError makes sure a collaborator failure carries one of the geoloc
// error kinds, turning an expired call deadline into ErrUpstreamTimeout.
func upstreamError(callCtx context.Context, err error) error {
	switch {
	case errors.Is(err, geoloc.ErrUpstreamTimeout),
		errors.Is(err, geoloc.ErrUpstreamError),
		errors.Is(err, geoloc.ErrNoLocation):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", geoloc.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", geoloc.ErrUpstreamError, err)
}
