package geoloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"procodus.dev/ipdr/pkg/metrics"
)

const ipAPIService = "ip-api"

// IPAPIConfig configures an IPAPILocator.
type IPAPIConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.APIMetrics // Optional
}

// IPAPILocator resolves IP addresses through an ip-api.com compatible JSON endpoint.
type IPAPILocator struct {
	client  *resty.Client
	logger  *slog.Logger
	metrics *metrics.APIMetrics
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	City       string  `json:"city"`
	RegionName string  `json:"regionName"`
	Country    string  `json:"country"`
	Query      string  `json:"query"`
}

// NewIPAPILocator builds a locator. Requests are never retried.
func NewIPAPILocator(cfg IPAPIConfig) (*IPAPILocator, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("ip-api base url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &IPAPILocator{client: client, logger: cfg.Logger, metrics: cfg.Metrics}, nil
}

// Locate queries /json/{ip}.
func (l *IPAPILocator) Locate(ctx context.Context, ip string) (loc IPLocation, err error) {
	start := time.Now()
	defer func() { observe(l.metrics, ipAPIService, start, err) }()

	var result ipAPIResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/json/" + url.PathEscape(ip))
	if err != nil {
		l.logger.Warn("ip lookup failed", "ip", ip, "error", err)
		return IPLocation{}, classify(ipAPIService, err)
	}
	if resp.IsError() {
		return IPLocation{}, fmt.Errorf("%w: %s: status %d", ErrUpstreamError, ipAPIService, resp.StatusCode())
	}
	if result.Status != "success" {
		return IPLocation{}, fmt.Errorf("%w: %s: %s", ErrNoLocation, ip, result.Message)
	}

	return IPLocation{
		IP:      ip,
		Lat:     result.Lat,
		Long:    result.Lon,
		City:    result.City,
		Region:  result.RegionName,
		Country: result.Country,
	}, nil
}
