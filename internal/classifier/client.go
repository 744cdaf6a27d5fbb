// Package classifier talks to the anomaly-detection service that labels
// sessions as suspicious.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"procodus.dev/ipdr/pkg/metrics"
)

const service = "classifier"

var (
	// ErrCountMismatch is returned when the service labels a different number of sessions than it was sent.
	ErrCountMismatch = errors.New("prediction count mismatch")
	// ErrUnavailable wraps transport and status failures.
	ErrUnavailable = errors.New("classifier unavailable")
)

// Label is the service verdict for one session.
type Label int

// Labels returned by the isolation-forest model.
const (
	LabelSuspicious Label = -1
	LabelNormal     Label = 1
)

// Suspicious reports whether l marks an anomaly.
func (l Label) Suspicious() bool {
	return l == LabelSuspicious
}

// Features is the projection of a session the model scores.
type Features struct {
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	UplinkVolume   int64     `json:"uplinkVolume"`
	DownlinkVolume int64     `json:"downlinkVolume"`
	AccessType     string    `json:"accessType"`
}

type predictResponse struct {
	Predictions []Label `json:"predictions"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.APIMetrics // Optional
}

// Client posts feature batches to /predict.
type Client struct {
	http    *resty.Client
	logger  *slog.Logger
	metrics *metrics.APIMetrics
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("classifier base url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, logger: cfg.Logger, metrics: cfg.Metrics}, nil
}

// Predict labels each session in batch. The result has the same length and
// order as batch.
func (c *Client) Predict(ctx context.Context, batch []Features) (labels []Label, err error) {
	if len(batch) == 0 {
		return []Label{}, nil
	}

	start := time.Now()
	defer func() { c.observe(start, err) }()

	var result predictResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(batch).
		SetResult(&result).
		Post("/predict")
	if err != nil {
		c.logger.Error("classifier call failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		c.logger.Error("classifier returned error status",
			"status_code", resp.StatusCode(),
			"body", truncate(resp.String(), 256))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	if len(result.Predictions) != len(batch) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, len(batch), len(result.Predictions))
	}

	return result.Predictions, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	c.metrics.UpstreamCallsTotal.WithLabelValues(service, status).Inc()
	c.metrics.UpstreamCallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
