// Package producer publishes generated IPDR and profile rows to the ingestion queues.
package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/pkg/generator"
	"procodus.dev/ipdr/pkg/metrics"
	"procodus.dev/ipdr/pkg/mq"
)

// Producer encodes generated rows and publishes them.
type Producer struct {
	rows     mq.Publisher
	profiles mq.Publisher
	gen      *generator.Generator
	metrics  *metrics.GeneratorMetrics // Optional metrics
}

// NewProducer creates a producer. profiles may be nil when profile rows are
// not published.
func NewProducer(rows, profiles mq.Publisher, gen *generator.Generator, m *metrics.GeneratorMetrics) (*Producer, error) {
	if rows == nil {
		return nil, errors.New("ipdr publisher cannot be nil")
	}
	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}
	return &Producer{rows: rows, profiles: profiles, gen: gen, metrics: m}, nil
}

// PublishProfiles publishes one profile row per subscriber and returns how
// many were confirmed. Failures do not stop the remaining rows.
func (p *Producer) PublishProfiles(ctx context.Context) (int, error) {
	if p.profiles == nil {
		return 0, nil
	}

	var (
		sent int
		errs []error
	)
	for _, row := range p.gen.Profiles() {
		if err := p.publish(ctx, p.profiles, ipdr.KindProfile, row); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// PublishIPDR generates one session row and publishes it.
func (p *Producer) PublishIPDR(ctx context.Context) error {
	return p.publish(ctx, p.rows, ipdr.KindIPDR, p.gen.IPDR())
}

func (p *Producer) publish(ctx context.Context, pub mq.Publisher, kind ipdr.Kind, row map[string]any) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.GenerationDuration.WithLabelValues(string(kind)))
		defer timer.ObserveDuration()
	}

	body, err := mq.EncodeRow(row)
	if err != nil {
		p.countFailure(kind)
		return fmt.Errorf("failed to encode %s row: %w", kind, err)
	}

	if err := pub.Publish(ctx, body); err != nil {
		p.countFailure(kind)
		return fmt.Errorf("failed to publish %s row: %w", kind, err)
	}

	if p.metrics != nil {
		p.metrics.RowsGenerated.WithLabelValues(string(kind)).Inc()
	}
	return nil
}

func (p *Producer) countFailure(kind ipdr.Kind) {
	if p.metrics != nil {
		p.metrics.PublishFailures.WithLabelValues(string(kind)).Inc()
	}
}
