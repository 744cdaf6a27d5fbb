package ipdr

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"procodus.dev/ipdr/pkg/metrics"
)

// MaxRejectionDetails caps the per-row entries kept in a Report. Reasons
// still counts every rejection.
const MaxRejectionDetails = 100

// Rejection is one rejected row of an ingestion.
type Rejection struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes one ingestion run.
type Report struct {
	BatchID              string         `json:"batchId"`
	Kind                 Kind           `json:"kind"`
	Accepted             int            `json:"accepted"`
	Rejected             int            `json:"rejected"`
	CoordinateIncomplete int            `json:"coordinateIncomplete"`
	Reasons              map[string]int `json:"reasons"`
	Rejections           []Rejection    `json:"rejections"`
	StartedAt            time.Time      `json:"startedAt"`
	FinishedAt           time.Time      `json:"finishedAt"`
}

// Total returns the number of rows seen.
func (r *Report) Total() int {
	return r.Accepted + r.Rejected
}

func (r *Report) reject(row int, rowErr *RowError) {
	r.Rejected++
	r.Reasons[rowErr.Code()]++
	if len(r.Rejections) < MaxRejectionDetails {
		detail := ""
		if rowErr.Err != nil {
			detail = rowErr.Err.Error()
		}
		r.Rejections = append(r.Rejections, Rejection{Row: row, Reason: rowErr.Code(), Detail: detail})
	}
}

// RowOutcome is the result of ingesting a single row.
type RowOutcome struct {
	Accepted             bool
	CoordinateIncomplete bool
	// Rejection is set when the row failed normalization.
	Rejection *RowError
}

// PipelineConfig holds the dependencies of a Pipeline.
type PipelineConfig struct {
	Store      Store
	Normalizer *Normalizer
	Logger     *slog.Logger
	Metrics    *metrics.IngestMetrics // Optional
}

// Pipeline normalizes rows and upserts the accepted ones. A bad row never
// stops the rows after it.
type Pipeline struct {
	store      Store
	normalizer *Normalizer
	logger     *slog.Logger
	metrics    *metrics.IngestMetrics
}

// NewPipeline validates cfg and builds a pipeline.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer(time.UTC)
	}

	return &Pipeline{
		store:      cfg.Store,
		normalizer: normalizer,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Normalizer returns the normalizer used by the pipeline.
func (p *Pipeline) Normalizer() *Normalizer {
	return p.normalizer
}

// IngestRow normalizes and upserts one row. Normalization failures come back
// in RowOutcome.Rejection with a nil error; a non-nil error means the store
// failed and the row was not persisted.
func (p *Pipeline) IngestRow(ctx context.Context, row RawRow, kind Kind) (RowOutcome, error) {
	var outcome RowOutcome

	switch kind {
	case KindIPDR:
		rec, err := p.normalizer.Normalize(row)
		if err != nil {
			outcome.Rejection = asRowError(err)
			break
		}
		if _, err := p.store.UpsertRecord(ctx, rec); err != nil {
			return outcome, err
		}
		outcome.Accepted = true
		outcome.CoordinateIncomplete = !rec.OriginLatLong.Complete()
	case KindProfile:
		prof, err := p.normalizer.NormalizeProfile(row)
		if err != nil {
			outcome.Rejection = asRowError(err)
			break
		}
		if _, err := p.store.UpsertProfile(ctx, prof); err != nil {
			return outcome, err
		}
		outcome.Accepted = true
	default:
		return outcome, RequestError("kind", fmt.Sprintf("%q is not ipdr or profile", kind))
	}

	p.count(kind, outcome)
	return outcome, nil
}

// IngestFile processes rows one at a time. Rejected rows are recorded in the
// report. A store failure or context cancellation stops the run and returns
// the partial report together with the error; rows already accepted stay
// persisted.
func (p *Pipeline) IngestFile(ctx context.Context, rows iter.Seq2[RawRow, error], kind Kind) (Report, error) {
	report := Report{
		BatchID:    uuid.NewString(),
		Kind:       kind,
		Reasons:    map[string]int{},
		Rejections: []Rejection{},
		StartedAt:  time.Now().UTC(),
	}
	log := p.logger.With("batch_id", report.BatchID, "kind", kind)

	if _, ok := ParseKind(string(kind)); !ok {
		report.FinishedAt = time.Now().UTC()
		return report, RequestError("kind", fmt.Sprintf("%q is not ipdr or profile", kind))
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.BatchDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		}
	}()

	log.Info("ingestion started")

	var runErr error
	n := 0
	for row, decodeErr := range rows {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		n++

		if decodeErr != nil {
			rowErr := &RowError{Reason: ReasonMalformedRow, Err: decodeErr}
			report.reject(n, rowErr)
			p.count(kind, RowOutcome{Rejection: rowErr})
			log.Debug("row rejected", "row", n, "reason", rowErr.Code(), "error", decodeErr)
			continue
		}

		outcome, err := p.IngestRow(ctx, row, kind)
		if err != nil {
			runErr = fmt.Errorf("row %d: %w", n, err)
			break
		}
		if outcome.Rejection != nil {
			report.reject(n, outcome.Rejection)
			log.Debug("row rejected", "row", n, "reason", outcome.Rejection.Code())
			continue
		}
		report.Accepted++
		if outcome.CoordinateIncomplete {
			report.CoordinateIncomplete++
		}
	}

	report.FinishedAt = time.Now().UTC()

	if runErr != nil {
		log.Error("ingestion aborted",
			"error", runErr,
			"accepted", report.Accepted,
			"rejected", report.Rejected)
		return report, runErr
	}

	log.Info("ingestion finished",
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"coordinate_incomplete", report.CoordinateIncomplete)

	return report, nil
}

func (p *Pipeline) count(kind Kind, outcome RowOutcome) {
	if p.metrics == nil {
		return
	}
	if outcome.Rejection != nil {
		p.metrics.RowsTotal.WithLabelValues(string(kind), "rejected").Inc()
		p.metrics.RejectionsTotal.WithLabelValues(string(kind), string(outcome.Rejection.Reason)).Inc()
		return
	}
	p.metrics.RowsTotal.WithLabelValues(string(kind), "accepted").Inc()
}

func asRowError(err error) *RowError {
	var rowErr *RowError
	if errors.As(err, &rowErr) {
		return rowErr
	}
	return &RowError{Reason: ReasonMalformedRow, Err: err}
}
