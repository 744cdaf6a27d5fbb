package ipdr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/ipdr/internal/classifier"
)

// Classifier labels sessions as suspicious or normal.
type Classifier interface {
	Predict(ctx context.Context, batch []classifier.Features) ([]classifier.Label, error)
}

// SuspicionReport summarizes a classification run.
type SuspicionReport struct {
	Classified int `json:"classified"`
	Suspicious int `json:"suspicious"`
}

// SuspicionSync copies classifier verdicts into the records' is_suspicious flag.
type SuspicionSync struct {
	store      Store
	classifier Classifier
	logger     *slog.Logger
	batchSize  int
}

// NewSuspicionSync validates its arguments and builds the sync.
func NewSuspicionSync(store Store, c Classifier, logger *slog.Logger, batchSize int) (*SuspicionSync, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if c == nil {
		return nil, errors.New("classifier cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultScanBatchSize
	}
	return &SuspicionSync{store: store, classifier: c, logger: logger, batchSize: batchSize}, nil
}

// Run classifies every record matching filter. Flags are written only after
// every batch was labelled; any failure leaves the store untouched.
func (s *SuspicionSync) Run(ctx context.Context, filter RecordFilter) (SuspicionReport, error) {
	var report SuspicionReport
	flags := map[uint]bool{}

	err := s.store.ScanRecords(ctx, filter, s.batchSize, func(batch []Record) error {
		features := make([]classifier.Features, len(batch))
		for i, rec := range batch {
			features[i] = classifier.Features{
				StartTime:      rec.StartTime,
				EndTime:        rec.EndTime,
				UplinkVolume:   rec.UplinkVolume,
				DownlinkVolume: rec.DownlinkVolume,
				AccessType:     string(rec.AccessType),
			}
		}

		labels, err := s.classifier.Predict(ctx, features)
		if err != nil {
			return fmt.Errorf("classify batch: %w", err)
		}
		if len(labels) != len(batch) {
			return fmt.Errorf("%w: sent %d, got %d", classifier.ErrCountMismatch, len(batch), len(labels))
		}

		for i, rec := range batch {
			suspicious := labels[i].Suspicious()
			flags[rec.ID] = suspicious
			if suspicious {
				report.Suspicious++
			}
		}
		report.Classified += len(batch)
		return nil
	})
	if err != nil {
		return SuspicionReport{}, err
	}

	if len(flags) == 0 {
		s.logger.Info("no records to classify")
		return report, nil
	}

	if err := s.store.MarkSuspicious(ctx, flags); err != nil {
		return SuspicionReport{}, err
	}

	s.logger.Info("suspicion flags updated",
		"classified", report.Classified,
		"suspicious", report.Suspicious)

	return report, nil
}
