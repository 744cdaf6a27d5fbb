package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/pkg/metrics"
)

const (
	tableRecords  = "ipdr_records"
	tableProfiles = "profiles"

	markChunkSize = 500
)

// GormStore implements ipdr.Store on a relational database.
type GormStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.StoreMetrics
}

var _ ipdr.Store = (*GormStore)(nil)

// NewGormStore wraps an open database. Metrics are optional.
func NewGormStore(db *gorm.DB, logger *slog.Logger, m *metrics.StoreMetrics) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &GormStore{db: db, logger: logger, metrics: m}, nil
}

// UpsertRecord implements ipdr.Store with INSERT ... ON CONFLICT (phone_number, start_time) DO UPDATE.
func (s *GormStore) UpsertRecord(ctx context.Context, rec ipdr.Record) (out ipdr.Record, err error) {
	defer s.track("upsert", tableRecords, time.Now(), &err)

	rec.ID = 0
	rec.StartTime = rec.StartTime.UTC()
	rec.EndTime = rec.EndTime.UTC()

	db := s.db.WithContext(ctx)
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}, {Name: "start_time"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return ipdr.Record{}, unavailable("upsert record", err)
	}

	err = db.Where("phone_number = ? AND start_time = ?", rec.PhoneNumber, rec.StartTime).First(&out).Error
	if err != nil {
		return ipdr.Record{}, unavailable("reload record", err)
	}
	return out, nil
}

// UpsertProfile implements ipdr.Store with INSERT ... ON CONFLICT (phone_number) DO UPDATE.
func (s *GormStore) UpsertProfile(ctx context.Context, p ipdr.Profile) (out ipdr.Profile, err error) {
	defer s.track("upsert", tableProfiles, time.Now(), &err)

	p.ID = 0
	db := s.db.WithContext(ctx)
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		UpdateAll: true,
	}).Create(&p).Error
	if err != nil {
		return ipdr.Profile{}, unavailable("upsert profile", err)
	}

	if err = db.Where("phone_number = ?", p.PhoneNumber).First(&out).Error; err != nil {
		return ipdr.Profile{}, unavailable("reload profile", err)
	}
	return out, nil
}

// FindRecords implements ipdr.Store.
func (s *GormStore) FindRecords(ctx context.Context, filter ipdr.RecordFilter) (recs []ipdr.Record, err error) {
	defer s.track("find", tableRecords, time.Now(), &err)

	q := recordQuery(s.db.WithContext(ctx), filter)
	switch filter.Order {
	case ipdr.OrderNewestFirst:
		q = q.Order("start_time DESC").Order("id DESC")
	default:
		q = q.Order("id ASC")
	}
	q = paginate(q, filter.Limit, filter.Offset)

	recs = []ipdr.Record{}
	if err = q.Find(&recs).Error; err != nil {
		return nil, unavailable("find records", err)
	}
	return recs, nil
}

// ScanRecords implements ipdr.Store using keyset batches over the primary key.
func (s *GormStore) ScanRecords(ctx context.Context, filter ipdr.RecordFilter, batchSize int, fn func([]ipdr.Record) error) (err error) {
	defer s.track("scan", tableRecords, time.Now(), &err)

	if batchSize <= 0 {
		batchSize = ipdr.DefaultScanBatchSize
	}

	var (
		batch []ipdr.Record
		fnErr error
	)
	res := recordQuery(s.db.WithContext(ctx), filter).FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		if fnErr = fn(slices.Clone(batch)); fnErr != nil {
			return fnErr
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if res.Error != nil {
		return unavailable("scan records", res.Error)
	}
	return nil
}

// CountRecords implements ipdr.Store.
func (s *GormStore) CountRecords(ctx context.Context, filter ipdr.RecordFilter) (n int64, err error) {
	defer s.track("count", tableRecords, time.Now(), &err)

	if err = recordQuery(s.db.WithContext(ctx).Model(&ipdr.Record{}), filter).Count(&n).Error; err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

// FindProfiles implements ipdr.Store.
func (s *GormStore) FindProfiles(ctx context.Context, filter ipdr.ProfileFilter) (profiles []ipdr.Profile, err error) {
	defer s.track("find", tableProfiles, time.Now(), &err)

	q := s.db.WithContext(ctx).Order("id ASC")
	if filter.PhoneNumber != "" {
		q = q.Where("phone_number = ?", filter.PhoneNumber)
	}
	q = paginate(q, filter.Limit, filter.Offset)

	profiles = []ipdr.Profile{}
	if err = q.Find(&profiles).Error; err != nil {
		return nil, unavailable("find profiles", err)
	}
	return profiles, nil
}

// MarkSuspicious implements ipdr.Store in a single transaction.
func (s *GormStore) MarkSuspicious(ctx context.Context, flags map[uint]bool) (err error) {
	defer s.track("update", tableRecords, time.Now(), &err)

	var suspicious, normal []uint
	for id, flag := range flags {
		if flag {
			suspicious = append(suspicious, id)
		} else {
			normal = append(normal, id)
		}
	}
	slices.Sort(suspicious)
	slices.Sort(normal)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for flag, ids := range map[bool][]uint{true: suspicious, false: normal} {
			for chunk := range slices.Chunk(ids, markChunkSize) {
				if err := tx.Model(&ipdr.Record{}).Where("id IN ?", chunk).Update("is_suspicious", flag).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("mark suspicious", err)
	}
	return nil
}

// Ping implements ipdr.Store.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	if s.metrics != nil {
		s.metrics.ConnectionsOpen.Set(float64(sqlDB.Stats().OpenConnections))
	}
	return nil
}

func recordQuery(q *gorm.DB, f ipdr.RecordFilter) *gorm.DB {
	if f.PhoneNumber != "" {
		q = q.Where("phone_number = ?", f.PhoneNumber)
	}
	if !f.StartFrom.IsZero() {
		q = q.Where("start_time >= ?", f.StartFrom.UTC())
	}
	if !f.StartTo.IsZero() {
		q = q.Where("start_time <= ?", f.StartTo.UTC())
	}
	if f.Suspicious != nil {
		if *f.Suspicious {
			q = q.Where("is_suspicious = ?", true)
		} else {
			q = q.Where("(is_suspicious = ? OR is_suspicious IS NULL)", false)
		}
	}
	return q
}

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ipdr.ErrStorageUnavailable, op, err)
}

func (s *GormStore) track(op, table string, start time.Time, errp *error) {
	if *errp != nil && errors.Is(*errp, ipdr.ErrStorageUnavailable) {
		s.logger.Error("database operation failed", "operation", op, "table", table, "error", *errp)
	}
	if s.metrics == nil {
		return
	}
	status := "success"
	if *errp != nil {
		status = "error"
	}
	s.metrics.OperationsTotal.WithLabelValues(op, table, status).Inc()
	s.metrics.OperationDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
}
