package store_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/store"
	"procodus.dev/ipdr/pkg/metrics"
)

var _ = Describe("GormStore failures", func() {
	var (
		s    *store.GormStore
		mock sqlmock.Sqlmock
		ctx  context.Context
		down error
	)

	BeforeEach(func() {
		sqlDB, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m
		DeferCleanup(sqlDB.Close)

		db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		s, err = store.NewGormStore(db, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
		down = errors.New("connection refused")
	})

	It("should reject nil dependencies", func() {
		_, err := store.NewGormStore(nil, slog.Default(), nil)
		Expect(err).To(MatchError(ContainSubstring("database cannot be nil")))
	})

	It("should wrap query failures in ErrStorageUnavailable", func() {
		mock.ExpectQuery(`SELECT \* FROM "ipdr_records"`).WillReturnError(down)

		recs, err := s.FindRecords(ctx, ipdr.RecordFilter{PhoneNumber: "9999999999"})
		Expect(recs).To(BeNil())
		Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("connection refused"))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("should wrap count failures", func() {
		mock.ExpectQuery(`SELECT count\(\*\) FROM "ipdr_records"`).WillReturnError(down)

		_, err := s.CountRecords(ctx, ipdr.RecordFilter{})
		Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeTrue())
	})

	It("should wrap upsert failures", func() {
		mock.ExpectBegin().WillReturnError(down)

		_, err := s.UpsertRecord(ctx, ipdr.Record{PhoneNumber: "9999999999", StartTime: time.Now()})
		Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeTrue())
	})

	It("should roll back when a flag update fails", func() {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "ipdr_records"`).WillReturnError(down)
		mock.ExpectRollback()

		err := s.MarkSuspicious(ctx, map[uint]bool{1: true})
		Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeTrue())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("should record failed operations in metrics", func() {
		storeMetrics := metrics.NewStoreMetrics("ipdr_store_failure_test")
		sqlDB, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sqlDB.Close)
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		instrumented, err := store.NewGormStore(db, slog.New(slog.DiscardHandler), storeMetrics)
		Expect(err).NotTo(HaveOccurred())

		m.ExpectQuery(`SELECT \* FROM "profiles"`).WillReturnError(down)
		_, err = instrumented.FindProfiles(ctx, ipdr.ProfileFilter{})
		Expect(err).To(HaveOccurred())
		Expect(m.ExpectationsWereMet()).To(Succeed())

		failed := testutil.ToFloat64(storeMetrics.OperationsTotal.WithLabelValues("find", "profiles", "error"))
		Expect(failed).To(Equal(1.0))
	})
})
