package store_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/store"
)

func sampleRecord(phone string, start time.Time, lat, long float64) ipdr.Record {
	return ipdr.Record{
		PrivateIP:      "10.0.0.1",
		PrivatePort:    5000,
		PublicIP:       "49.36.10.1",
		PublicPort:     443,
		DestIP:         "142.250.1.1",
		DestPort:       443,
		PhoneNumber:    phone,
		StartTime:      start,
		EndTime:        start.Add(5 * time.Minute),
		UplinkVolume:   100,
		DownlinkVolume: 200,
		TotalVolume:    300,
		IMEI:           "356938035643809",
		IMSI:           "404450123456789",
		OriginLatLong:  ipdr.NewLatLong(lat, long),
		AccessType:     ipdr.Access4G,
	}
}

func collect(ctx context.Context, s ipdr.Store, filter ipdr.RecordFilter, batch int) ([][]ipdr.Record, error) {
	var batches [][]ipdr.Record
	err := s.ScanRecords(ctx, filter, batch, func(recs []ipdr.Record) error {
		batches = append(batches, recs)
		return nil
	})
	return batches, err
}

// storeBehaviour is shared by every ipdr.Store implementation.
func storeBehaviour(newStore func() ipdr.Store) {
	var (
		s    ipdr.Store
		ctx  context.Context
		base time.Time
	)

	BeforeEach(func() {
		s = newStore()
		ctx = context.Background()
		base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	})

	Describe("UpsertRecord", func() {
		It("should insert a new record and return it with an id", func() {
			stored, err := s.UpsertRecord(ctx, sampleRecord("9999999999", base, 28.62, 77.21))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).NotTo(BeZero())
			Expect(stored.StartTime).To(BeTemporally("==", base))
			Expect(*stored.OriginLatLong.Lat).To(BeNumerically("~", 28.62, 1e-9))
		})

		It("should replace the record with the same phone number and start time", func() {
			first := sampleRecord("9999999999", base, 28.62, 77.21)
			first.DownlinkVolume = 100
			stored1, err := s.UpsertRecord(ctx, first)
			Expect(err).NotTo(HaveOccurred())

			second := sampleRecord("9999999999", base, 28.62, 77.21)
			second.DownlinkVolume = 999
			stored2, err := s.UpsertRecord(ctx, second)
			Expect(err).NotTo(HaveOccurred())

			Expect(stored2.ID).To(Equal(stored1.ID))
			Expect(stored2.DownlinkVolume).To(Equal(int64(999)))

			n, err := s.CountRecords(ctx, ipdr.RecordFilter{PhoneNumber: "9999999999"})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
		})

		It("should keep records with different start times apart", func() {
			_, err := s.UpsertRecord(ctx, sampleRecord("9999999999", base, 28.62, 77.21))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpsertRecord(ctx, sampleRecord("9999999999", base.Add(time.Millisecond), 28.62, 77.21))
			Expect(err).NotTo(HaveOccurred())

			n, err := s.CountRecords(ctx, ipdr.RecordFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
		})

		It("should store coordinate-incomplete records", func() {
			rec := sampleRecord("8888888888", base, 0, 0)
			rec.OriginLatLong.Long = nil

			stored, err := s.UpsertRecord(ctx, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.OriginLatLong.Complete()).To(BeFalse())
			Expect(stored.OriginLatLong.Lat).NotTo(BeNil())
		})

		It("should resolve concurrent upserts of one key to a single record", func() {
			var wg sync.WaitGroup
			for i := range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					rec := sampleRecord("7777777777", base, 28.62, 77.21)
					rec.DownlinkVolume = int64(i)
					_, err := s.UpsertRecord(ctx, rec)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			n, err := s.CountRecords(ctx, ipdr.RecordFilter{PhoneNumber: "7777777777"})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
		})
	})

	Describe("FindRecords", func() {
		BeforeEach(func() {
			for i, phone := range []string{"1111111111", "2222222222", "1111111111"} {
				_, err := s.UpsertRecord(ctx, sampleRecord(phone, base.Add(time.Duration(i)*time.Hour), 28.6, 77.2))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should filter by phone number in storage order", func() {
			recs, err := s.FindRecords(ctx, ipdr.RecordFilter{PhoneNumber: "1111111111"})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].ID).To(BeNumerically("<", recs[1].ID))
		})

		It("should apply inclusive start time bounds", func() {
			recs, err := s.FindRecords(ctx, ipdr.RecordFilter{StartFrom: base, StartTo: base.Add(time.Hour)})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
		})

		It("should order newest first and paginate", func() {
			recs, err := s.FindRecords(ctx, ipdr.RecordFilter{Order: ipdr.OrderNewestFirst, Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].StartTime).To(BeTemporally("==", base.Add(2*time.Hour)))

			recs, err = s.FindRecords(ctx, ipdr.RecordFilter{Limit: 2, Offset: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
		})

		It("should return an empty slice when nothing matches", func() {
			recs, err := s.FindRecords(ctx, ipdr.RecordFilter{PhoneNumber: "0000000000"})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).NotTo(BeNil())
			Expect(recs).To(BeEmpty())
		})
	})

	Describe("ScanRecords", func() {
		BeforeEach(func() {
			for i := range 7 {
				_, err := s.UpsertRecord(ctx, sampleRecord("1111111111", base.Add(time.Duration(i)*time.Minute), 28.6, 77.2))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should deliver every matching record in batches", func() {
			batches, err := collect(ctx, s, ipdr.RecordFilter{}, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(batches).To(HaveLen(3))
			Expect(batches[0]).To(HaveLen(3))
			Expect(batches[2]).To(HaveLen(1))
		})

		It("should respect the filter", func() {
			batches, err := collect(ctx, s, ipdr.RecordFilter{StartFrom: base.Add(5 * time.Minute)}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(batches).To(HaveLen(1))
			Expect(batches[0]).To(HaveLen(2))
		})

		It("should stop and return the callback error", func() {
			stop := errors.New("stop")
			calls := 0
			err := s.ScanRecords(ctx, ipdr.RecordFilter{}, 2, func([]ipdr.Record) error {
				calls++
				return stop
			})
			Expect(err).To(MatchError(stop))
			Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeFalse())
			Expect(calls).To(Equal(1))
		})
	})

	Describe("MarkSuspicious", func() {
		It("should set flags and support filtering on them", func() {
			a, err := s.UpsertRecord(ctx, sampleRecord("1111111111", base, 28.6, 77.2))
			Expect(err).NotTo(HaveOccurred())
			b, err := s.UpsertRecord(ctx, sampleRecord("2222222222", base, 28.6, 77.2))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.UpsertRecord(ctx, sampleRecord("3333333333", base, 28.6, 77.2))
			Expect(err).NotTo(HaveOccurred())

			Expect(s.MarkSuspicious(ctx, map[uint]bool{a.ID: true, b.ID: false})).To(Succeed())

			yes, no := true, false
			flagged, err := s.FindRecords(ctx, ipdr.RecordFilter{Suspicious: &yes})
			Expect(err).NotTo(HaveOccurred())
			Expect(flagged).To(HaveLen(1))
			Expect(flagged[0].PhoneNumber).To(Equal("1111111111"))

			clean, err := s.CountRecords(ctx, ipdr.RecordFilter{Suspicious: &no})
			Expect(err).NotTo(HaveOccurred())
			Expect(clean).To(Equal(int64(2)))
		})
	})

	Describe("Profiles", func() {
		It("should upsert on phone number and find by it", func() {
			p := ipdr.Profile{
				PhoneNumber:            "9876543210",
				IMEI:                   "356938035643809",
				IMSI:                   "404450123456789",
				Name:                   "First",
				AssociatedPhoneNumbers: []string{"9123456780"},
				AssociatedIMEIs:        []string{},
			}
			first, err := s.UpsertProfile(ctx, p)
			Expect(err).NotTo(HaveOccurred())

			p.Name = "Second"
			second, err := s.UpsertProfile(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))

			found, err := s.FindProfiles(ctx, ipdr.ProfileFilter{PhoneNumber: "9876543210"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Name).To(Equal("Second"))
			Expect([]string(found[0].AssociatedPhoneNumbers)).To(Equal([]string{"9123456780"}))
		})
	})

	It("should answer Ping", func() {
		Expect(s.Ping(ctx)).To(Succeed())
	})
}

var _ = Describe("MemoryStore", func() {
	storeBehaviour(func() ipdr.Store { return store.NewMemoryStore() })

	It("should hand out copies that do not alias stored state", func() {
		s := store.NewMemoryStore()
		ctx := context.Background()
		stored, err := s.UpsertRecord(ctx, sampleRecord("1111111111", time.Now(), 28.6, 77.2))
		Expect(err).NotTo(HaveOccurred())

		*stored.OriginLatLong.Lat = 0

		recs, err := s.FindRecords(ctx, ipdr.RecordFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(*recs[0].OriginLatLong.Lat).To(BeNumerically("~", 28.6, 1e-9))
	})

	It("should wrap injected failures in ErrStorageUnavailable", func() {
		s := store.NewMemoryStore()
		s.SetFailure(errors.New("disk on fire"))

		_, err := s.FindRecords(context.Background(), ipdr.RecordFilter{})
		Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("disk on fire"))
	})

	It("should fail on a cancelled context", func() {
		s := store.NewMemoryStore()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.UpsertRecord(ctx, sampleRecord("1111111111", time.Now(), 28.6, 77.2))
		Expect(errors.Is(err, ipdr.ErrStorageUnavailable)).To(BeTrue())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})
})

var _ = Describe("GormStore on SQLite", func() {
	var (
		logger *slog.Logger
		dbs    []*gorm.DB
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	AfterEach(func() {
		for _, db := range dbs {
			Expect(store.CloseDB(db, logger)).To(Succeed())
		}
		dbs = nil
	})

	storeBehaviour(func() ipdr.Store {
		db, err := store.NewDB(&store.DBConfig{
			Logger:     logger,
			Driver:     store.DriverSQLite,
			SQLitePath: ":memory:",
		})
		Expect(err).NotTo(HaveOccurred())
		dbs = append(dbs, db)

		s, err := store.NewGormStore(db, logger, nil)
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})
