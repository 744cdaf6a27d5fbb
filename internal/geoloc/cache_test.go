package geoloc_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/ipdr/internal/geoloc"
)

type stubGeocoder struct {
	mu     sync.Mutex
	places []geoloc.Place
	err    error
	calls  int
}

func (s *stubGeocoder) Geocode(_ context.Context, _ string) ([]geoloc.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.places, s.err
}

var _ = Describe("CachedGeocoder", func() {
	var (
		logger *slog.Logger
		mr     *miniredis.Miniredis
		client *redis.Client
		stub   *stubGeocoder
		cache  *geoloc.CachedGeocoder
		ctx    context.Context
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		ctx = context.Background()

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})

		stub = &stubGeocoder{places: []geoloc.Place{{Lat: 28.6, Long: 77.2, FormattedAddress: "New Delhi"}}}
		cache, err = geoloc.NewCachedGeocoder(geoloc.CacheConfig{
			Next:   stub,
			Client: client,
			TTL:    time.Hour,
			Logger: logger,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = client.Close()
		mr.Close()
	})

	It("should validate its configuration", func() {
		_, err := geoloc.NewCachedGeocoder(geoloc.CacheConfig{Client: client, Logger: logger})
		Expect(err).To(MatchError(ContainSubstring("wrapped geocoder cannot be nil")))
		_, err = geoloc.NewCachedGeocoder(geoloc.CacheConfig{Next: stub, Logger: logger})
		Expect(err).To(MatchError(ContainSubstring("redis client cannot be nil")))
	})

	It("should serve repeated queries from redis", func() {
		first, err := cache.Geocode(ctx, "New Delhi")
		Expect(err).NotTo(HaveOccurred())
		second, err := cache.Geocode(ctx, "  new   delhi ")
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
		Expect(stub.calls).To(Equal(1))
		Expect(mr.Exists(geoloc.CacheKey("New Delhi"))).To(BeTrue())
		Expect(mr.TTL(geoloc.CacheKey("New Delhi"))).To(Equal(time.Hour))
	})

	It("should expire entries after the ttl", func() {
		_, err := cache.Geocode(ctx, "New Delhi")
		Expect(err).NotTo(HaveOccurred())

		mr.FastForward(2 * time.Hour)

		_, err = cache.Geocode(ctx, "New Delhi")
		Expect(err).NotTo(HaveOccurred())
		Expect(stub.calls).To(Equal(2))
	})

	It("should not cache empty answers", func() {
		stub.places = nil

		places, err := cache.Geocode(ctx, "nowhere")
		Expect(err).NotTo(HaveOccurred())
		Expect(places).To(BeEmpty())
		Expect(mr.Exists(geoloc.CacheKey("nowhere"))).To(BeFalse())
	})

	It("should pass upstream errors through uncached", func() {
		stub.err = geoloc.ErrUpstreamTimeout

		_, err := cache.Geocode(ctx, "delhi")
		Expect(errors.Is(err, geoloc.ErrUpstreamTimeout)).To(BeTrue())
		Expect(mr.Keys()).To(BeEmpty())
	})

	It("should replace corrupt entries", func() {
		Expect(mr.Set(geoloc.CacheKey("delhi"), "not json")).To(Succeed())

		places, err := cache.Geocode(ctx, "delhi")
		Expect(err).NotTo(HaveOccurred())
		Expect(places).To(HaveLen(1))
		Expect(stub.calls).To(Equal(1))
	})

	It("should fall through when redis is down", func() {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
		defer func() { _ = down.Close() }()

		uncached, err := geoloc.NewCachedGeocoder(geoloc.CacheConfig{Next: stub, Client: down, Logger: logger})
		Expect(err).NotTo(HaveOccurred())

		places, err := uncached.Geocode(ctx, "delhi")
		Expect(err).NotTo(HaveOccurred())
		Expect(places).To(HaveLen(1))
		Expect(stub.calls).To(Equal(1))
	})
})
