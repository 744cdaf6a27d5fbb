package geoloc_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/ipdr/internal/geoloc"
)

const nominatimBody = `[
  {"lat":"28.6139","lon":"77.2090","display_name":"New Delhi, Delhi, India","address":{"country":"India"}},
  {"lat":"bad","lon":"77.0","display_name":"Broken"},
  {"lat":"28.7041","lon":"77.1025","display_name":"Delhi, India","address":{"country":"India"}}
]`

var _ = Describe("NominatimGeocoder", func() {
	var (
		logger *slog.Logger
		server *httptest.Server
		calls  atomic.Int32
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		calls.Store(0)
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	serve := func(h http.HandlerFunc) *geoloc.NominatimGeocoder {
		server = httptest.NewServer(h)
		g, err := geoloc.NewNominatimGeocoder(geoloc.NominatimConfig{
			BaseURL:   server.URL,
			UserAgent: "ipdr-test",
			Timeout:   200 * time.Millisecond,
			Logger:    logger,
		})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	Describe("NewNominatimGeocoder", func() {
		It("should require a logger", func() {
			_, err := geoloc.NewNominatimGeocoder(geoloc.NominatimConfig{BaseURL: "http://localhost"})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should require a base url", func() {
			_, err := geoloc.NewNominatimGeocoder(geoloc.NominatimConfig{Logger: logger})
			Expect(err).To(MatchError(ContainSubstring("base url cannot be empty")))
		})
	})

	Describe("Geocode", func() {
		It("should send the search parameters and parse places", func() {
			g := serve(func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				calls.Add(1)
				Expect(r.URL.Path).To(Equal("/search"))
				Expect(r.URL.Query().Get("q")).To(Equal("connaught place"))
				Expect(r.URL.Query().Get("format")).To(Equal("jsonv2"))
				Expect(r.URL.Query().Get("limit")).To(Equal("5"))
				Expect(r.Header.Get("User-Agent")).To(Equal("ipdr-test"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(nominatimBody))
			})

			places, err := g.Geocode(context.Background(), "connaught place")
			Expect(err).NotTo(HaveOccurred())
			Expect(calls.Load()).To(Equal(int32(1)))
			Expect(places).To(HaveLen(2))
			Expect(places[0]).To(Equal(geoloc.Place{
				Lat:              28.6139,
				Long:             77.2090,
				FormattedAddress: "New Delhi, Delhi, India",
				Country:          "India",
			}))
			Expect(places[1].FormattedAddress).To(Equal("Delhi, India"))
		})

		It("should return an empty slice when nothing matches", func() {
			g := serve(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[]`))
			})

			places, err := g.Geocode(context.Background(), "nowhere")
			Expect(err).NotTo(HaveOccurred())
			Expect(places).To(BeEmpty())
		})

		It("should map error statuses to ErrUpstreamError without retrying", func() {
			g := serve(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadGateway)
			})

			_, err := g.Geocode(context.Background(), "delhi")
			Expect(errors.Is(err, geoloc.ErrUpstreamError)).To(BeTrue())
			Expect(errors.Is(err, geoloc.ErrUpstreamTimeout)).To(BeFalse())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("should map slow responses to ErrUpstreamTimeout", func() {
			g := serve(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[]`))
			})

			_, err := g.Geocode(context.Background(), "delhi")
			Expect(errors.Is(err, geoloc.ErrUpstreamTimeout)).To(BeTrue())
		})

		It("should honour a caller deadline", func() {
			g := serve(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			})

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err := g.Geocode(ctx, "delhi")
			Expect(errors.Is(err, geoloc.ErrUpstreamTimeout)).To(BeTrue())
		})
	})
})
