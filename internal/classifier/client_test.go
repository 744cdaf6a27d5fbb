package classifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/ipdr/internal/classifier"
)

var _ = Describe("Client", func() {
	var (
		logger *slog.Logger
		server *httptest.Server
		batch  []classifier.Features
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		batch = []classifier.Features{
			{StartTime: start, EndTime: start.Add(time.Minute), UplinkVolume: 10, DownlinkVolume: 20, AccessType: "4G"},
			{StartTime: start, EndTime: start.Add(time.Hour), UplinkVolume: 1 << 30, DownlinkVolume: 1 << 31, AccessType: "2G"},
		}
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	newClient := func(h http.HandlerFunc) *classifier.Client {
		server = httptest.NewServer(h)
		c, err := classifier.New(classifier.Config{BaseURL: server.URL, Timeout: time.Second, Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	It("should validate its configuration", func() {
		_, err := classifier.New(classifier.Config{BaseURL: "http://localhost"})
		Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		_, err = classifier.New(classifier.Config{Logger: logger})
		Expect(err).To(MatchError(ContainSubstring("base url cannot be empty")))
	})

	It("should post the feature projection and return labels in order", func() {
		c := newClient(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.URL.Path).To(Equal("/predict"))

			body, err := io.ReadAll(r.Body)
			Expect(err).NotTo(HaveOccurred())
			var sent []map[string]any
			Expect(json.Unmarshal(body, &sent)).To(Succeed())
			Expect(sent).To(HaveLen(2))
			Expect(sent[0]).To(HaveKeyWithValue("startTime", "2024-03-01T10:00:00Z"))
			Expect(sent[0]).To(HaveKeyWithValue("accessType", "4G"))
			Expect(sent[0]).NotTo(HaveKey("phoneNumber"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"predictions":[1,-1]}`))
		})

		labels, err := c.Predict(context.Background(), batch)
		Expect(err).NotTo(HaveOccurred())
		Expect(labels).To(Equal([]classifier.Label{classifier.LabelNormal, classifier.LabelSuspicious}))
		Expect(labels[0].Suspicious()).To(BeFalse())
		Expect(labels[1].Suspicious()).To(BeTrue())
	})

	It("should reject a prediction count mismatch", func() {
		c := newClient(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"predictions":[1]}`))
		})

		_, err := c.Predict(context.Background(), batch)
		Expect(errors.Is(err, classifier.ErrCountMismatch)).To(BeTrue())
	})

	It("should wrap error statuses in ErrUnavailable", func() {
		c := newClient(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"detail":"model not ready"}`, http.StatusServiceUnavailable)
		})

		_, err := c.Predict(context.Background(), batch)
		Expect(errors.Is(err, classifier.ErrUnavailable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("503"))
	})

	It("should not call the service for an empty batch", func() {
		called := false
		c := newClient(func(w http.ResponseWriter, _ *http.Request) {
			called = true
		})

		labels, err := c.Predict(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(labels).To(BeEmpty())
		Expect(called).To(BeFalse())
	})
})
