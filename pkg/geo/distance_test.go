package geo_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/ipdr/pkg/geo"
)

var _ = Describe("DistanceKm", func() {
	It("should be zero for identical points", func() {
		d, err := geo.DistanceKm(28.6139, 77.2090, 28.6139, 77.2090)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNumerically("==", 0))
	})

	It("should be symmetric", func() {
		ab, err := geo.DistanceKm(28.6139, 77.2090, 19.0760, 72.8777)
		Expect(err).NotTo(HaveOccurred())
		ba, err := geo.DistanceKm(19.0760, 72.8777, 28.6139, 77.2090)
		Expect(err).NotTo(HaveOccurred())
		Expect(ab).To(BeNumerically("~", ba, 1e-9))
	})

	It("should measure Delhi to Mumbai at roughly 1150 km", func() {
		d, err := geo.DistanceKm(28.6139, 77.2090, 19.0760, 72.8777)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNumerically("~", 1150, 10))
	})

	It("should measure one degree of latitude at about 111.19 km", func() {
		d, err := geo.DistanceKm(0, 0, 1, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNumerically("~", 111.19, 0.01))
	})

	It("should measure a small offset near the reference point", func() {
		d, err := geo.DistanceKm(28.6139, 77.2090, 28.6200, 77.2100)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNumerically("~", 0.685, 0.01))
	})

	It("should measure antipodal points at half the circumference", func() {
		d, err := geo.DistanceKm(0, 0, 0, 180)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeNumerically("~", math.Pi*geo.EarthRadiusKm, 1e-6))
	})

	It("should return finite values for out-of-range coordinates", func() {
		d, err := geo.DistanceKm(200, 400, -95, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(math.IsNaN(d) || math.IsInf(d, 0)).To(BeFalse())
	})

	DescribeTable("should reject non-finite input",
		func(lat1, long1, lat2, long2 float64) {
			_, err := geo.DistanceKm(lat1, long1, lat2, long2)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, geo.ErrInvalidInput)).To(BeTrue())
		},
		Entry("NaN latitude", math.NaN(), 0.0, 0.0, 0.0),
		Entry("NaN longitude", 0.0, 0.0, 0.0, math.NaN()),
		Entry("positive infinity", math.Inf(1), 0.0, 0.0, 0.0),
		Entry("negative infinity", 0.0, 0.0, math.Inf(-1), 0.0),
	)
})

var _ = Describe("Within", func() {
	It("should include points exactly on the radius boundary", func() {
		d, err := geo.DistanceKm(10, 10, 10.05, 10.05)
		Expect(err).NotTo(HaveOccurred())

		ok, err := geo.Within(10, 10, 10.05, 10.05, d)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("should exclude points beyond the radius", func() {
		ok, err := geo.Within(28.6139, 77.2090, 19.0760, 72.8777, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should propagate invalid input", func() {
		_, err := geo.Within(math.NaN(), 0, 0, 0, 5)
		Expect(errors.Is(err, geo.ErrInvalidInput)).To(BeTrue())
	})
})
