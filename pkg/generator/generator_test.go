package generator_test

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/rowsource"
	"procodus.dev/ipdr/pkg/generator"
)

var _ = Describe("Generator", func() {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	newGenerator := func(seed uint64) *generator.Generator {
		g, err := generator.New(generator.Config{Seed: seed, Subscribers: 5, From: from, To: to})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	It("should build a pool of distinct subscribers", func() {
		subs := newGenerator(7).Subscribers()
		Expect(subs).To(HaveLen(5))

		phones := map[string]bool{}
		for _, s := range subs {
			Expect(s.PhoneNumber).To(MatchRegexp(`^\d{10}$`))
			Expect(s.IMEI).To(MatchRegexp(`^\d{15}$`))
			Expect(s.IMSI).To(MatchRegexp(`^\d{15}$`))
			phones[s.PhoneNumber] = true
		}
		Expect(phones).To(HaveLen(5))
	})

	It("should be reproducible for a fixed seed", func() {
		a, b := newGenerator(42), newGenerator(42)
		Expect(a.IPDR()).To(Equal(b.IPDR()))
		Expect(a.Profiles()).To(Equal(b.Profiles()))
	})

	It("should reject an empty time range", func() {
		_, err := generator.New(generator.Config{From: to, To: from})
		Expect(err).To(MatchError(ContainSubstring("not before")))
	})

	It("should produce rows the normalizer accepts", func() {
		g := newGenerator(3)
		n := ipdr.NewNormalizer(time.UTC)

		for range 50 {
			rec, err := n.Normalize(ipdr.RawRow(g.IPDR()))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.OriginLatLong.Complete()).To(BeTrue())
			Expect(rec.StartTime).To(BeTemporally(">=", from))
			Expect(rec.StartTime).To(BeTemporally("<=", to))
		}
		for _, row := range g.Profiles() {
			_, err := n.NormalizeProfile(ipdr.RawRow(row))
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("should keep sessions near a hotspot", func() {
		g, err := generator.New(generator.Config{
			Seed:     9,
			Hotspots: []generator.Hotspot{{Name: "Delhi", Lat: 28.6139, Long: 77.2090}},
			SpreadKm: 2,
		})
		Expect(err).NotTo(HaveOccurred())

		for range 20 {
			row := g.IPDR()
			Expect(row["originLat"]).To(BeNumerically("~", 28.6139, 0.02))
			Expect(row["originLong"]).To(BeNumerically("~", 77.2090, 0.02))
		}
	})
})

var _ = Describe("Writers", func() {
	var g *generator.Generator

	BeforeEach(func() {
		var err error
		g, err = generator.New(generator.Config{Seed: 11, Subscribers: 3})
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("should pick the format from the extension",
		func(path string, want generator.Format) {
			got, err := generator.FormatFor(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("csv", "out/ipdr.csv", generator.FormatCSV),
		Entry("json", "ipdr.JSON", generator.FormatJSON),
		Entry("xlsx", "ipdr.xlsx", generator.FormatXLSX),
	)

	It("should refuse unknown extensions", func() {
		_, err := generator.FormatFor("ipdr.parquet")
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("should write files the row sources read back",
		func(name string) {
			format, err := generator.FormatFor(name)
			Expect(err).NotTo(HaveOccurred())

			rows := []map[string]any{g.IPDR(), g.IPDR(), g.IPDR(), g.IPDR()}
			var buf bytes.Buffer
			Expect(generator.Write(&buf, format, generator.IPDRColumns, rows)).To(Succeed())

			source, err := rowsource.Open(name, bytes.NewReader(buf.Bytes()))
			Expect(err).NotTo(HaveOccurred())

			n := ipdr.NewNormalizer(time.UTC)
			count := 0
			for row, err := range source {
				Expect(err).NotTo(HaveOccurred())
				rec, err := n.Normalize(row)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.PhoneNumber).To(Equal(rows[count]["phoneNumber"]))
				count++
			}
			Expect(count).To(Equal(len(rows)))
		},
		Entry("CSV", "ipdr.csv"),
		Entry("JSON", "ipdr.json"),
		Entry("XLSX", "ipdr.xlsx"),
	)

	It("should join list columns in CSV output", func() {
		var buf bytes.Buffer
		Expect(generator.WriteCSV(&buf, generator.ProfileColumns, g.Profiles())).To(Succeed())
		Expect(buf.String()).To(HavePrefix("phoneNumber,imei,imsi,name,age"))
	})
})
