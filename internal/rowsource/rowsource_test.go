package rowsource_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"iter"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/rowsource"
)

type result struct {
	rows []ipdr.RawRow
	errs []error
}

func drain(seq iter.Seq2[ipdr.RawRow, error]) result {
	var res result
	for row, err := range seq {
		if err != nil {
			res.errs = append(res.errs, err)
			continue
		}
		res.rows = append(res.rows, row)
	}
	return res
}

func workbook(rows ...[]any) *bytes.Buffer {
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.SetSheetRow("Sheet1", cell, &row)).To(Succeed())
	}
	buf, err := f.WriteToBuffer()
	Expect(err).NotTo(HaveOccurred())
	return buf
}

var _ = Describe("DetectFormat", func() {
	DescribeTable("should map extensions",
		func(name string, want rowsource.Format) {
			got, err := rowsource.DetectFormat(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("csv", "ipdr.csv", rowsource.FormatCSV),
		Entry("upper case", "IPDR.CSV", rowsource.FormatCSV),
		Entry("json", "/tmp/upload/records.json", rowsource.FormatJSON),
		Entry("xlsx", "march.xlsx", rowsource.FormatXLSX),
	)

	It("should reject unknown extensions as invalid requests", func() {
		_, err := rowsource.DetectFormat("records.pdf")
		Expect(errors.Is(err, rowsource.ErrUnsupportedFormat)).To(BeTrue())
		Expect(errors.Is(err, ipdr.ErrInvalidRequest)).To(BeTrue())
	})
})

var _ = Describe("CSV", func() {
	It("should map every line onto the header", func() {
		in := "\ufeffphoneNumber, startTime ,originLat\n" +
			"9876543210,01-03-2024 10:00:00,28.6\n" +
			"\"9123456780\",\"2024-03-01\",\n"

		seq, err := rowsource.Open("data.csv", strings.NewReader(in))
		Expect(err).NotTo(HaveOccurred())

		res := drain(seq)
		Expect(res.errs).To(BeEmpty())
		Expect(res.rows).To(HaveLen(2))
		Expect(res.rows[0]).To(Equal(ipdr.RawRow{
			"phoneNumber": "9876543210",
			"startTime":   "01-03-2024 10:00:00",
			"originLat":   "28.6",
		}))
		Expect(res.rows[1]["originLat"]).To(Equal(""))
	})

	It("should yield short and long lines as errors and keep going", func() {
		in := "a,b,c\n1,2,3\n1,2\n4,5,6\n1,2,3,4\n"

		seq, err := rowsource.CSV(strings.NewReader(in))
		Expect(err).NotTo(HaveOccurred())

		res := drain(seq)
		Expect(res.rows).To(HaveLen(2))
		Expect(res.errs).To(HaveLen(2))
		Expect(res.errs[0].Error()).To(ContainSubstring("line 3"))
	})

	It("should skip blank lines", func() {
		seq, err := rowsource.CSV(strings.NewReader("a,b\n\n,\n1,2\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(drain(seq).rows).To(HaveLen(1))
	})

	It("should fail on an empty file", func() {
		_, err := rowsource.CSV(strings.NewReader(""))
		Expect(err).To(MatchError(rowsource.ErrNoHeader))
	})

	It("should stop when the consumer stops", func() {
		seq, err := rowsource.CSV(strings.NewReader("a\n1\n2\n3\n"))
		Expect(err).NotTo(HaveOccurred())

		n := 0
		for range seq {
			n++
			break
		}
		Expect(n).To(Equal(1))
	})
})

var _ = Describe("JSON", func() {
	It("should decode an array of objects keeping numbers exact", func() {
		in := `[
			{"phoneNumber": 9876543210, "imei": "356938035643809", "originLatLong": {"lat": 28.6, "long": 77.2}},
			{"phoneNumber": "9123456780"}
		]`
		seq, err := rowsource.Open("rows.json", strings.NewReader(in))
		Expect(err).NotTo(HaveOccurred())

		res := drain(seq)
		Expect(res.errs).To(BeEmpty())
		Expect(res.rows).To(HaveLen(2))
		Expect(res.rows[0]["phoneNumber"]).To(Equal(json.Number("9876543210")))
		Expect(res.rows[0]["originLatLong"]).To(HaveKeyWithValue("lat", json.Number("28.6")))
	})

	It("should decode a single object", func() {
		seq, err := rowsource.JSON(strings.NewReader(`  {"phoneNumber": "9876543210"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(drain(seq).rows).To(HaveLen(1))
	})

	It("should yield non-object elements as errors", func() {
		seq, err := rowsource.JSON(strings.NewReader(`[{"a": 1}, 42, null, {"a": 2}]`))
		Expect(err).NotTo(HaveOccurred())

		res := drain(seq)
		Expect(res.rows).To(HaveLen(2))
		Expect(res.errs).To(HaveLen(2))
		Expect(res.errs[0].Error()).To(ContainSubstring("element 2"))
	})

	It("should stop at a syntax error", func() {
		seq, err := rowsource.JSON(strings.NewReader(`[{"a": 1}, {"a": ]`))
		Expect(err).NotTo(HaveOccurred())

		res := drain(seq)
		Expect(res.rows).To(HaveLen(1))
		Expect(res.errs).To(HaveLen(1))
	})

	DescribeTable("should reject documents that are not rows",
		func(in string) {
			_, err := rowsource.JSON(strings.NewReader(in))
			Expect(errors.Is(err, ipdr.ErrInvalidRequest)).To(BeTrue())
		},
		Entry("empty", "   "),
		Entry("scalar", `"hello"`),
		Entry("broken object", `{"a": `),
	)
})

var _ = Describe("XLSX", func() {
	It("should read the first sheet using its header row", func() {
		buf := workbook(
			[]any{"phoneNumber", "startTime", "originLat"},
			[]any{"9876543210", "2024-03-01T10:00:00Z", "28.6"},
			[]any{},
			[]any{"9123456780", "2024-03-02", "19.07", "ignored"},
		)

		seq, err := rowsource.Open("march.xlsx", buf)
		Expect(err).NotTo(HaveOccurred())

		res := drain(seq)
		Expect(res.errs).To(BeEmpty())
		Expect(res.rows).To(HaveLen(2))
		Expect(res.rows[0]).To(Equal(ipdr.RawRow{
			"phoneNumber": "9876543210",
			"startTime":   "2024-03-01T10:00:00Z",
			"originLat":   "28.6",
		}))
		Expect(res.rows[1]).To(HaveLen(3))
	})

	It("should leave trailing empty cells absent", func() {
		buf := workbook(
			[]any{"phoneNumber", "imei"},
			[]any{"9876543210"},
		)
		seq, err := rowsource.XLSX(buf)
		Expect(err).NotTo(HaveOccurred())

		rows := drain(seq).rows
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].Has("imei")).To(BeFalse())
	})

	It("should fail on an empty workbook", func() {
		_, err := rowsource.XLSX(workbook())
		Expect(err).To(MatchError(rowsource.ErrNoHeader))
	})

	It("should fail on bytes that are not a workbook", func() {
		_, err := rowsource.XLSX(strings.NewReader("definitely,not,a,zip"))
		Expect(errors.Is(err, ipdr.ErrInvalidRequest)).To(BeTrue())
	})
})
