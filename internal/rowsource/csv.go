package rowsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"

	"procodus.dev/ipdr/internal/ipdr"
)

// CSV reads a header line followed by data lines. A line with a different
// number of fields than the header is yielded as an error.
func CSV(r io.Reader) (iter.Seq2[ipdr.RawRow, error], error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading csv header: %w", ipdr.ErrInvalidRequest, err)
	}
	cols := header(first)
	if !hasColumns(cols) {
		return nil, ErrNoHeader
	}

	return func(yield func(ipdr.RawRow, error) bool) {
		for {
			cells, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var parseErr *csv.ParseError
				if !yield(nil, err) || !errors.As(err, &parseErr) {
					return
				}
				continue
			}

			if len(cells) != len(cols) {
				line, _ := cr.FieldPos(0)
				if !yield(nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(cells), len(cols))) {
					return
				}
				continue
			}

			row := zip(cols, cells)
			if row == nil {
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}, nil
}
