package rowsource

import (
	"fmt"
	"io"
	"iter"

	"github.com/xuri/excelize/v2"

	"procodus.dev/ipdr/internal/ipdr"
)

// XLSX reads the first sheet of a workbook. The first row is the header;
// cells past the last header column are ignored. Cells keep their displayed
// text, so timestamp columns should be formatted as text or ISO dates.
func XLSX(r io.Reader) (iter.Seq2[ipdr.RawRow, error], error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse workbook: %w", ipdr.ErrInvalidRequest, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ipdr.ErrInvalidRequest)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read rows: %w", ipdr.ErrInvalidRequest, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}

	cols := header(rows[0])
	if !hasColumns(cols) {
		return nil, ErrNoHeader
	}

	return func(yield func(ipdr.RawRow, error) bool) {
		for _, cells := range rows[1:] {
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
