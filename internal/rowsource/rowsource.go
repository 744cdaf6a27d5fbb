// Package rowsource decodes uploaded CSV, JSON and XLSX files into raw rows
// for the ingestion pipeline.
package rowsource

import (
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"procodus.dev/ipdr/internal/ipdr"
)

// Format is a supported input file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

var (
	// ErrUnsupportedFormat is returned for file names without a known extension.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", ipdr.ErrInvalidRequest)
	// ErrNoHeader is returned for tabular files without a header row.
	ErrNoHeader = fmt.Errorf("%w: file has no header row", ipdr.ErrInvalidRequest)
)

// DetectFormat picks the format from the file extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Open detects the format of name and returns its rows. Errors about the
// file as a whole are returned directly; a row that cannot be decoded is
// yielded as an error and the rows after it are still produced.
func Open(name string, r io.Reader) (iter.Seq2[ipdr.RawRow, error], error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	return OpenFormat(format, r)
}

// OpenFormat returns the rows of r decoded as format.
func OpenFormat(format Format, r io.Reader) (iter.Seq2[ipdr.RawRow, error], error) {
	switch format {
	case FormatCSV:
		return CSV(r)
	case FormatJSON:
		return JSON(r)
	case FormatXLSX:
		return XLSX(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// header cleans header cells. Blank cells map to "" and their column is dropped.
func header(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func hasColumns(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return true
		}
	}
	return false
}

// zip pairs cells with their column names. Blank rows come back as nil.
func zip(cols, cells []string) ipdr.RawRow {
	row := ipdr.RawRow{}
	blank := true
	for i, c := range cells {
		if i >= len(cols) || cols[i] == "" {
			continue
		}
		if strings.TrimSpace(c) != "" {
			blank = false
		}
		row[cols[i]] = c
	}
	if blank {
		return nil
	}
	return row
}
