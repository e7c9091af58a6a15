package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoColumns is returned when a dataset has no headers.
var ErrNoColumns = errors.New("dataset has no columns")

// Dataset is tabular export content. Rows are keyed by header; missing keys render empty.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Record returns row i ordered by Headers.
func (d Dataset) Record(i int) []string {
	out := make([]string, len(d.Headers))
	for j, h := range d.Headers {
		out[j] = d.Rows[i][h]
	}
	return out
}

// CSVExporter writes datasets as RFC 4180 CSV.
type CSVExporter struct {
	// BOM prefixes the output with a UTF-8 byte order mark for spreadsheet tools.
	BOM bool
	// Comma overrides the field delimiter when non-zero.
	Comma rune
}

// NewCSVExporter builds a CSV exporter with a BOM and comma delimiter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{BOM: true}
}

// Render returns the dataset as CSV bytes.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Write(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the dataset to w. Cells that a spreadsheet would evaluate as a formula are
// prefixed with a single quote.
func (e *CSVExporter) Write(w io.Writer, data Dataset) error {
	if len(data.Headers) == 0 {
		return ErrNoColumns
	}
	if e.BOM {
		if _, err := io.WriteString(w, "\ufeff"); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}
	cw := csv.NewWriter(w)
	if e.Comma != 0 {
		cw.Comma = e.Comma
	}
	if err := cw.Write(data.Headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	for i := range data.Rows {
		record := data.Record(i)
		for j, cell := range record {
			record[j] = neutralize(cell)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func neutralize(cell string) string {
	if cell == "" || !strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		return cell
	}
	return "'" + cell
}
