package matrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Header returns the full column header: the fixed columns then the visits.
func (m *Matrix) Header() []string {
	return append(append([]string{}, Columns...), m.Visits...)
}

// Record returns a row as cell texts in Header order.
func (m *Matrix) Record(r Row) []string {
	rec := []string{r.FormLabel, r.FormName, r.Source, r.IsDynamic, r.DynamicCriteria}
	for _, v := range m.Visits {
		rec = append(rec, r.Value(v))
	}
	return rec
}

// WriteCSV writes the matrix.
func WriteCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(m.Header()); err != nil {
		return err
	}
	for _, r := range m.Rows {
		if err := cw.Write(m.Record(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a matrix written by WriteCSV.
func ReadCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read matrix csv: %w", err)
	}
	if len(records) == 0 || len(records[0]) < len(Columns) {
		return nil, fmt.Errorf("read matrix csv: missing header")
	}

	m := &Matrix{Visits: append([]string{}, records[0][len(Columns):]...)}
	for _, rec := range records[1:] {
		cell := func(i int) string {
			if i < len(rec) {
				return rec[i]
			}
			return ""
		}
		row := Row{
			FormLabel:       cell(0),
			FormName:        cell(1),
			Source:          cell(2),
			IsDynamic:       cell(3),
			DynamicCriteria: cell(4),
			Numbers:         make(map[string]int),
		}
		for i, v := range m.Visits {
			text := strings.TrimSpace(cell(len(Columns) + i))
			if text == "" {
				continue
			}
			// counters may have been written as floats
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("read matrix csv: visit %s: %w", v, err)
			}
			row.Numbers[v] = int(n)
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}
