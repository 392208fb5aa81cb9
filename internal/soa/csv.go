package soa

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// WriteCSV writes the schedule as a Procedure by visit grid marked with X.
func WriteCSV(w io.Writer, s *Schedule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Procedure"}, s.Visits...)); err != nil {
		return err
	}
	for _, proc := range s.Procedures {
		record := make([]string, 0, len(s.Visits)+1)
		record = append(record, proc)
		for _, v := range s.Visits {
			mark := ""
			if s.Has(proc, v) {
				mark = "X"
			}
			record = append(record, mark)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a grid written by WriteCSV.
func ReadCSV(r io.Reader) (*Schedule, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read schedule csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read schedule csv: empty file")
	}

	s := &Schedule{ByVisit: make(map[string][]string)}
	if len(records[0]) > 1 {
		s.Visits = append(s.Visits, records[0][1:]...)
	}
	for _, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		proc := rec[0]
		s.Procedures = append(s.Procedures, proc)
		for i, v := range s.Visits {
			if i+1 < len(rec) && strings.TrimSpace(rec[i+1]) != "" {
				s.ByVisit[v] = append(s.ByVisit[v], proc)
			}
		}
	}
	return s, nil
}
