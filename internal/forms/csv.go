package forms

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Columns is the header of the forms CSV.
var Columns = []string{
	"Form Label", "Form Name", "Source", "Visits",
	"Dynamic Trigger", "Trigger Details", "Required",
}

const utf8BOM = "\ufeff"

// YesNo renders a flag the way the forms table stores it.
func YesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Record returns the form as a CSV row in Columns order.
func (f Form) Record() []string {
	return []string{
		f.Label, f.Name, f.Source, f.Visits,
		YesNo(f.DynamicTrigger), f.TriggerDetails, YesNo(f.Required),
	}
}

// WriteCSV writes forms with a byte-order mark so spreadsheet tools detect UTF-8.
func WriteCSV(w io.Writer, forms []Form) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, f := range forms {
		if err := cw.Write(f.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a forms CSV written by WriteCSV or by hand. Columns are
// located by header name; missing optional columns read as empty.
func ReadCSV(r io.Reader) ([]Form, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read forms csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	index := make(map[string]int)
	for i, name := range records[0] {
		index[strings.TrimSpace(strings.TrimPrefix(name, utf8BOM))] = i
	}
	if _, ok := index["Form Label"]; !ok {
		return nil, fmt.Errorf("read forms csv: missing %q column", "Form Label")
	}
	get := func(rec []string, col string) string {
		if i, ok := index[col]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	out := make([]Form, 0, len(records)-1)
	for _, rec := range records[1:] {
		out = append(out, Form{
			Label:          get(rec, "Form Label"),
			Name:           get(rec, "Form Name"),
			Source:         get(rec, "Source"),
			Visits:         get(rec, "Visits"),
			DynamicTrigger: strings.EqualFold(get(rec, "Dynamic Trigger"), "Yes"),
			TriggerDetails: get(rec, "Trigger Details"),
			Required:       strings.EqualFold(get(rec, "Required"), "Yes"),
		})
	}
	return out, nil
}
