package events

import (
	"fmt"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/ptd-generator/internal/sheet"
)

// SheetName is the worksheet the event table is written to.
const SheetName = "Sheet1"

// Sheet lays the events out as a table with a header row.
func Sheet(events []Event, columns []string) *sheet.Sheet {
	if len(columns) == 0 {
		columns = Columns
	}
	columns = slices.DeleteFunc(slices.Clone(columns), func(c string) bool {
		return !slices.Contains(Columns, c)
	})
	s := sheet.New(SheetName)
	bold := sheet.Style{Bold: true, Border: true, Center: true}
	for c, name := range columns {
		s.Set(1, c+1, name, bold)
	}
	for r, ev := range events {
		for c, name := range columns {
			s.Set(r+2, c+1, ev.Value(name), sheet.Style{})
		}
	}
	return s
}

// WriteXLSX saves the event table as a workbook.
func WriteXLSX(path string, events []Event, columns []string) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := sheet.Write(f, Sheet(events, columns), sheet.Options{}); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
