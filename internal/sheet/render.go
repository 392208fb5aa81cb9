package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Options tune rendering.
type Options struct {
	// ValuesOnly skips styles, column widths and panes. Merges are kept.
	ValuesOnly bool
	// HeaderRows keeps the styles of the first rows when ValuesOnly is set.
	HeaderRows int
}

// styleCache registers each distinct Style once per workbook.
type styleCache struct {
	f   *excelize.File
	ids map[Style]int
}

func newStyleCache(f *excelize.File) *styleCache {
	return &styleCache{f: f, ids: make(map[Style]int)}
}

func (c *styleCache) id(st Style) (int, error) {
	if st == (Style{}) {
		return 0, nil
	}
	if id, ok := c.ids[st]; ok {
		return id, nil
	}
	id, err := c.f.NewStyle(excelStyle(st))
	if err != nil {
		return 0, fmt.Errorf("register style: %w", err)
	}
	c.ids[st] = id
	return id, nil
}

func excelStyle(st Style) *excelize.Style {
	out := &excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "center", WrapText: st.Wrap},
	}
	if st.Bold {
		out.Font = &excelize.Font{Bold: true}
	}
	if st.Center {
		out.Alignment.Horizontal = "center"
	}
	if st.Top {
		out.Alignment.Vertical = "top"
	}
	if st.Fill != "" {
		out.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{st.Fill}}
	}
	if st.Border {
		for _, side := range []string{"left", "top", "right", "bottom"} {
			out.Border = append(out.Border, excelize.Border{Type: side, Color: "000000", Style: 1})
		}
	}
	return out
}

// Write renders s into the sheet of the same name in f, creating it when
// missing.
func Write(f *excelize.File, s *Sheet, opts Options) error {
	if idx, err := f.GetSheetIndex(s.Name); err != nil {
		return err
	} else if idx < 0 {
		if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("create sheet %q: %w", s.Name, err)
		}
	}

	styles := newStyleCache(f)
	for r, row := range s.Rows {
		plain := opts.ValuesOnly && r >= opts.HeaderRows
		for c, cell := range row {
			if cell.Value == nil && (plain || cell.Style == (Style{})) {
				continue
			}
			ref := CellName(r+1, c+1)
			if cell.Value != nil {
				if err := f.SetCellValue(s.Name, ref, cell.Value); err != nil {
					return fmt.Errorf("set %s!%s: %w", s.Name, ref, err)
				}
			}
			if plain {
				continue
			}
			id, err := styles.id(cell.Style)
			if err != nil {
				return err
			}
			if id != 0 {
				if err := f.SetCellStyle(s.Name, ref, ref, id); err != nil {
					return fmt.Errorf("style %s!%s: %w", s.Name, ref, err)
				}
			}
		}
	}
	for _, m := range s.Merges {
		if err := f.MergeCell(s.Name, CellName(m.Row, m.Col), CellName(m.EndRow, m.EndCol)); err != nil {
			return fmt.Errorf("merge %s: %w", s.Name, err)
		}
	}
	if opts.ValuesOnly {
		return nil
	}

	for _, col := range s.widthColumns() {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(s.Name, name, name, s.Widths[col]); err != nil {
			return fmt.Errorf("width %s!%s: %w", s.Name, name, err)
		}
	}
	if panes := s.panes(); panes != nil {
		if err := f.SetPanes(s.Name, panes); err != nil {
			return fmt.Errorf("freeze %s: %w", s.Name, err)
		}
	}
	return nil
}

// Stream renders s through an excelize stream writer. The target sheet is
// created when missing and its previous contents are discarded.
func Stream(f *excelize.File, s *Sheet) error {
	if idx, err := f.GetSheetIndex(s.Name); err != nil {
		return err
	} else if idx < 0 {
		if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("create sheet %q: %w", s.Name, err)
		}
	}
	sw, err := f.NewStreamWriter(s.Name)
	if err != nil {
		return fmt.Errorf("stream %s: %w", s.Name, err)
	}

	// widths and panes must precede the first row
	for _, col := range s.widthColumns() {
		if err := sw.SetColWidth(col, col, s.Widths[col]); err != nil {
			return fmt.Errorf("width %s: %w", s.Name, err)
		}
	}
	if panes := s.panes(); panes != nil {
		if err := sw.SetPanes(panes); err != nil {
			return fmt.Errorf("freeze %s: %w", s.Name, err)
		}
	}

	styles := newStyleCache(f)
	for r, row := range s.Rows {
		if len(row) == 0 {
			continue
		}
		values := make([]interface{}, len(row))
		for c, cell := range row {
			id, err := styles.id(cell.Style)
			if err != nil {
				return err
			}
			if id == 0 {
				values[c] = cell.Value
				continue
			}
			values[c] = excelize.Cell{StyleID: id, Value: cell.Value}
		}
		if err := sw.SetRow(CellName(r+1, 1), values); err != nil {
			return fmt.Errorf("row %d of %s: %w", r+1, s.Name, err)
		}
	}
	for _, m := range s.Merges {
		if err := sw.MergeCell(CellName(m.Row, m.Col), CellName(m.EndRow, m.EndCol)); err != nil {
			return fmt.Errorf("merge %s: %w", s.Name, err)
		}
	}
	return sw.Flush()
}
