// Package sheet holds an in-memory worksheet model and renders it into
// workbooks through excelize, either cell by cell or through a stream writer,
// or as bare worksheet XML.
package sheet

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

// Style is a comparable cell style. The zero Style means unstyled.
type Style struct {
	Bold   bool
	Fill   string // RGB hex, e.g. "D9E1F2"
	Center bool
	Wrap   bool
	Border bool
	// Top aligns vertically to the top instead of the centre.
	Top bool
}

// Cell is a value and its style. A nil value leaves the cell blank.
type Cell struct {
	Value interface{}
	Style Style
}

// Range is an inclusive, 1-based cell range.
type Range struct {
	Row, Col       int
	EndRow, EndCol int
}

// Sheet is a worksheet under construction. Rows and columns are 1-based.
type Sheet struct {
	Name   string
	Rows   [][]Cell
	Merges []Range
	Widths map[int]float64
	// FreezeRow and FreezeCol name the top-left scrolling cell; zero leaves
	// the sheet unfrozen.
	FreezeRow int
	FreezeCol int
}

// New returns an empty sheet.
func New(name string) *Sheet {
	return &Sheet{Name: name, Widths: make(map[int]float64)}
}

// Set stores a styled value.
func (s *Sheet) Set(row, col int, value interface{}, style Style) {
	if row < 1 || col < 1 {
		panic(fmt.Sprintf("sheet: invalid cell (%d, %d)", row, col))
	}
	for len(s.Rows) < row {
		s.Rows = append(s.Rows, nil)
	}
	r := s.Rows[row-1]
	for len(r) < col {
		r = append(r, Cell{})
	}
	r[col-1] = Cell{Value: value, Style: style}
	s.Rows[row-1] = r
}

// Get returns the cell at (row, col), or the zero Cell.
func (s *Sheet) Get(row, col int) Cell {
	if row < 1 || row > len(s.Rows) || col < 1 || col > len(s.Rows[row-1]) {
		return Cell{}
	}
	return s.Rows[row-1][col-1]
}

// Merge records a merged range. Single-cell ranges are ignored.
func (s *Sheet) Merge(row, col, endRow, endCol int) {
	if row == endRow && col == endCol {
		return
	}
	s.Merges = append(s.Merges, Range{Row: row, Col: col, EndRow: endRow, EndCol: endCol})
}

// SetWidth sets a column width.
func (s *Sheet) SetWidth(col int, width float64) {
	s.Widths[col] = width
}

// Freeze freezes the rows above row and the columns left of col.
func (s *Sheet) Freeze(row, col int) {
	s.FreezeRow, s.FreezeCol = row, col
}

// MaxCol returns the widest row's length.
func (s *Sheet) MaxCol() int {
	n := 0
	for _, r := range s.Rows {
		n = max(n, len(r))
	}
	return n
}

// AutoWidth sizes every column to its longest text plus pad, clamped to
// [minWidth, maxWidth].
func (s *Sheet) AutoWidth(minWidth, maxWidth, pad float64) {
	longest := make(map[int]int)
	for _, r := range s.Rows {
		for c, cell := range r {
			if cell.Value == nil {
				continue
			}
			longest[c+1] = max(longest[c+1], len([]rune(fmt.Sprint(cell.Value))))
		}
	}
	for col := 1; col <= s.MaxCol(); col++ {
		w := float64(longest[col]) + pad
		s.Widths[col] = max(minWidth, min(maxWidth, w))
	}
}

func (s *Sheet) widthColumns() []int {
	cols := make([]int, 0, len(s.Widths))
	for c := range s.Widths {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// CellName converts 1-based coordinates to an A1 reference.
func CellName(row, col int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(err)
	}
	return name
}

func (s *Sheet) panes() *excelize.Panes {
	if s.FreezeRow <= 1 && s.FreezeCol <= 1 {
		return nil
	}
	topLeft := CellName(max(s.FreezeRow, 1), max(s.FreezeCol, 1))
	return &excelize.Panes{
		Freeze:      true,
		XSplit:      max(s.FreezeCol-1, 0),
		YSplit:      max(s.FreezeRow-1, 0),
		TopLeftCell: topLeft,
		ActivePane:  "bottomRight",
		Selection: []excelize.Selection{
			{SQRef: topLeft, ActiveCell: topLeft, Pane: "bottomRight"},
		},
	}
}
