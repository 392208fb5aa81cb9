package studyforms

import (
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/sheet"
)

// SheetName is the worksheet written by Sheet.
const SheetName = "Study Specific Forms"

const firstDataRow = 4

// Row is one item line of the sheet. Columns the pipeline cannot infer
// (source, display format, SDTM names, progressive display, notes) are left
// for the study team and have no field.
type Row struct {
	FormLabel       string
	FormName        string
	ItemGroup       string
	GroupRepeating  string
	RepeatMax       int
	ItemOrder       int
	ItemLabel       string
	DataType        string
	FieldLength     string
	Precision       string
	Choices         string
	ControlType     string
	Range           string
	QueryFutureDate string
	Required        string
	OpenQuery       string
}

// Values returns the row laid out in Columns order.
func (r Row) Values() []interface{} {
	return []interface{}{
		"",
		r.FormLabel,
		r.FormName,
		r.ItemGroup,
		r.GroupRepeating,
		r.RepeatMax,
		"",
		"",
		r.ItemOrder,
		r.ItemLabel,
		"",
		"", "", "",
		r.DataType,
		r.FieldLength,
		r.Precision,
		r.Choices,
		"",
		"",
		r.ControlType,
		r.Range,
		r.QueryFutureDate,
		r.Required,
		r.OpenQuery,
		"",
	}
}

// ColumnGroup is a coloured band of the second header row.
type ColumnGroup struct {
	Name    string
	Fill    string
	Columns []string
}

// Groups lists the header bands and their column titles.
var Groups = []ColumnGroup{
	{"Source", "E7E6E6", []string{"New or Copied from Study"}},
	{"Form", "C6EFCE", []string{
		"Form Label",
		"Form Name (provided by SDTM Programmer, if SDTM linked form)",
	}},
	{"Item Group", "B3E5FC", []string{
		"Item Group (if only one on form, recommend same as Form Label)",
		"Item group Repeating",
		"Repeat Maximum, if known, else default =50",
		"Display format of repeating item group (Grid, read only, form)",
		"Default Data in repeating item group",
	}},
	{"Item", "FFD7A8", []string{
		"Item Order",
		"Item Label",
		"Item Name (provided by SDTM Programmer, if SDTM linked item)",
	}},
	{"Progressive Display", "B3E5FC", []string{
		"Progressively displayed?",
		"Controlling item (item triggering it, if yes, describe item below)",
		"Controlling item value",
	}},
	{"Data Type", "FFF9C4", []string{
		"Data type",
		"If text or number, Field Length",
		"If number, Precision (decimal places)",
	}},
	{"Codelist", "E2F0D9", []string{
		"Codelist – Choice Labels (if binary, can use Goodlist Table)",
		"Codelist Name (provided by SDTM Programmer)",
		"Choice Code (provided by SDTM Programmer)",
		"Codelist Control Type",
	}},
	{"System Queries", "F8CBAD", []string{
		"If number, Range: Min Value / Max Value",
		"Date: Query Future Date",
		"Required",
		"If Required, Open Query when intentionally left blank (form/item)",
	}},
	{"Notes", "E6B8AF", []string{"Notes"}},
}

// ownerTitles head the first four columns.
var ownerTitles = []string{
	"CTDM to fill in",
	"CTDM Optional, if blank CDP to propose",
	"Input needed from SDTM",
	"CDAI input needed",
}

// Columns returns the column titles of the third header row.
func Columns() []string {
	var cols []string
	for _, g := range Groups {
		cols = append(cols, g.Columns...)
	}
	return cols
}

// Rows extracts every form of root and expands it into item rows. A form
// without recognisable items still yields one row.
func (e *Extractor) Rows(root *hierarchy.Node) []Row {
	forms := e.Forms(root)
	e.logger.Info("found study specific forms", zap.Int("forms", len(forms)))

	var rows []Row
	for _, form := range forms {
		items := e.Items(form.Node)
		e.logger.Debug("extracted items",
			zap.String("form", form.Name),
			zap.Int("items", len(items)))
		if len(items) == 0 {
			items = []Item{{}}
		}

		counts := make(map[string]int)
		for _, it := range items {
			if g := strings.TrimSpace(it.Group); g != "" {
				counts[g]++
			}
		}

		for i, it := range items {
			row := Row{
				FormLabel:      form.Label,
				FormName:       form.Name,
				ItemGroup:      it.Group,
				GroupRepeating: "N",
				RepeatMax:      e.rules.DefaultRepeatMax,
				ItemOrder:      i + 1,
				ItemLabel:      it.Name,
				Required:       "N",
			}
			if n := counts[strings.TrimSpace(it.Group)]; n > 1 {
				row.GroupRepeating = "Y"
				row.RepeatMax = n
			}
			e.fillOptions(&row, it.Option)
			if strings.HasPrefix(strings.TrimSpace(it.Name), "*") {
				row.Required = "Y"
				row.OpenQuery = "Form,Item"
			}
			rows = append(rows, row)
		}
	}
	e.logger.Info("built study specific form rows", zap.Int("rows", len(rows)))
	return rows
}

func (e *Extractor) fillOptions(row *Row, cell *hierarchy.Node) {
	row.Choices = Choices(cell)
	row.DataType = e.DataType(cell, row.Choices)
	switch row.DataType {
	case TypeCodelist:
		row.ControlType = e.rules.ControlType
	case TypeDateTime:
		row.QueryFutureDate = "Y"
	case TypeLabel:
		row.Precision = Precision(row.Choices)
		row.Range = Range(row.Choices)
	}
	if row.DataType == TypeText || row.DataType == TypeLabel {
		row.FieldLength = FieldLength(row.Choices)
	}
}

var (
	ownerStyle = sheet.Style{Bold: true, Fill: "F5F5F5", Center: true, Wrap: true, Border: true}
	dataStyle  = sheet.Style{Top: true, Wrap: true, Border: true}
	plainHead  = sheet.Style{Border: true}
)

// Sheet lays rows out under the three header rows.
func Sheet(rows []Row) *sheet.Sheet {
	s := sheet.New(SheetName)
	total := len(Columns())

	for c := 1; c <= total; c++ {
		for r := 1; r <= 3; r++ {
			s.Set(r, c, nil, plainHead)
		}
	}
	for i, title := range ownerTitles {
		s.Set(1, i+1, title, ownerStyle)
	}

	col := 1
	for _, g := range Groups {
		band := sheet.Style{Bold: true, Fill: g.Fill, Center: true, Wrap: true, Border: true}
		for i, title := range g.Columns {
			s.Set(2, col+i, nil, band)
			s.Set(3, col+i, title, band)
		}
		s.Set(2, col, g.Name, band)
		s.Merge(2, col, 2, col+len(g.Columns)-1)
		col += len(g.Columns)
	}

	for i, row := range rows {
		for c, v := range row.Values() {
			s.Set(firstDataRow+i, c+1, v, dataStyle)
		}
	}
	s.AutoWidth(12, 60, 2)
	return s
}
