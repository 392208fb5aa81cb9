package sheet

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

const mainNamespace = "http://schemas.openxmlformats.org/spreadsheetml/2006/main"

type xmlWorksheet struct {
	XMLName    xml.Name       `xml:"worksheet"`
	Xmlns      string         `xml:"xmlns,attr"`
	SheetViews *xmlSheetViews `xml:"sheetViews,omitempty"`
	Cols       *xmlCols       `xml:"cols,omitempty"`
	SheetData  xmlSheetData   `xml:"sheetData"`
	MergeCells *xmlMergeCells `xml:"mergeCells,omitempty"`
}

type xmlSheetViews struct {
	SheetView xmlSheetView `xml:"sheetView"`
}

type xmlSheetView struct {
	WorkbookViewID int      `xml:"workbookViewId,attr"`
	Pane           *xmlPane `xml:"pane,omitempty"`
}

type xmlPane struct {
	XSplit      int    `xml:"xSplit,attr,omitempty"`
	YSplit      int    `xml:"ySplit,attr,omitempty"`
	TopLeftCell string `xml:"topLeftCell,attr"`
	ActivePane  string `xml:"activePane,attr"`
	State       string `xml:"state,attr"`
}

type xmlCols struct {
	Col []xmlCol `xml:"col"`
}

type xmlCol struct {
	Min         int     `xml:"min,attr"`
	Max         int     `xml:"max,attr"`
	Width       float64 `xml:"width,attr"`
	CustomWidth int     `xml:"customWidth,attr"`
}

type xmlSheetData struct {
	Row []xmlRow `xml:"row"`
}

type xmlRow struct {
	R int       `xml:"r,attr"`
	C []xmlCell `xml:"c"`
}

type xmlCell struct {
	R  string     `xml:"r,attr"`
	T  string     `xml:"t,attr,omitempty"`
	V  string     `xml:"v,omitempty"`
	IS *xmlInline `xml:"is,omitempty"`
}

type xmlInline struct {
	T string `xml:"t"`
}

type xmlMergeCells struct {
	Count int            `xml:"count,attr"`
	Cells []xmlMergeCell `xml:"mergeCell"`
}

type xmlMergeCell struct {
	Ref string `xml:"ref,attr"`
}

func xmlValue(ref string, v interface{}) xmlCell {
	switch v := v.(type) {
	case int:
		return xmlCell{R: ref, V: strconv.Itoa(v)}
	case int64:
		return xmlCell{R: ref, V: strconv.FormatInt(v, 10)}
	case float64:
		return xmlCell{R: ref, V: strconv.FormatFloat(v, 'f', -1, 64)}
	case bool:
		b := "0"
		if v {
			b = "1"
		}
		return xmlCell{R: ref, T: "b", V: b}
	case string:
		return xmlCell{R: ref, T: "inlineStr", IS: &xmlInline{T: v}}
	default:
		return xmlCell{R: ref, T: "inlineStr", IS: &xmlInline{T: fmt.Sprint(v)}}
	}
}

// WriteXML writes s as a standalone worksheet part. Values are written as
// inline strings and numbers; styles are dropped, while merges, widths and
// frozen panes are kept.
func WriteXML(w io.Writer, s *Sheet) error {
	ws := xmlWorksheet{Xmlns: mainNamespace}
	if p := s.panes(); p != nil {
		ws.SheetViews = &xmlSheetViews{SheetView: xmlSheetView{Pane: &xmlPane{
			XSplit:      p.XSplit,
			YSplit:      p.YSplit,
			TopLeftCell: p.TopLeftCell,
			ActivePane:  p.ActivePane,
			State:       "frozen",
		}}}
	}
	if cols := s.widthColumns(); len(cols) > 0 {
		ws.Cols = &xmlCols{}
		for _, c := range cols {
			ws.Cols.Col = append(ws.Cols.Col, xmlCol{Min: c, Max: c, Width: s.Widths[c], CustomWidth: 1})
		}
	}
	for r, row := range s.Rows {
		xr := xmlRow{R: r + 1}
		for c, cell := range row {
			if cell.Value == nil {
				continue
			}
			xr.C = append(xr.C, xmlValue(CellName(r+1, c+1), cell.Value))
		}
		if len(xr.C) > 0 {
			ws.SheetData.Row = append(ws.SheetData.Row, xr)
		}
	}
	if len(s.Merges) > 0 {
		ws.MergeCells = &xmlMergeCells{Count: len(s.Merges)}
		for _, m := range s.Merges {
			ref := CellName(m.Row, m.Col) + ":" + CellName(m.EndRow, m.EndCol)
			ws.MergeCells.Cells = append(ws.MergeCells.Cells, xmlMergeCell{Ref: ref})
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(ws); err != nil {
		return fmt.Errorf("encode worksheet %s: %w", s.Name, err)
	}
	return enc.Flush()
}
