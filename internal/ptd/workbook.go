package ptd

import (
	"slices"

	"github.com/xuri/excelize/v2"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/layout"
	"github.com/a3tai/ptd-generator/internal/sheet"
	"github.com/a3tai/ptd-generator/internal/studyforms"
)

// styled header rows kept by fast mode
var headerRows = map[string]int{
	layout.SheetName:     5,
	studyforms.SheetName: 3,
}

func writeFailure(err error, path string) error {
	return ptderrors.WrapError(ptderrors.ErrorTypeWorkbookWrite, err).WithFile(path)
}

// writeStream writes a new workbook holding only the given sheets.
func writeStream(out string, sheets ...*sheet.Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	blank := f.GetSheetName(0)
	for _, s := range sheets {
		if err := sheet.Stream(f, s); err != nil {
			return writeFailure(err, out)
		}
	}
	if !slices.ContainsFunc(sheets, func(s *sheet.Sheet) bool { return s.Name == blank }) {
		if err := f.DeleteSheet(blank); err != nil {
			return writeFailure(err, out)
		}
	}
	f.SetActiveSheet(0)
	if err := f.SaveAs(out); err != nil {
		return writeFailure(err, out)
	}
	return nil
}

// replaceInTemplate opens template, rebuilds each sheet at the position of
// the sheet it replaces (new sheets are appended) and saves to out.
func replaceInTemplate(template, out string, fast bool, sheets ...*sheet.Sheet) error {
	f, err := excelize.OpenFile(template)
	if err != nil {
		return ptderrors.WrapError(ptderrors.ErrorTypeTemplate, err).WithFile(template)
	}
	defer f.Close()

	active := f.GetSheetName(f.GetActiveSheetIndex())
	for _, s := range sheets {
		opts := sheet.Options{ValuesOnly: fast, HeaderRows: headerRows[s.Name]}
		if err := ReplaceSheet(f, s, opts); err != nil {
			return writeFailure(err, out)
		}
	}
	if idx, err := f.GetSheetIndex(active); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	if err := f.SaveAs(out); err != nil {
		return writeFailure(err, out)
	}
	return nil
}

// ReplaceSheet renders s into f in place of any sheet of the same name,
// keeping that sheet's position among the others.
func ReplaceSheet(f *excelize.File, s *sheet.Sheet, opts sheet.Options) error {
	list := f.GetSheetList()
	pos := slices.Index(list, s.Name)
	if pos < 0 {
		return sheet.Write(f, s, opts)
	}

	staged := *s
	staged.Name = "~" + s.Name
	if err := sheet.Write(f, &staged, opts); err != nil {
		return err
	}
	if err := f.DeleteSheet(s.Name); err != nil {
		return err
	}
	if err := f.SetSheetName(staged.Name, s.Name); err != nil {
		return err
	}
	if pos+1 < len(list) {
		return f.MoveSheet(s.Name, list[pos+1])
	}
	return nil
}
