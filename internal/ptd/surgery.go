package ptd

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/sheet"
)

const (
	workbookPart = "xl/workbook.xml"
	relsPart     = "xl/_rels/workbook.xml.rels"
)

type workbookSheets struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func readPart(zr *zip.Reader, name string, v interface{}) error {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return xml.NewDecoder(rc).Decode(v)
	}
	return fmt.Errorf("missing %s", name)
}

// partName turns a relationship target into an archive path. Targets are
// relative to xl/ unless absolute.
func partName(target string) string {
	t := strings.TrimLeft(strings.ReplaceAll(target, `\`, "/"), "/")
	t = strings.TrimPrefix(t, "xl/")
	return path.Clean("xl/" + t)
}

// SheetParts maps the named sheets of a workbook archive to their worksheet
// part paths.
func SheetParts(zr *zip.Reader, names ...string) (map[string]string, error) {
	var wb workbookSheets
	if err := readPart(zr, workbookPart, &wb); err != nil {
		return nil, err
	}
	var rels relationships
	if err := readPart(zr, relsPart, &rels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		targets[r.ID] = r.Target
	}

	parts := make(map[string]string, len(names))
	for _, s := range wb.Sheets {
		if t, ok := targets[s.RID]; ok {
			parts[s.Name] = partName(t)
		}
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		p, ok := parts[n]
		if !ok {
			return nil, fmt.Errorf("sheet %q not found", n)
		}
		out[n] = p
	}
	return out, nil
}

// Surgery copies the template archive to out, swapping the worksheet parts
// of the given sheets for minimal value-only XML. Every other part is copied
// untouched, so the template's other sheets, styles and names survive.
func Surgery(template, out string, sheets ...*sheet.Sheet) (err error) {
	zr, err := zip.OpenReader(template)
	if err != nil {
		return ptderrors.WrapError(ptderrors.ErrorTypeTemplate, err).WithFile(template)
	}
	defer zr.Close()

	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}
	parts, err := SheetParts(&zr.Reader, names...)
	if err != nil {
		return ptderrors.WrapError(ptderrors.ErrorTypeTemplate, err).WithFile(template)
	}
	replacement := make(map[string]*sheet.Sheet, len(sheets))
	for _, s := range sheets {
		replacement[parts[s.Name]] = s
	}

	tmp, err := os.CreateTemp(filepath.Dir(out), ".ptd-*.xlsx")
	if err != nil {
		return writeFailure(err, out)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, f := range zr.File {
		s, ok := replacement[f.Name]
		if !ok {
			if err = zw.Copy(f); err != nil {
				return writeFailure(err, out)
			}
			continue
		}
		var w io.Writer
		if w, err = zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified}); err != nil {
			return writeFailure(err, out)
		}
		if err = sheet.WriteXML(w, s); err != nil {
			return writeFailure(err, out)
		}
	}
	if err = zw.Close(); err != nil {
		return writeFailure(err, out)
	}
	if err = tmp.Close(); err != nil {
		return writeFailure(err, out)
	}
	// release the template before an in-place rename
	zr.Close()
	if err = os.Rename(tmp.Name(), out); err != nil {
		return writeFailure(err, out)
	}
	return nil
}
