package extract

import (
	"archive/zip"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
)

// StructuredDataName is the JSON entry written by the extraction service.
const StructuredDataName = "structuredData.json"

// LoadStructuredData reads the extraction service output at p, either the
// JSON itself or the zip archive holding it.
func LoadStructuredData(p string) ([]hierarchy.Element, error) {
	if strings.EqualFold(filepath.Ext(p), ".zip") {
		return loadFromZip(p)
	}
	f, err := os.Open(p) //nolint:gosec // callers validate the path
	if err != nil {
		return nil, fmt.Errorf("open structured data: %w", err)
	}
	defer f.Close()
	elements, err := hierarchy.LoadElements(f)
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeInvalidJSON, err).WithFile(p)
	}
	return elements, nil
}

func loadFromZip(p string) ([]hierarchy.Element, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeExtraction, err).WithFile(p)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if path.Base(f.Name) != StructuredDataName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, ptderrors.WrapError(ptderrors.ErrorTypeExtraction, err).WithFile(p)
		}
		defer rc.Close()
		elements, err := hierarchy.LoadElements(rc)
		if err != nil {
			return nil, ptderrors.WrapError(ptderrors.ErrorTypeInvalidJSON, err).WithFile(p)
		}
		return elements, nil
	}
	return nil, ptderrors.Newf(ptderrors.ErrorTypeExtraction, "%s not found in archive", StructuredDataName).WithFile(p)
}
