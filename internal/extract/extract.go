// Package extract turns source documents into the flat element list the
// hierarchy builder consumes. PDFs go through an Extractor; the output of
// the structured extraction service is read back from its JSON or zip.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
)

// Extractor produces the flat elements of one document.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]hierarchy.Element, error)
}

// Input extensions accepted by Load.
var Extensions = []string{".pdf", ".zip", ".json"}

// Load reads path into a hierarchy. PDFs are extracted with ex, zips are
// read as service output and JSON may be either flat elements or a tree.
func Load(ctx context.Context, ex Extractor, path string) (*hierarchy.Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		if ex == nil {
			return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeExtraction, "no PDF extractor configured").WithFile(path)
		}
		elements, err := ex.Extract(ctx, path)
		if err != nil {
			return nil, err
		}
		return hierarchy.Build(elements), nil
	case ".zip":
		elements, err := LoadStructuredData(path)
		if err != nil {
			return nil, err
		}
		return hierarchy.Build(elements), nil
	case ".json":
		data, err := os.ReadFile(path) //nolint:gosec // callers validate the path
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		root, err := hierarchy.Parse(data)
		if err != nil {
			return nil, ptderrors.WrapError(ptderrors.ErrorTypeInvalidJSON, err).WithFile(path)
		}
		return root, nil
	}
	return nil, ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "unsupported input %q (want pdf, zip or json)", filepath.Base(path))
}
