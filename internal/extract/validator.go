package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultMaxFileSize bounds uploaded documents.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// Validation is the outcome of checking one PDF.
type Validation struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Pages   int    `json:"pages,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Message string `json:"message,omitempty"`
}

// Validator checks that a file is a readable PDF within the size limit.
type Validator struct {
	maxFileSize int64
}

// NewValidator returns a validator. A non-positive limit uses
// DefaultMaxFileSize.
func NewValidator(maxFileSize int64) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Validator{maxFileSize: maxFileSize}
}

// Validate reports on path. Problems with the file are described in the
// result rather than returned as errors.
func (v *Validator) Validate(path string) *Validation {
	res := &Validation{Path: path}
	info, err := v.checkFile(path, ".pdf")
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Size = info.Size()

	pages, err := PageCount(path)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	f, _, err := pdf.Open(path)
	if err != nil {
		res.Message = fmt.Sprintf("invalid PDF file: %v", err)
		return res
	}
	f.Close()

	res.Pages = pages
	res.Valid = true
	return res
}

// CheckFile applies the existence, type and size checks without opening
// the file. exts lists the accepted extensions; none accepts any.
func (v *Validator) CheckFile(path string, exts ...string) error {
	_, err := v.checkFile(path, exts...)
	return err
}

func (v *Validator) checkFile(path string, exts ...string) (os.FileInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if len(exts) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		ok := false
		for _, e := range exts {
			if ext == e {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("unsupported file type %q (want %s)", ext, strings.Join(exts, ", "))
		}
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("file is empty: %s", path)
	}
	if info.Size() > v.maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d bytes)", info.Size(), v.maxFileSize)
	}
	return info, nil
}

// PageCount reads the page tree with pdfcpu in relaxed validation mode.
func PageCount(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // callers validate the path
	if err != nil {
		return 0, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		return 0, fmt.Errorf("invalid PDF file: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	return ctx.PageCount, nil
}
