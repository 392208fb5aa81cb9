package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
)

// numbered section lines such as "5 Study Design" or "5.1. Visits"
var headingPattern = regexp.MustCompile(`^(\d{1,2})((?:\.\d{1,2})*)\.?\s+(\p{Lu}.*)$`)

const maxHeadingLength = 90

// LocalExtractor reads PDF text line by line. It has no table or list
// structure, so it only serves documents whose schedule is already in
// text form or as a fallback for form names.
type LocalExtractor struct {
	validator *Validator
	logger    *zap.Logger
}

// NewLocalExtractor returns an extractor that validates its input with v.
func NewLocalExtractor(v *Validator, logger *zap.Logger) *LocalExtractor {
	if v == nil {
		v = NewValidator(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExtractor{validator: v, logger: logger}
}

// Extract emits one element per text row, numbered section lines as H1/H2.
func (e *LocalExtractor) Extract(ctx context.Context, path string) ([]hierarchy.Element, error) {
	if err := e.validator.CheckFile(path, ".pdf"); err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeInvalidInput, err).WithFile(path)
	}
	pages, err := PageCount(path)
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeExtraction, err).WithFile(path)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeExtraction, fmt.Errorf("invalid PDF file: %w", err)).WithFile(path)
	}
	defer f.Close()

	var lines []string
	for n := 1; n <= r.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			e.logger.Warn("skipping unreadable page", zap.Int("page", n), zap.Error(err))
			continue
		}
		lines = append(lines, rowLines(rows)...)
	}
	e.logger.Debug("extracted PDF text",
		zap.String("path", path),
		zap.Int("pages", pages),
		zap.Int("lines", len(lines)))
	if len(lines) == 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeExtraction, "no text content could be extracted from PDF").WithFile(path)
	}
	return Elements(lines), nil
}

// rowLines joins the fragments of each row. Fragments sharing an x origin
// belong to one TJ array and are concatenated; others are separate words.
func rowLines(rows pdf.Rows) []string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for i, t := range row.Content {
			if i > 0 && t.X != row.Content[i-1].X {
				b.WriteByte(' ')
			}
			b.WriteString(t.S)
		}
		if line := strings.Join(strings.Fields(b.String()), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Elements numbers text lines the way the structured service does: the
// first element of a kind is bare, later ones carry an index.
func Elements(lines []string) []hierarchy.Element {
	counts := map[string]int{}
	out := make([]hierarchy.Element, 0, len(lines))
	for _, line := range lines {
		kind := lineKind(line)
		counts[kind]++
		p := "//Document/" + kind
		if c := counts[kind]; c > 1 {
			p += fmt.Sprintf("[%d]", c)
		}
		out = append(out, hierarchy.Element{Path: p, Text: line})
	}
	return out
}

func lineKind(line string) string {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil || len(line) > maxHeadingLength || strings.HasSuffix(line, ".") {
		return "P"
	}
	if m[2] == "" {
		return "H1"
	}
	return "H2"
}
