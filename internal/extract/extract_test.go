package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
)

// minimalPDF writes a one-page PDF showing each line at its own baseline.
func minimalPDF(lines ...string) []byte {
	var content strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&content, "BT /F1 12 Tf 1 0 0 1 72 %d Tm (%s) Tj ET\n", 720-20*i, line)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestValidator(t *testing.T) {
	good := writeFile(t, "protocol.pdf", minimalPDF("1 Introduction"))
	big := writeFile(t, "big.pdf", bytes.Repeat([]byte("x"), 64))

	tests := []struct {
		name    string
		path    string
		max     int64
		valid   bool
		message string
	}{
		{"readable pdf", good, 0, true, ""},
		{"missing", filepath.Join(t.TempDir(), "none.pdf"), 0, false, "does not exist"},
		{"directory", t.TempDir(), 0, false, "directory"},
		{"wrong extension", writeFile(t, "notes.txt", []byte("text")), 0, false, "unsupported file type"},
		{"empty", writeFile(t, "empty.pdf", nil), 0, false, "empty"},
		{"too large", big, 10, false, "too large"},
		{"not a pdf", writeFile(t, "fake.pdf", []byte("hello world")), 0, false, "invalid PDF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewValidator(tt.max).Validate(tt.path)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.valid {
				assert.Equal(t, 1, res.Pages)
				assert.Positive(t, res.Size)
			} else {
				assert.Contains(t, res.Message, tt.message)
			}
		})
	}
}

func TestCheckFileAnyExtension(t *testing.T) {
	p := writeFile(t, "doc.bin", []byte("data"))
	assert.NoError(t, NewValidator(0).CheckFile(p))
	assert.Error(t, NewValidator(0).CheckFile(p, ".pdf", ".zip"))
}

func TestElements(t *testing.T) {
	got := Elements([]string{
		"1 Introduction",
		"Some text about the study.",
		"1.1 Background",
		"2 Schedule of Activities",
		"3. Ends with a full stop.",
		"2024 was the year",
	})
	want := []hierarchy.Element{
		{Path: "//Document/H1", Text: "1 Introduction"},
		{Path: "//Document/P", Text: "Some text about the study."},
		{Path: "//Document/H2", Text: "1.1 Background"},
		{Path: "//Document/H1[2]", Text: "2 Schedule of Activities"},
		{Path: "//Document/P[2]", Text: "3. Ends with a full stop."},
		{Path: "//Document/P[3]", Text: "2024 was the year"},
	}
	assert.Equal(t, want, got)

	root := hierarchy.Build(got)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "1 Introduction", root.Children[0].Text)
	assert.Len(t, root.Children[0].Children, 2)
}

func TestLocalExtractor(t *testing.T) {
	p := writeFile(t, "ecrf.pdf", minimalPDF("1 Vital Signs", "[VITALS]", "Systolic blood pressure"))
	ex := NewLocalExtractor(nil, zap.NewNop())

	elements, err := ex.Extract(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, elements, 3)
	assert.Equal(t, hierarchy.Element{Path: "//Document/H1", Text: "1 Vital Signs"}, elements[0])
	assert.Equal(t, "[VITALS]", elements[1].Text)
	assert.Equal(t, "//Document/P[2]", elements[2].Path)
}

func TestLocalExtractorErrors(t *testing.T) {
	ex := NewLocalExtractor(NewValidator(0), nil)

	_, err := ex.Extract(context.Background(), writeFile(t, "notes.txt", []byte("text")))
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeInvalidInput))

	_, err = ex.Extract(context.Background(), writeFile(t, "broken.pdf", []byte("%PDF-1.4 nothing else")))
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeExtraction))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Extract(ctx, writeFile(t, "ok.pdf", minimalPDF("text")))
	assert.ErrorIs(t, err, context.Canceled)
}

const structuredJSON = `{"elements": [
	{"Path": "//Document/H1", "Text": "Vital Signs"},
	{"Path": "//Document/P", "Text": "[VITALS]"}
]}`

func zipWith(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return writeFile(t, "extract.zip", buf.Bytes())
}

func TestLoadStructuredData(t *testing.T) {
	fromJSON, err := LoadStructuredData(writeFile(t, StructuredDataName, []byte(structuredJSON)))
	require.NoError(t, err)
	require.Len(t, fromJSON, 2)
	assert.Equal(t, "Vital Signs", fromJSON[0].Text)

	fromZip, err := LoadStructuredData(zipWith(t, map[string]string{
		"renditions/figure1.png":      "png",
		"output/" + StructuredDataName: structuredJSON,
	}))
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromZip)

	_, err = LoadStructuredData(zipWith(t, map[string]string{"other.json": "{}"}))
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeExtraction))

	_, err = LoadStructuredData(writeFile(t, "bad.json", []byte("{")))
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeInvalidJSON))
}

type stubExtractor struct{ elements []hierarchy.Element }

func (s stubExtractor) Extract(context.Context, string) ([]hierarchy.Element, error) {
	return s.elements, nil
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	root, err := Load(ctx, stubExtractor{[]hierarchy.Element{{Path: "//Document/H1", Text: "Forms"}}}, "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Forms", root.Children[0].Text)

	_, err = Load(ctx, nil, "doc.pdf")
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeExtraction))

	root, err = Load(ctx, nil, zipWith(t, map[string]string{StructuredDataName: structuredJSON}))
	require.NoError(t, err)
	assert.Equal(t, hierarchy.RootName, root.Name)

	root, err = Load(ctx, nil, writeFile(t, "flat.json", []byte(structuredJSON)))
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "[VITALS]", root.Children[0].Children[0].Text)

	_, err = Load(ctx, nil, writeFile(t, "bad.json", []byte("not json")))
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeInvalidJSON))

	_, err = Load(ctx, nil, "doc.docx")
	assert.True(t, ptderrors.IsType(err, ptderrors.ErrorTypeInvalidInput))
}
