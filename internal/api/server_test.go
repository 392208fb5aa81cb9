package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/jobs"
	"github.com/a3tai/ptd-generator/internal/layout"
	"github.com/a3tai/ptd-generator/internal/studyforms"
)

func node(name, text string, children ...*hierarchy.Node) *hierarchy.Node {
	if children == nil {
		children = []*hierarchy.Node{}
	}
	return &hierarchy.Node{Name: name, Text: text, Children: children}
}

func row(cells ...string) *hierarchy.Node {
	tr := node("TR", "")
	for _, c := range cells {
		tr.Children = append(tr.Children, node("TD", "", node("P", c)))
	}
	return tr
}

func protocolJSON(t *testing.T) []byte {
	t.Helper()
	doc := node(hierarchy.RootName, "",
		node("H1", "Flowchart", node("Table", "",
			row("Procedure", "", "", "", ""),
			row("Visit short name", "V1", "V2", "V3", "P4"),
			row("Study week", "-2", "0", "4", "8"),
			row("Vital signs", "X", "X", "X", ""),
			row("ECG", "", "X", "", "X"),
		)),
	)
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func ecrfJSON(t *testing.T) []byte {
	t.Helper()
	doc := node(hierarchy.RootName, "",
		node("H1", "Vital Signs",
			node("P", "[VITALS]",
				node("P", "Collected at V1, V2 and V3"),
				node("Table", "",
					node("TR", "", node("TH", "", node("P", "1")), node("TD", "", node("P", "Systolic")), node("TD", "", node("P", "|N3| mmHg"))),
				),
			),
		),
		node("H1[2]", "Cardiology", node("P", "[ECG]", node("P", "V2 and P4"))),
	)
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func documents(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]json.RawMessage{
		"protocol_json": protocolJSON(t),
		"ecrf_json":     ecrfJSON(t),
	})
	require.NoError(t, err)
	return body
}

type upload struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestNewRequiresDataDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	newTestServer(t, Options{DataDir: dir})
	for _, sub := range []string{uploadsDir, outputsDir, runsDir} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
}

func TestInfoEndpoints(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PTD Generator API is running", decode(t, rec)["message"])

	rec = do(t, s, http.MethodGet, "/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, Version, status["version"])
	assert.Contains(t, status, "pdf_services")

	rec = do(t, s, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = do(t, s, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ptd_http_requests_total")
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Endpoint not found", decode(t, rec)["error"])

	rec = do(t, s, http.MethodDelete, "/status", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", decode(t, rec)["error"])
}

func TestRunPipelineStructuresJSON(t *testing.T) {
	s := newTestServer(t, Options{})

	for _, target := range []string{"/run_pipeline", "//run_pipeline"} {
		t.Run(target, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, target, documents(t), "application/json")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			out := decode(t, rec)
			assert.Equal(t, true, out["success"])
			results, ok := out["results"].(map[string]interface{})
			require.True(t, ok)
			protocol, ok := results["structured_protocol"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, hierarchy.RootName, protocol["name"])
			assert.Len(t, results["processing_steps"], 3)
		})
	}
}

func TestRunPipelineRejects(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		name        string
		body        []byte
		contentType string
		status      int
		wantErr     string
	}{
		{"no body type", []byte("x"), "text/plain", http.StatusBadRequest, "Either upload files"},
		{"missing ecrf", []byte(`{"protocol_json":{"elements":[]}}`), "application/json", http.StatusBadRequest, "Either upload files"},
		{"broken body", []byte(`{`), "application/json", http.StatusBadRequest, "invalid JSON body"},
		{"bad document", []byte(`{"protocol_json":"nope","ecrf_json":{"elements":[]}}`), "application/json", http.StatusBadRequest, "protocol_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/run_pipeline", tt.body, tt.contentType)
			assert.Equal(t, tt.status, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tt.wantErr)
		})
	}
}

func TestRunPipelineUploads(t *testing.T) {
	dir := t.TempDir()
	store := jobs.NewMemoryStore()
	s := newTestServer(t, Options{DataDir: dir, Jobs: store})

	body, ct := multipartBody(t, map[string]string{"out": "../study.xlsx"},
		upload{"protocol_json", "protocol.json", protocolJSON(t)},
		upload{"ecrf_json", "crf.json", ecrfJSON(t)},
	)
	rec := do(t, s, http.MethodPost, "/run_pipeline", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, jobs.StateCompleted, res.Status)
	assert.Equal(t, "study.xlsx", res.OutputFile)
	assert.Equal(t, "/download?job_id="+res.JobID, res.DownloadURL)
	assert.Positive(t, res.Summary.Forms)
	assert.Positive(t, res.Summary.Visits)

	job, err := store.Get(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, runsDir, res.JobID, "study.xlsx"), job.Output)

	entries, err := os.ReadDir(filepath.Join(dir, uploadsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Name(), res.JobID+"-"), e.Name())
	}

	rec = do(t, s, http.MethodGet, "/status?job_id="+res.JobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(jobs.StateCompleted), decode(t, rec)["status"])

	rec = do(t, s, http.MethodGet, res.DownloadURL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "study.xlsx")

	saved := filepath.Join(t.TempDir(), "download.xlsx")
	require.NoError(t, os.WriteFile(saved, rec.Body.Bytes(), 0o600))
	f, err := excelize.OpenFile(saved)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{layout.SheetName, studyforms.SheetName}, f.GetSheetList())
}

func TestRunPipelineUploadFailures(t *testing.T) {
	store := jobs.NewMemoryStore()
	s := newTestServer(t, Options{Jobs: store})

	t.Run("missing crf", func(t *testing.T) {
		body, ct := multipartBody(t, nil, upload{"protocol_file", "protocol.json", protocolJSON(t)})
		rec := do(t, s, http.MethodPost, "/run_pipeline", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Both protocol and CRF files are required", decode(t, rec)["error"])
	})

	t.Run("unsupported extension fails the job", func(t *testing.T) {
		body, ct := multipartBody(t, nil,
			upload{"protocol_file", "protocol.txt", []byte("text")},
			upload{"crf_file", "crf.json", ecrfJSON(t)},
		)
		rec := do(t, s, http.MethodPost, "/run_pipeline", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		out := decode(t, rec)
		id, _ := out["job_id"].(string)
		require.NotEmpty(t, id)

		job, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateFailed, job.State)
		assert.Contains(t, job.Error, "invalid file format")

		rec = do(t, s, http.MethodGet, "/download?job_id="+id, nil, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("pdf without extractor", func(t *testing.T) {
		body, ct := multipartBody(t, nil,
			upload{"protocol_file", "protocol.pdf", []byte("%PDF-1.4")},
			upload{"crf_file", "crf.json", ecrfJSON(t)},
		)
		rec := do(t, s, http.MethodPost, "/run_pipeline", body, ct)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown mode", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"mode": "inplace"},
			upload{"protocol_file", "protocol.json", protocolJSON(t)},
			upload{"crf_file", "crf.json", ecrfJSON(t)},
		)
		rec := do(t, s, http.MethodPost, "/run_pipeline", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunPTDGeneration(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, Options{DataDir: dir})

	rec := do(t, s, http.MethodPost, "/run_ptd_generation", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Protocol and eCRF JSON data are required", decode(t, rec)["error"])

	rec = do(t, s, http.MethodPost, "/run_ptd_generation", documents(t), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, DefaultOutputName, out["output_file"])
	assert.Equal(t, "/download/"+DefaultOutputName, out["download_url"])
	assert.FileExists(t, filepath.Join(dir, outputsDir, DefaultOutputName))

	rec = do(t, s, http.MethodGet, "/download/"+DefaultOutputName, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())

	rec = do(t, s, http.MethodGet, "/outputs/latest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultOutputName, decode(t, rec)["output_file"])
}

func TestRunPTDGenerationConcurrent(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, Options{DataDir: dir})
	body := documents(t)

	const n = 4
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/run_ptd_generation", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	out := filepath.Join(dir, outputsDir, DefaultOutputName)
	f, err := excelize.OpenFile(out)
	require.NoError(t, err, "the published workbook is complete")
	assert.Equal(t, []string{layout.SheetName, studyforms.SheetName}, f.GetSheetList())
	require.NoError(t, f.Close())

	entries, err := os.ReadDir(filepath.Join(dir, outputsDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultOutputName, entries[0].Name())

	staged, err := os.ReadDir(filepath.Join(dir, runsDir))
	require.NoError(t, err)
	assert.Empty(t, staged, "run directories are removed")
}

func TestRunPTDGenerationWithoutSchedule(t *testing.T) {
	s := newTestServer(t, Options{})
	body, err := json.Marshal(map[string]json.RawMessage{
		"protocol_json": json.RawMessage(`{"elements":[{"Path":"//Document/H1","Text":"Intro"}]}`),
		"ecrf_json":     ecrfJSON(t),
	})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/run_ptd_generation", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "PTD generation failed")
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, Options{DataDir: dir})
	require.NoError(t, os.WriteFile(filepath.Join(dir, outputsDir, "a.xlsx"), []byte("data"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("secret"), 0o600))

	rec := do(t, s, http.MethodGet, "/download/a.xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data", rec.Body.String())
	assert.Equal(t, `attachment; filename="a.xlsx"`, rec.Header().Get("Content-Disposition"))

	rec = do(t, s, http.MethodGet, "/download/missing.xlsx", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decode(t, rec)["error"])

	rec = do(t, s, http.MethodGet, "/download/..%2Fsecret.txt", nil, "")
	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = do(t, s, http.MethodGet, "/download", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/download?job_id=unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusUnknownJob(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/status?job_id=missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestLatestOutput(t *testing.T) {
	dir := t.TempDir()
	store := jobs.NewMemoryStore()
	s := newTestServer(t, Options{DataDir: dir, Jobs: store})

	rec := do(t, s, http.MethodGet, "/outputs/latest", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No output files available", decode(t, rec)["error"])

	old := filepath.Join(dir, outputsDir, "old.xlsx")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.WriteFile(filepath.Join(dir, outputsDir, "notes.txt"), []byte("x"), 0o600))

	rec = do(t, s, http.MethodGet, "/outputs/latest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "old.xlsx", decode(t, rec)["output_file"])

	ctx := context.Background()
	job, err := store.Create(ctx)
	require.NoError(t, err)
	output := filepath.Join(dir, runsDir, job.ID, "ptd.xlsx")
	require.NoError(t, store.Complete(ctx, job.ID, output, "/download?job_id="+job.ID))

	rec = do(t, s, http.MethodGet, "/outputs/latest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, job.ID, out["job_id"])
	assert.Equal(t, "ptd.xlsx", out["output_file"])
	assert.Equal(t, "/download?job_id="+job.ID, out["download_url"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimit: 0.001, RateBurst: 1})

	rec := do(t, s, http.MethodPost, "/run_pipeline", []byte("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/run_pipeline", []byte("x"), "text/plain")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// reads are not limited
	rec = do(t, s, http.MethodGet, "/status", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientLimiter(t *testing.T) {
	assert.Nil(t, newClientLimiter(0, 5))
	var none *clientLimiter
	ok, _ := none.allow("a")
	assert.True(t, ok)

	now := time.Unix(1000, 0)
	l := newClientLimiter(1, 2)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := l.allow("a")
		assert.True(t, ok)
	}
	ok, wait := l.allow("a")
	assert.False(t, ok)
	assert.Positive(t, wait)

	ok, _ = l.allow("b")
	assert.True(t, ok, "clients have separate buckets")

	now = now.Add(time.Second)
	ok, _ = l.allow("a")
	assert.True(t, ok)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		typ  ptderrors.ErrorType
		want int
	}{
		{ptderrors.ErrorTypeInvalidInput, http.StatusBadRequest},
		{ptderrors.ErrorTypeNoScheduleTable, http.StatusBadRequest},
		{ptderrors.ErrorTypeTemplate, http.StatusBadRequest},
		{ptderrors.ErrorTypeJobNotFound, http.StatusNotFound},
		{ptderrors.ErrorTypeJobNotCompleted, http.StatusConflict},
		{ptderrors.ErrorTypeTimeout, http.StatusGatewayTimeout},
		{ptderrors.ErrorTypeWorkbookWrite, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(ptderrors.NewPipelineError(tt.typ, "x")), tt.typ)
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(os.ErrPermission))
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"protocol.pdf", "protocol.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\docs\my crf.json`, "my_crf.json"},
		{".hidden.xlsx", "hidden.xlsx"},
		{"..", "upload"},
		{"", "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeName(tt.in), tt.in)
	}
}
