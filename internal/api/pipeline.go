package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/extract"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/jobs"
	"github.com/a3tai/ptd-generator/internal/ptd"
)

const (
	// DefaultOutputName is the workbook written when the client names none.
	DefaultOutputName = "ptd_output.xlsx"
	multipartMemory   = 32 << 20
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName reduces a client file name to a plain base name.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

type documentPair struct {
	Protocol json.RawMessage `json:"protocol_json"`
	ECRF     json.RawMessage `json:"ecrf_json"`
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

func (p documentPair) complete() bool {
	return present(p.Protocol) && present(p.ECRF)
}

func (p documentPair) parse() (protocol, ecrf *hierarchy.Node, err error) {
	if protocol, err = hierarchy.Parse(p.Protocol); err != nil {
		return nil, nil, ptderrors.WrapError(ptderrors.ErrorTypeInvalidJSON, err).WithContext("protocol_json")
	}
	if ecrf, err = hierarchy.Parse(p.ECRF); err != nil {
		return nil, nil, ptderrors.WrapError(ptderrors.ErrorTypeInvalidJSON, err).WithContext("ecrf_json")
	}
	return protocol, ecrf, nil
}

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 3*s.maxUpload+multipartMemory)
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		s.runUploads(w, r)
	case "application/json":
		s.structureDocuments(w, r)
	default:
		s.fail(w, http.StatusBadRequest,
			"Either upload files (protocol_file, crf_file) or provide JSON data (protocol_json, ecrf_json)")
	}
}

// structureDocuments turns both JSON payloads into hierarchies and returns
// them without generating a workbook.
func (s *Server) structureDocuments(w http.ResponseWriter, r *http.Request) {
	var docs documentPair
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if !docs.complete() {
		s.fail(w, http.StatusBadRequest,
			"Either upload files (protocol_file, crf_file) or provide JSON data (protocol_json, ecrf_json)")
		return
	}
	protocol, ecrf, err := docs.parse()
	if err != nil {
		s.failErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Pipeline processing completed successfully",
		"results": map[string]interface{}{
			"structured_protocol": protocol,
			"structured_ecrf":     ecrf,
			"processing_steps": []string{
				"Protocol JSON structured",
				"eCRF JSON structured",
				"Ready for PTD generation",
			},
		},
	})
}

// first returns the first uploaded file under any of the field names.
func first(form *multipart.Form, names ...string) *multipart.FileHeader {
	for _, n := range names {
		if fhs := form.File[n]; len(fhs) > 0 {
			return fhs[0]
		}
	}
	return nil
}

type runSummary struct {
	Forms      int   `json:"forms"`
	Visits     int   `json:"visits"`
	Events     int   `json:"events"`
	Items      int   `json:"items"`
	DurationMS int64 `json:"duration_ms"`
}

type runResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	JobID       string     `json:"job_id"`
	Status      jobs.State `json:"status"`
	Mode        ptd.Mode   `json:"mode"`
	OutputFile  string     `json:"output_file"`
	DownloadURL string     `json:"download_url"`
	Summary     runSummary `json:"summary"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// runUploads runs the whole pipeline over uploaded documents as a job.
func (s *Server) runUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	protocolFile := first(r.MultipartForm, "protocol_file", "protocol_json")
	crfFile := first(r.MultipartForm, "crf_file", "ecrf_json")
	if protocolFile == nil || crfFile == nil {
		s.fail(w, http.StatusBadRequest, "Both protocol and CRF files are required")
		return
	}
	templateFile := first(r.MultipartForm, "template_xlsx")

	mode, err := ptd.ParseMode(r.FormValue("mode"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	if strings.TrimSpace(r.FormValue("mode")) == "" && templateFile == nil {
		mode = ptd.ModeStream
	}
	fast, _ := strconv.ParseBool(r.FormValue("fast"))
	outName := DefaultOutputName
	if out := strings.TrimSpace(r.FormValue("out")); out != "" {
		outName = safeName(out)
	}

	job, err := s.jobs.Create(ctx)
	if err != nil {
		s.failErr(w, err)
		return
	}
	logger := s.logger.With(zap.String("job_id", job.ID))
	logger.Info("pipeline job started", zap.String("mode", string(mode)))

	runDir, err := s.paths.EnsureDir(filepath.Join(runsDir, job.ID))
	if err != nil {
		s.failJob(w, job.ID, err)
		return
	}

	protocolPath, err := s.saveUpload(protocolFile, job.ID, extract.Extensions...)
	if err != nil {
		s.failJob(w, job.ID, err)
		return
	}
	crfPath, err := s.saveUpload(crfFile, job.ID, extract.Extensions...)
	if err != nil {
		s.failJob(w, job.ID, err)
		return
	}
	opts := ptd.Options{
		Output: filepath.Join(runDir, outName),
		Mode:   mode,
		Fast:   fast,
		Rules:  s.rules,
	}
	if templateFile != nil {
		if opts.Template, err = s.saveUpload(templateFile, job.ID, ".xlsx"); err != nil {
			s.failJob(w, job.ID, err)
			return
		}
	}

	if opts.Protocol, err = extract.Load(ctx, s.extractor, protocolPath); err != nil {
		s.failJob(w, job.ID, err)
		return
	}
	if opts.ECRF, err = extract.Load(ctx, s.extractor, crfPath); err != nil {
		s.failJob(w, job.ID, err)
		return
	}

	res, err := s.generator.Generate(ctx, opts)
	if err != nil {
		s.failJob(w, job.ID, err)
		return
	}
	downloadURL := "/download?job_id=" + job.ID
	if err := s.jobs.Complete(ctx, job.ID, res.Output, downloadURL); err != nil {
		s.failErr(w, err)
		return
	}
	logger.Info("pipeline job completed", zap.String("output", res.Output))

	writeJSON(w, http.StatusOK, runResponse{
		Success:     true,
		Message:     "Pipeline completed successfully",
		JobID:       job.ID,
		Status:      jobs.StateCompleted,
		Mode:        res.Mode,
		OutputFile:  filepath.Base(res.Output),
		DownloadURL: downloadURL,
		Summary: runSummary{
			Forms:      res.Forms,
			Visits:     res.Visits,
			Events:     res.Events,
			Items:      res.Items,
			DurationMS: res.Duration.Milliseconds(),
		},
		Warnings: warningMessages(res),
	})
}

func warningMessages(res *ptd.Result) []string {
	if res.Issues == nil {
		return nil
	}
	var out []string
	for _, w := range res.Issues.Warnings {
		out = append(out, w.Error())
	}
	return out
}

func (s *Server) failJob(w http.ResponseWriter, id string, err error) {
	// the request context may already be gone
	if ferr := s.jobs.Fail(context.Background(), id, err.Error()); ferr != nil {
		s.logger.Error("could not record job failure", zap.String("job_id", id), zap.Error(ferr))
	}
	status := statusFor(err)
	s.logger.Warn("pipeline job failed", zap.String("job_id", id), zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, failure{Error: err.Error(), JobID: id})
}

// saveUpload stores an uploaded file in the uploads directory under a name
// prefixed with the job id.
func (s *Server) saveUpload(fh *multipart.FileHeader, jobID string, exts ...string) (string, error) {
	name := safeName(fh.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range exts {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", ptderrors.Newf(ptderrors.ErrorTypeInvalidInput,
			"invalid file format %q, supported: %s", fh.Filename, strings.Join(exts, ", "))
	}
	if fh.Size > s.maxUpload {
		return "", ptderrors.Newf(ptderrors.ErrorTypeInvalidInput,
			"file %s too large: %d bytes (max: %d bytes)", name, fh.Size, s.maxUpload)
	}

	dst, err := s.paths.Join(s.uploads, jobID+"-"+name)
	if err != nil {
		return "", ptderrors.WrapError(ptderrors.ErrorTypeInvalidInput, err)
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	out, err := os.Create(dst) //nolint:gosec // dst is confined to the uploads directory
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return dst, nil
}

// handleRunPTDGeneration writes a fresh two-sheet workbook from structured
// JSON into the outputs directory.
func (s *Server) handleRunPTDGeneration(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var docs documentPair
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil || !docs.complete() {
		s.fail(w, http.StatusBadRequest, "Protocol and eCRF JSON data are required")
		return
	}
	protocol, ecrf, err := docs.parse()
	if err != nil {
		s.failErr(w, err)
		return
	}

	// each request builds in its own run directory and replaces the
	// published workbook with a rename
	stage, err := s.paths.EnsureDir(filepath.Join(runsDir, uuid.NewString()))
	if err != nil {
		s.failErr(w, err)
		return
	}
	defer os.RemoveAll(stage)

	res, err := s.generator.Generate(r.Context(), ptd.Options{
		Protocol: protocol,
		ECRF:     ecrf,
		Output:   filepath.Join(stage, DefaultOutputName),
		Mode:     ptd.ModeStream,
		Rules:    s.rules,
	})
	if err != nil {
		s.fail(w, statusFor(err), "PTD generation failed: "+err.Error())
		return
	}
	name := DefaultOutputName
	if err := os.Rename(res.Output, filepath.Join(s.outputs, name)); err != nil {
		s.fail(w, http.StatusInternalServerError, fmt.Sprintf("publish %s: %v", name, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "PTD generation completed",
		"output_file":  name,
		"download_url": "/download/" + name,
	})
}
