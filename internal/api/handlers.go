package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/a3tai/ptd-generator/internal/config"
	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/jobs"
)

var endpoints = []string{
	"/status",
	"/health",
	"/metrics",
	"/run_pipeline",
	"/run_ptd_generation",
	"/download/<filename>",
	"/download?job_id=<id>",
	"/outputs/latest",
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":             "PTD Generator API is running",
		"available_endpoints": endpoints,
	})
}

type statusResponse struct {
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	Version     string            `json:"version"`
	PDFServices map[string]bool   `json:"pdf_services"`
	Endpoints   map[string]string `json:"endpoints"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if id := strings.TrimSpace(r.URL.Query().Get("job_id")); id != "" {
		job, err := s.jobs.Get(r.Context(), id)
		if err != nil {
			s.failErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	clientID, clientSecret := config.Credentials()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "running",
		Message: "PTD Generator backend is operational",
		Version: Version,
		PDFServices: map[string]bool{
			"client_id":     clientID,
			"client_secret": clientSecret,
		},
		Endpoints: map[string]string{
			"run_pipeline":       "/run_pipeline",
			"run_ptd_generation": "/run_ptd_generation",
			"status":             "/status",
			"health":             "/health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cwd, _ := os.Getwd()
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "cwd": cwd})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	path, err := s.paths.Join(s.outputs, name)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := serveAttachment(w, r, path, name); err != nil {
		s.downloadFailed(w, err)
	}
}

func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if id == "" {
		s.fail(w, http.StatusBadRequest, "job_id query parameter required")
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.failErr(w, err)
		return
	}
	if job.State != jobs.StateCompleted {
		s.failErr(w, ptderrors.Newf(ptderrors.ErrorTypeJobNotCompleted, "job %s is %s", id, job.State))
		return
	}
	if err := s.paths.ValidatePath(job.Output); err != nil {
		s.fail(w, http.StatusForbidden, err.Error())
		return
	}
	if err := serveAttachment(w, r, job.Output, filepath.Base(job.Output)); err != nil {
		s.downloadFailed(w, err)
	}
}

func (s *Server) downloadFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	s.fail(w, http.StatusInternalServerError, err.Error())
}

type latestResponse struct {
	Success     bool   `json:"success"`
	OutputFile  string `json:"output_file"`
	DownloadURL string `json:"download_url"`
	JobID       string `json:"job_id,omitempty"`
}

// handleLatestOutput reports the newest workbook, either the last completed
// job or the newest .xlsx in the outputs directory.
func (s *Server) handleLatestOutput(w http.ResponseWriter, r *http.Request) {
	var (
		best   *latestResponse
		bestAt time.Time
	)

	job, err := s.jobs.Latest(r.Context())
	switch {
	case err == nil:
		best = &latestResponse{
			Success:     true,
			OutputFile:  filepath.Base(job.Output),
			DownloadURL: job.DownloadURL,
			JobID:       job.ID,
		}
		bestAt = job.UpdatedAt
	case !ptderrors.IsType(err, ptderrors.ErrorTypeJobNotFound):
		s.failErr(w, err)
		return
	}

	entries, err := os.ReadDir(s.outputs)
	if err != nil {
		s.fail(w, http.StatusNotFound, "Output folder not found")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == nil || info.ModTime().After(bestAt) {
			best = &latestResponse{
				Success:     true,
				OutputFile:  e.Name(),
				DownloadURL: "/download/" + e.Name(),
			}
			bestAt = info.ModTime()
		}
	}

	if best == nil {
		s.fail(w, http.StatusNotFound, "No output files available")
		return
	}
	writeJSON(w, http.StatusOK, best)
}
