// Package api serves the PTD pipeline over HTTP: uploads in, structured
// hierarchies or generated workbooks out.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/extract"
	"github.com/a3tai/ptd-generator/internal/jobs"
	"github.com/a3tai/ptd-generator/internal/ptd"
	"github.com/a3tai/ptd-generator/internal/security"
)

// Version is reported on /status.
const Version = "1.0.0"

// Data directory layout.
const (
	uploadsDir = "uploads"
	outputsDir = "outputs"
	runsDir    = "runs"
)

// Options configure a Server.
type Options struct {
	// DataDir holds uploads, outputs and per-job run directories.
	DataDir       string
	MaxUploadSize int64
	RateLimit     float64
	RateBurst     int
	// Rules defaults to ptd.DefaultRuleSet.
	Rules *ptd.RuleSet
	Jobs  jobs.Store
	// Extractor handles PDF uploads; nil rejects them.
	Extractor extract.Extractor
	Registry  *prometheus.Registry
	Logger    *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	router    chi.Router
	logger    *zap.Logger
	paths     *security.PathValidator
	jobs      jobs.Store
	generator *ptd.Generator
	extractor extract.Extractor
	rules     ptd.RuleSet
	limiter   *clientLimiter
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	maxUpload int64

	uploads, outputs, runs string
}

// New builds the server and creates its data directories.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	paths, err := security.NewPathValidator(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if opts.Jobs == nil {
		opts.Jobs = jobs.NewMemoryStore()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	rules := ptd.DefaultRuleSet()
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = extract.DefaultMaxFileSize
	}

	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger,
		paths:     paths,
		jobs:      opts.Jobs,
		generator: ptd.NewGenerator(logger.Named("ptd"), ptd.NewMetrics(opts.Registry)),
		extractor: opts.Extractor,
		rules:     rules,
		limiter:   newClientLimiter(opts.RateLimit, opts.RateBurst),
		registry:  opts.Registry,
		maxUpload: opts.MaxUploadSize,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptd",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}
	opts.Registry.MustRegister(s.requests)

	for dir, dst := range map[string]*string{uploadsDir: &s.uploads, outputsDir: &s.outputs, runsDir: &s.runs} {
		abs, err := paths.EnsureDir(dir)
		if err != nil {
			return nil, fmt.Errorf("prepare %s directory: %w", dir, err)
		}
		*dst = abs
	}

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.CleanPath)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.observe)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/run_pipeline", s.handleRunPipeline)
		r.Post("/run_ptd_generation", s.handleRunPTDGeneration)
	})

	r.Get("/download", s.handleJobDownload)
	r.Get("/download/{filename}", s.handleDownload)
	r.Get("/outputs/latest", s.handleLatestOutput)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})
}

// observe logs each request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	JobID   string `json:"job_id,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.String("error", msg))
	} else {
		s.logger.Warn("request failed", zap.Int("status", status), zap.String("error", msg))
	}
	writeJSON(w, status, failure{Error: msg})
}

// statusFor maps pipeline error types onto HTTP statuses.
func statusFor(err error) int {
	switch ptderrors.TypeOf(err) {
	case ptderrors.ErrorTypeInvalidInput, ptderrors.ErrorTypeInvalidJSON,
		ptderrors.ErrorTypeNoScheduleTable, ptderrors.ErrorTypeNoVisitHeader,
		ptderrors.ErrorTypeNoVisitColumns, ptderrors.ErrorTypeNoForms,
		ptderrors.ErrorTypeNoEvents, ptderrors.ErrorTypeTemplate:
		return http.StatusBadRequest
	case ptderrors.ErrorTypeJobNotFound:
		return http.StatusNotFound
	case ptderrors.ErrorTypeJobNotCompleted:
		return http.StatusConflict
	case ptderrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) failErr(w http.ResponseWriter, err error) {
	s.fail(w, statusFor(err), err.Error())
}

// serveAttachment streams path as a download named name.
func serveAttachment(w http.ResponseWriter, r *http.Request, path, name string) error {
	f, err := os.Open(path) //nolint:gosec // path is confined to the data directory
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.ErrNotExist
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	http.ServeContent(w, r, name, info.ModTime(), f)
	return nil
}
