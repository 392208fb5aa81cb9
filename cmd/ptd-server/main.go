package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/a3tai/ptd-generator/internal/api"
	"github.com/a3tai/ptd-generator/internal/config"
	"github.com/a3tai/ptd-generator/internal/extract"
	"github.com/a3tai/ptd-generator/internal/jobs"
	"github.com/a3tai/ptd-generator/internal/mcp"
	"github.com/a3tai/ptd-generator/internal/ptd"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

const shutdownTimeout = 15 * time.Second

// newLogger builds the process logger. In stdio mode stdout carries the MCP
// protocol, so everything goes to stderr.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.IsStdioMode() {
		zc.OutputPaths = []string{"stderr"}
	}
	if cfg.IsDebug() {
		zc.Development = true
	}
	return zc.Build()
}

// runServerMode serves the HTTP API until a signal arrives, then drains
// in-flight requests.
func runServerMode(ctx context.Context, cfg *config.Config, logger *zap.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", srv.Addr))
		serverErrCh <- srv.ListenAndServe()
	}()

	select {
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	case err := <-serverErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// runStdioMode serves MCP until stdin closes or the context ends.
func runStdioMode(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts mcp.Options) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := mcp.NewServer(cfg, opts)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}
	return server.Run(ctx)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rules := ptd.LoadRuleSet(cfg.RulesDir, logger.Named("rules"))
	extractor := extract.NewLocalExtractor(extract.NewValidator(cfg.MaxFileSize), logger.Named("extract"))

	if cfg.IsStdioMode() {
		return runStdioMode(ctx, cfg, logger, mcp.Options{
			Extractor: extractor,
			Rules:     &rules,
			Logger:    logger.Named("mcp"),
		})
	}

	store, err := jobs.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, err := api.New(api.Options{
		DataDir:       cfg.DataDir,
		MaxUploadSize: cfg.MaxFileSize,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		Rules:         &rules,
		Jobs:          store,
		Extractor:     extractor,
		Registry:      registry,
		Logger:        logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	return runServerMode(ctx, cfg, logger, handler)
}

func main() {
	// Check for version flag before parsing other flags
	if hasVersionFlag(os.Args[1:]) {
		printVersion()
		return
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if version != "dev" {
		cfg.Version = version
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("version", cfg.Version),
		zap.String("mode", cfg.Mode),
		zap.String("config", cfg.String()))

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("PTD Generator\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
