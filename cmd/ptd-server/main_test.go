package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/a3tai/ptd-generator/internal/config"
)

const testVersion = "1.2.3"

// captureStdout runs fn with os.Stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	originalStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = originalStdout }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
		w.Close()
	}()

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	<-done
	return buf.String()
}

func TestPrintVersion(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	version = testVersion
	buildTime = "2023-12-01_10:30:00"
	gitCommit = "abc123"
	defer func() {
		version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	output := captureStdout(t, printVersion)

	expectedStrings := []string{
		"PTD Generator",
		"Version: " + testVersion,
		"Build Time: 2023-12-01_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	}
	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("printVersion() output missing expected string: %s\nActual output:\n%s", expected, output)
		}
	}
}

func TestVersionFlagDetection(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		hasVersion bool
	}{
		{"no version flag", []string{}, false},
		{"-version flag", []string{"-version"}, true},
		{"--version flag", []string{"--version"}, true},
		{"-v flag", []string{"-v"}, true},
		{"version flag with other args", []string{"--mode=server", "--version", "--port=8080"}, true},
		{"similar but not version", []string{"--verbose", "-vv"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasVersionFlag(tt.args); got != tt.hasVersion {
				t.Errorf("hasVersionFlag(%v) = %v, want %v", tt.args, got, tt.hasVersion)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		enabled   zapcore.Level
		disabled  zapcore.Level
		expectErr bool
	}{
		{
			name:     "server info",
			cfg:      &config.Config{Mode: config.ModeServer, LogLevel: "info"},
			enabled:  zapcore.InfoLevel,
			disabled: zapcore.DebugLevel,
		},
		{
			name:     "stdio debug",
			cfg:      &config.Config{Mode: config.ModeStdio, LogLevel: "debug"},
			enabled:  zapcore.DebugLevel,
			disabled: zapcore.DebugLevel - 1,
		},
		{
			name:     "server warn",
			cfg:      &config.Config{Mode: config.ModeServer, LogLevel: "warn"},
			enabled:  zapcore.WarnLevel,
			disabled: zapcore.InfoLevel,
		},
		{
			name:      "invalid level",
			cfg:       &config.Config{Mode: config.ModeServer, LogLevel: "verbose"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.cfg)
			if tt.expectErr {
				if err == nil {
					t.Error("newLogger() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger() unexpected error: %v", err)
			}
			core := logger.Core()
			if !core.Enabled(tt.enabled) {
				t.Errorf("level %v should be enabled", tt.enabled)
			}
			if core.Enabled(tt.disabled) {
				t.Errorf("level %v should be disabled", tt.disabled)
			}
		})
	}
}

func TestRunServerModeStopsOnCancel(t *testing.T) {
	cfg := &config.Config{Mode: config.ModeServer, Host: "127.0.0.1", Port: 0}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runServerMode(ctx, cfg, zap.NewNop(), http.NotFoundHandler())
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServerMode() error = %v, want nil", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("runServerMode() did not stop after cancel")
	}
}

func TestRunServerModeListenError(t *testing.T) {
	cfg := &config.Config{Mode: config.ModeServer, Host: "127.0.0.1", Port: -1}

	done := make(chan error, 1)
	go func() {
		done <- runServerMode(context.Background(), cfg, zap.NewNop(), http.NotFoundHandler())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("runServerMode() expected a listen error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServerMode() did not report the listen error")
	}
}

func TestRun(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DBPath = filepath.Join(cfg.DataDir, "jobs.db")
	cfg.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zap.NewNop())
	}()

	select {
	case err := <-done:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("run() did not stop after cancel")
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		t.Errorf("job database not created: %v", err)
	}
}
