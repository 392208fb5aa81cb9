package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mode != "server" {
		t.Errorf("Expected default mode to be 'server', got '%s'", cfg.Mode)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host to be '127.0.0.1', got '%s'", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected default port to be 8080, got %d", cfg.Port)
	}
	if cfg.Version != "1.0.0" {
		t.Errorf("Expected default version to be '1.0.0', got '%s'", cfg.Version)
	}
	if cfg.ServerName != "ptd-generator" {
		t.Errorf("Expected default server name to be 'ptd-generator', got '%s'", cfg.ServerName)
	}
	if cfg.MaxFileSize != 100*1024*1024 {
		t.Errorf("Expected default max file size to be 100MB, got %d", cfg.MaxFileSize)
	}

	currentDir, _ := os.Getwd()
	if want := filepath.Join(currentDir, "data"); cfg.DataDir != want {
		t.Errorf("Expected default data directory to be '%s', got '%s'", want, cfg.DataDir)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestConfigValidate(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(notADir, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid server config", func(*Config) {}, ""},
		{"valid stdio config ignores port", func(c *Config) { c.Mode = ModeStdio; c.Port = 0 }, ""},
		{"rate limiting disabled", func(c *Config) { c.RateLimit = 0; c.RateBurst = 0 }, ""},
		{"rules directory", func(c *Config) { c.RulesDir = t.TempDir() }, ""},
		{"invalid mode", func(c *Config) { c.Mode = "grpc" }, "mode must be"},
		{"port too low", func(c *Config) { c.Port = 0 }, "port must be"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "port must be"},
		{"empty data directory", func(c *Config) { c.DataDir = "" }, "data directory cannot be empty"},
		{"rules path is a file", func(c *Config) { c.RulesDir = notADir }, "not a directory"},
		{"zero file size", func(c *Config) { c.MaxFileSize = 0 }, "maximum file size"},
		{"zero burst", func(c *Config) { c.RateBurst = 0 }, "rate burst"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateCreatesLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	for _, dir := range []string{UploadsDir, OutputsDir, RunsDir} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, dir)); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
}

func TestConfigModes(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.IsServerMode() || cfg.IsStdioMode() {
		t.Error("default config should be in server mode")
	}
	cfg.Mode = ModeStdio
	if cfg.IsServerMode() || !cfg.IsStdioMode() {
		t.Error("stdio config should report stdio mode")
	}
	for level, want := range map[string]bool{"debug": true, "info": false, "warn": false, "error": false} {
		cfg.LogLevel = level
		if cfg.IsDebug() != want {
			t.Errorf("IsDebug() with %s = %v, want %v", level, cfg.IsDebug(), want)
		}
	}
}

func TestConfigString(t *testing.T) {
	cfg := &Config{
		Mode:        ModeServer,
		Host:        "localhost",
		Port:        9000,
		DataDir:     "/srv/ptd",
		DBPath:      "/srv/ptd/jobs.db",
		LogLevel:    "debug",
		MaxFileSize: 1024,
		RateLimit:   1.5,
		RateBurst:   3,
	}
	want := "Config{Mode: server, Host: localhost, Port: 9000, DataDir: /srv/ptd, RulesDir: , DB: /srv/ptd/jobs.db, LogLevel: debug, MaxFileSize: 1024, RateLimit: 1.5/3}"
	if got := cfg.String(); got != want {
		t.Errorf("String() = %v, want %v", got, want)
	}
}
