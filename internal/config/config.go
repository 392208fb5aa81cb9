// Package config loads the ptd-server configuration from flags, PTD_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultRateLimit   = 2.0
	DefaultRateBurst   = 5

	// Directory permissions
	DefaultDirPerm = 0o750

	// EnvPrefix prefixes every environment variable read through viper.
	EnvPrefix = "PTD"

	// Credentials of the external PDF extraction service. Only their
	// presence is reported.
	EnvPDFServicesClientID     = "PDF_SERVICES_CLIENT_ID"
	EnvPDFServicesClientSecret = "PDF_SERVICES_CLIENT_SECRET"
)

// Data directory layout.
const (
	UploadsDir = "uploads"
	OutputsDir = "outputs"
	RunsDir    = "runs"
)

// Config holds the server configuration.
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// DataDir holds uploads, outputs and per-job run directories.
	DataDir string
	// RulesDir holds per-stage rule files; empty uses built-in defaults.
	RulesDir string
	// DBPath is the job database; empty keeps jobs in memory.
	DBPath string

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64

	// RateLimit is requests per second per client on pipeline routes.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:        ModeServer,
		Host:        DefaultHost,
		Port:        DefaultPort,
		DataDir:     filepath.Join(currentDir, "data"),
		Version:     "1.0.0",
		ServerName:  "ptd-generator",
		LogLevel:    DefaultLogLevel,
		MaxFileSize: DefaultMaxFileSize,
		RateLimit:   DefaultRateLimit,
		RateBurst:   DefaultRateBurst,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	for _, p := range []*string{&cfg.DataDir, &cfg.RulesDir, &cfg.DBPath} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = abs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from path into the environment. A missing
// file is not an error and variables already set are kept.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("datadir", cfg.DataDir)
	viper.SetDefault("rulesdir", cfg.RulesDir)
	viper.SetDefault("db", cfg.DBPath)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("ratelimit", cfg.RateLimit)
	viper.SetDefault("rateburst", cfg.RateBurst)
}

func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Run mode: 'server' for the HTTP API, 'stdio' for MCP over standard I/O")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("datadir", cfg.DataDir, "Directory for uploads, outputs and job runs")
	pflag.String("rulesdir", cfg.RulesDir, "Directory of per-stage rule files (default: built-in rules)")
	pflag.String("db", cfg.DBPath, "SQLite job database (default: in-memory)")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum upload size in bytes")
	pflag.Float64("ratelimit", cfg.RateLimit, "Pipeline requests per second per client (0 disables)")
	pflag.Int("rateburst", cfg.RateBurst, "Pipeline request burst per client")
}

func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "datadir", "rulesdir", "db",
		"loglevel", "maxfilesize", "ratelimit", "rateburst",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPTD Generator - builds Protocol Translation Documents from a protocol and an eCRF\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                   # HTTP API on 127.0.0.1:8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --host=0.0.0.0 --db=jobs.db       # persistent job store\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=stdio --datadir=/srv/ptd   # MCP tools over stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(os.Stderr, "  PTD_MODE, PTD_HOST, PTD_PORT, PTD_DATADIR, PTD_RULESDIR, PTD_DB\n")
		fmt.Fprintf(os.Stderr, "  PTD_LOGLEVEL, PTD_MAXFILESIZE, PTD_RATELIMIT, PTD_RATEBURST\n")
		fmt.Fprintf(os.Stderr, "  %s, %s\n", EnvPDFServicesClientID, EnvPDFServicesClientSecret)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DataDir = viper.GetString("datadir")
	cfg.RulesDir = viper.GetString("rulesdir")
	cfg.DBPath = viper.GetString("db")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.RateLimit = viper.GetFloat64("ratelimit")
	cfg.RateBurst = viper.GetInt("rateburst")
}

// Validate checks the configuration and creates the data directory layout.
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.DataDir == "" {
		return errors.New("data directory cannot be empty")
	}
	for _, dir := range []string{c.DataDir, c.UploadsDir(), c.OutputsDir(), c.RunsDir()} {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	}

	if c.RulesDir != "" {
		info, err := os.Stat(c.RulesDir)
		if err != nil {
			return fmt.Errorf("cannot access rules directory %s: %w", c.RulesDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("rules path is not a directory: %s", c.RulesDir)
		}
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	if c.RateLimit < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate burst must be at least 1 when rate limiting is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// UploadsDir is where uploaded documents are stored.
func (c *Config) UploadsDir() string { return filepath.Join(c.DataDir, UploadsDir) }

// OutputsDir is where generated workbooks are served from.
func (c *Config) OutputsDir() string { return filepath.Join(c.DataDir, OutputsDir) }

// RunsDir holds one working directory per job.
func (c *Config) RunsDir() string { return filepath.Join(c.DataDir, RunsDir) }

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, DataDir: %s, RulesDir: %s, DB: %s, LogLevel: %s, MaxFileSize: %d, RateLimit: %g/%d}",
		c.Mode, c.Host, c.Port, c.DataDir, c.RulesDir, c.DBPath, c.LogLevel, c.MaxFileSize, c.RateLimit, c.RateBurst)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

// Credentials reports whether the PDF service credentials are present in
// the environment.
func Credentials() (clientID, clientSecret bool) {
	return os.Getenv(EnvPDFServicesClientID) != "", os.Getenv(EnvPDFServicesClientSecret) != ""
}
