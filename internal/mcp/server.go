package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/config"
	"github.com/a3tai/ptd-generator/internal/descriptions"
	"github.com/a3tai/ptd-generator/internal/extract"
	"github.com/a3tai/ptd-generator/internal/forms"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/ptd"
	"github.com/a3tai/ptd-generator/internal/security"
	"github.com/a3tai/ptd-generator/internal/soa"
)

// Server exposes the pipeline stages as MCP tools.
type Server struct {
	config    *config.Config
	paths     *security.PathValidator
	validator *extract.Validator
	extractor extract.Extractor
	generator *ptd.Generator
	rules     ptd.RuleSet
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

// Options carry the collaborators of the MCP server.
type Options struct {
	// Extractor handles PDF inputs; nil rejects them.
	Extractor extract.Extractor
	Generator *ptd.Generator
	// Rules defaults to ptd.DefaultRuleSet.
	Rules  *ptd.RuleSet
	Logger *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	paths, err := security.NewPathValidator(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	generator := opts.Generator
	if generator == nil {
		generator = ptd.NewGenerator(logger.Named("ptd"), nil)
	}

	rules := ptd.DefaultRuleSet()
	if opts.Rules != nil {
		rules = *opts.Rules
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		paths:     paths,
		validator: extract.NewValidator(cfg.MaxFileSize),
		extractor: opts.Extractor,
		generator: generator,
		rules:     rules,
		logger:    logger,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	pathArg := func(desc string) mcp.ToolOption {
		return mcp.WithString("path", mcp.Required(), mcp.Description(desc))
	}

	s.mcpServer.AddTool(mcp.NewTool("ptd_build_hierarchy",
		mcp.WithDescription(descriptions.GetToolDescription("ptd_build_hierarchy")),
		pathArg("Document to structure (.pdf, .zip or .json), relative to the data directory"),
		mcp.WithString("output", mcp.Description("Where to write the hierarchy JSON")),
	), s.handleBuildHierarchy)

	s.mcpServer.AddTool(mcp.NewTool("ptd_extract_forms",
		mcp.WithDescription(descriptions.GetToolDescription("ptd_extract_forms")),
		pathArg("eCRF document (.pdf, .zip or .json)"),
	), s.handleExtractForms)

	s.mcpServer.AddTool(mcp.NewTool("ptd_parse_schedule",
		mcp.WithDescription(descriptions.GetToolDescription("ptd_parse_schedule")),
		pathArg("Protocol document (.pdf, .zip or .json)"),
	), s.handleParseSchedule)

	s.mcpServer.AddTool(mcp.NewTool("ptd_generate",
		mcp.WithDescription(descriptions.GetToolDescription("ptd_generate")),
		mcp.WithString("protocol", mcp.Required(), mcp.Description("Protocol document")),
		mcp.WithString("ecrf", mcp.Required(), mcp.Description("eCRF document")),
		mcp.WithString("template", mcp.Description("Template workbook (.xlsx)")),
		mcp.WithString("output", mcp.Description("Output workbook, default outputs/ptd_output.xlsx")),
		mcp.WithString("mode", mcp.Description("default, stream or surgery"),
			mcp.Enum(string(ptd.ModeDefault), string(ptd.ModeStream), string(ptd.ModeSurgery))),
		mcp.WithBoolean("inplace", mcp.Description("Write the result over the template")),
		mcp.WithBoolean("fast", mcp.Description("Skip per-cell styling")),
	), s.handleGenerate)

	s.mcpServer.AddTool(mcp.NewTool("ptd_validate_pdf",
		mcp.WithDescription(descriptions.GetToolDescription("ptd_validate_pdf")),
		pathArg("PDF file to check"),
	), s.handleValidatePDF)

	s.mcpServer.AddTool(mcp.NewTool("ptd_server_info",
		mcp.WithDescription(descriptions.GetToolDescription("ptd_server_info")),
	), s.handleServerInfo)
}

// stringArg returns an optional string argument, trimmed.
func stringArg(request mcp.CallToolRequest, name string) string {
	if v, ok := request.GetArguments()[name].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func boolArg(request mcp.CallToolRequest, name string) bool {
	v, _ := request.GetArguments()[name].(bool)
	return v
}

// input resolves a required path argument inside the data directory.
func (s *Server) input(request mcp.CallToolRequest, name string) (string, error) {
	path, err := request.RequireString(name)
	if err != nil {
		return "", err
	}
	return s.paths.Resolve(path)
}

func (s *Server) load(ctx context.Context, request mcp.CallToolRequest, name string) (*hierarchy.Node, string, error) {
	path, err := s.input(request, name)
	if err != nil {
		return nil, "", err
	}
	root, err := extract.Load(ctx, s.extractor, path)
	if err != nil {
		return nil, "", err
	}
	return root, path, nil
}

func (s *Server) handleBuildHierarchy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, path, err := s.load(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	output := stringArg(request, "output")
	if output == "" {
		output = hierarchy.OutputPath(path)
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			output = strings.TrimSuffix(path, filepath.Ext(path)) + "_hierarchy.json"
		}
	}
	if output, err = s.paths.Resolve(output); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := writeHierarchy(root, output); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	nodes, sections := 0, 0
	root.Walk(func(n *hierarchy.Node) bool {
		nodes++
		if _, ok := hierarchy.HeaderLevel(n.Name); ok {
			sections++
		}
		return true
	})

	text := fmt.Sprintf("Built hierarchy for: %s\n", path)
	text += fmt.Sprintf("Top-level nodes: %d\n", len(root.Children))
	text += fmt.Sprintf("Sections: %d\n", sections)
	text += fmt.Sprintf("Total nodes: %d\n", nodes)
	text += fmt.Sprintf("Saved to: %s\n", output)
	return mcp.NewToolResultText(text), nil
}

func writeHierarchy(root *hierarchy.Node, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path) //nolint:gosec // path is confined to the data directory
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := root.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) handleExtractForms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, path, err := s.load(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	extractor, err := forms.NewExtractor(s.rules.Forms, s.logger.Named("forms"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	found := extractor.Extract(root)

	var buf bytes.Buffer
	if err := forms.WriteCSV(&buf, found); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dynamic := 0
	for _, f := range found {
		if f.DynamicTrigger {
			dynamic++
		}
	}

	text := fmt.Sprintf("Forms in: %s\n", path)
	text += fmt.Sprintf("Total forms: %d (%d dynamic)\n\n", len(found), dynamic)
	text += strings.TrimPrefix(buf.String(), "\ufeff")
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleParseSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, path, err := s.load(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	parser, err := soa.NewParser(s.rules.Schedule, s.logger.Named("soa"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	schedule, err := parser.Parse(root)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var buf bytes.Buffer
	if err := soa.WriteCSV(&buf, schedule); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := fmt.Sprintf("Schedule of activities in: %s\n", path)
	text += fmt.Sprintf("Visits (%d): %s\n", len(schedule.Visits), strings.Join(schedule.Visits, ", "))
	text += fmt.Sprintf("Procedures: %d\n\n", len(schedule.Procedures))
	text += buf.String()
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := ptd.Options{
		InPlace: boolArg(request, "inplace"),
		Fast:    boolArg(request, "fast"),
		Rules:   s.rules,
	}
	var err error
	if opts.Mode, err = ptd.ParseMode(stringArg(request, "mode")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if opts.Protocol, _, err = s.load(ctx, request, "protocol"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if opts.ECRF, _, err = s.load(ctx, request, "ecrf"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if template := stringArg(request, "template"); template != "" {
		if opts.Template, err = s.paths.Resolve(template); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	} else if stringArg(request, "mode") == "" {
		opts.Mode = ptd.ModeStream
	}

	output := stringArg(request, "output")
	if output == "" && !opts.InPlace {
		output = filepath.Join(config.OutputsDir, "ptd_output.xlsx")
	}
	if output != "" {
		if opts.Output, err = s.paths.Resolve(output); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	res, err := s.generator.Generate(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := fmt.Sprintf("PTD workbook written: %s\n", res.Output)
	text += fmt.Sprintf("Mode: %s\n", res.Mode)
	text += fmt.Sprintf("Forms: %d\n", res.Forms)
	text += fmt.Sprintf("Visits: %d\n", res.Visits)
	text += fmt.Sprintf("Events: %d\n", res.Events)
	text += fmt.Sprintf("Study form items: %d\n", res.Items)
	text += fmt.Sprintf("Duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.Issues != nil {
		for _, w := range res.Issues.Warnings {
			text += fmt.Sprintf("Warning: %s\n", w.Message)
		}
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleValidatePDF(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := s.input(request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := s.validator.Validate(path)

	var text string
	if result.Valid {
		text = fmt.Sprintf("PDF file %s is valid and readable (%d pages, %d bytes)", result.Path, result.Pages, result.Size)
	} else {
		text = fmt.Sprintf("PDF validation failed for %s: %s", result.Path, result.Message)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := fmt.Sprintf("%s v%s - Server Information\n", s.config.ServerName, s.config.Version)
	text += fmt.Sprintf("Data Directory: %s\n", s.paths.Root())
	text += fmt.Sprintf("Max File Size: %d MB\n", s.config.MaxFileSize/(1024*1024))
	if s.config.RulesDir != "" {
		text += fmt.Sprintf("Rules Directory: %s\n", s.config.RulesDir)
	} else {
		text += "Rules: built-in defaults\n"
	}
	text += fmt.Sprintf("Inputs: %s\n", strings.Join(extract.Extensions, ", "))
	if s.extractor == nil {
		text += "PDF extraction: disabled\n"
	}

	text += "\nAvailable Tools:\n"
	for _, name := range descriptions.GetAllToolNames() {
		desc := descriptions.GetToolDescription(name)
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		text += fmt.Sprintf("• %s: %s\n", name, desc)
	}
	return mcp.NewToolResultText(text), nil
}

// Run serves MCP over stdin/stdout until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve speaks MCP over the given streams. Diagnostics go to the logger,
// never to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("serving MCP over stdio", zap.String("data_dir", s.paths.Root()))
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
