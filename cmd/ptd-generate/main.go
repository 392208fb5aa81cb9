package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/a3tai/ptd-generator/internal/config"
	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/extract"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/ptd"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type generateFlags struct {
	ecrf, protocol    string
	template, out     string
	inplace, fast     bool
	stream, surgery   bool
	rulesDir          string
	keepIntermediates string
	verbose           bool
}

// app holds what every subcommand shares.
type app struct {
	flags  generateFlags
	logger *zap.Logger
	stdout io.Writer
}

// usageError marks argument problems so they exit with code 2.
func usageError(err error) error {
	if err == nil || ptderrors.IsType(err, ptderrors.ErrorTypeInvalidInput) {
		return err
	}
	return ptderrors.WrapError(ptderrors.ErrorTypeInvalidInput, err)
}

func args(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		return usageError(fn(cmd, a))
	}
}

func newLogger(verbose bool, w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return zap.New(core)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, logger: zap.NewNop()}
	f := &a.flags

	root := &cobra.Command{
		Use:   "ptd-generate",
		Short: "Generate a Protocol Translation Document workbook",
		Long: `Builds the Schedule Grid and Study Specific Forms sheets from a protocol and an
eCRF. Inputs may be hierarchy JSON, flat elements JSON, a structured-data zip
or a PDF.

Modes:
  (default)   copy --template to --out and replace both sheets
  --inplace   replace both sheets inside --template
  --stream    write a fresh two-sheet workbook to --out, no template needed
  --surgery   rewrite only the two sheet parts of --template into --out`,
		Example: `  ptd-generate --protocol protocol.json --ecrf ecrf.json --stream --out ptd.xlsx
  ptd-generate --protocol protocol.json --ecrf ecrf.json --template PTD.xlsx --inplace --fast`,
		Args:          args(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			a.logger = newLogger(f.verbose, stderr)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
		RunE: a.runGenerate,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Debug logging")
	root.PersistentFlags().StringVar(&f.rulesDir, "rules", "", "Directory of per-stage rule files")

	flags := root.Flags()
	flags.StringVar(&f.ecrf, "ecrf", "", "eCRF document (required)")
	flags.StringVar(&f.protocol, "protocol", "", "Protocol document (required)")
	flags.StringVar(&f.template, "template", "", "Template workbook")
	flags.StringVar(&f.out, "out", "", "Output workbook; omit with --inplace")
	flags.BoolVar(&f.inplace, "inplace", false, "Write the result over --template")
	flags.BoolVar(&f.fast, "fast", false, "Values only, keep header styling")
	flags.BoolVar(&f.stream, "stream", false, "Stream a new workbook, no template needed")
	flags.BoolVar(&f.surgery, "surgery", false, "Replace only the two sheet parts of the template")
	flags.StringVar(&f.keepIntermediates, "keep-intermediates", "", "Directory for forms, schedule, matrix and visits intermediates")

	root.AddCommand(a.hierarchyCmd(), a.extractCmd(), a.matrixCmd(), a.gridCmd())
	return root
}

func (a *app) mode() (ptd.Mode, error) {
	switch {
	case a.flags.stream && a.flags.surgery:
		return "", ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "--stream and --surgery are mutually exclusive")
	case a.flags.stream:
		return ptd.ModeStream, nil
	case a.flags.surgery:
		return ptd.ModeSurgery, nil
	}
	return ptd.ModeDefault, nil
}

func (a *app) extractor() extract.Extractor {
	return extract.NewLocalExtractor(extract.NewValidator(0), a.logger.Named("extract"))
}

func (a *app) runGenerate(cmd *cobra.Command, _ []string) error {
	f := a.flags
	if f.ecrf == "" || f.protocol == "" {
		return ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "--ecrf and --protocol are required")
	}
	mode, err := a.mode()
	if err != nil {
		return err
	}
	opts := ptd.Options{
		Template:         f.template,
		Output:           f.out,
		Mode:             mode,
		InPlace:          f.inplace,
		Fast:             f.fast,
		IntermediatesDir: f.keepIntermediates,
		Rules:            ptd.LoadRuleSet(f.rulesDir, a.logger.Named("rules")),
	}
	// fail on bad arguments before the inputs are read
	if _, err := ptd.ResolveOutput(opts); err != nil {
		return err
	}

	ctx := cmd.Context()
	ex := a.extractor()
	if opts.Protocol, err = loadInput(ctx, ex, f.protocol); err != nil {
		return err
	}
	if opts.ECRF, err = loadInput(ctx, ex, f.ecrf); err != nil {
		return err
	}

	res, err := ptd.NewGenerator(a.logger.Named("ptd"), nil).Generate(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Wrote %s (%s mode): %d forms, %d visits, %d events, %d study form items in %s\n",
		res.Output, res.Mode, res.Forms, res.Visits, res.Events, res.Items, res.Duration.Round(time.Millisecond))
	if res.Issues != nil {
		for _, w := range res.Issues.Warnings {
			fmt.Fprintf(a.stdout, "Warning: %s\n", w.Message)
		}
	}
	return nil
}

// loadInput reads a document, reporting a missing file as an argument error.
func loadInput(ctx context.Context, ex extract.Extractor, path string) (*hierarchy.Node, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "input not found: %s", path)
	}
	return extract.Load(ctx, ex, path)
}

func (a *app) hierarchyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy <input.json> [output.json]",
		Short: "Nest a flat elements JSON file into a section hierarchy",
		Long: `Reads {"elements": [{"Path": ..., "Text": ...}]} and writes the nested tree.
The output defaults to <input>_output.json.`,
		Args: args(cobra.RangeArgs(1, 2)),
		RunE: func(_ *cobra.Command, argv []string) error {
			in := argv[0]
			out := hierarchy.OutputPath(in)
			if len(argv) == 2 {
				out = argv[1]
			}
			file, err := os.Open(in) //nolint:gosec // user supplied input
			if err != nil {
				return ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "input not found: %s", in)
			}
			defer file.Close()
			elements, err := hierarchy.LoadElements(file)
			if err != nil {
				return ptderrors.WrapError(ptderrors.ErrorTypeInvalidJSON, err).WithFile(in)
			}
			root := hierarchy.Build(elements)
			if err := writeJSON(out, root.Encode); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote hierarchy of %d elements to %s\n", len(elements), out)
			return nil
		},
	}
}

func (a *app) extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file.pdf|file.zip|file.json> [output.json]",
		Short: "Extract a document into a section hierarchy",
		Long: `PDFs are read page by page, structured-data zips are unpacked and JSON is
parsed as either a hierarchy or flat elements. The output defaults to
<input>_hierarchy.json.`,
		Args: args(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			in := argv[0]
			out := strings.TrimSuffix(in, filepath.Ext(in)) + "_hierarchy.json"
			if len(argv) == 2 {
				out = argv[1]
			}
			root, err := loadInput(cmd.Context(), a.extractor(), in)
			if err != nil {
				return err
			}
			if err := writeJSON(out, root.Encode); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %d top-level sections to %s\n", len(root.Children), out)
			return nil
		},
	}
}

func (a *app) matrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix <forms.csv> <schedule.csv> [matrix.csv]",
		Short: "Rebuild the common matrix from forms and schedule intermediates",
		Long: `Merges a forms CSV and a schedule CSV written by --keep-intermediates. The
output defaults to matrix.csv next to the forms file.`,
		Args: args(cobra.RangeArgs(2, 3)),
		RunE: func(_ *cobra.Command, argv []string) error {
			out := filepath.Join(filepath.Dir(argv[0]), ptd.MatrixCSV)
			if len(argv) == 3 {
				out = argv[2]
			}
			rules := ptd.LoadRuleSet(a.flags.rulesDir, a.logger.Named("rules"))
			m, err := ptd.NewGenerator(a.logger.Named("ptd"), nil).Merge(argv[0], argv[1], rules.Matrix)
			if err != nil {
				return err
			}
			if err := ptd.WriteMatrix(out, m); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote matrix of %d forms over %d visits to %s\n", len(m.Rows), len(m.Visits), out)
			return nil
		},
	}
}

func (a *app) gridCmd() *cobra.Command {
	var protocol, matrixCSV, out string
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Render the Schedule Grid from an edited matrix",
		Long: `Groups the protocol's visits into events again and lays out the given matrix
CSV as a single-sheet Schedule Grid workbook.`,
		Args: args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if protocol == "" || matrixCSV == "" || out == "" {
				return ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "--protocol, --matrix and --out are required")
			}
			root, err := loadInput(cmd.Context(), a.extractor(), protocol)
			if err != nil {
				return err
			}
			rules := ptd.LoadRuleSet(a.flags.rulesDir, a.logger.Named("rules"))
			res, err := ptd.NewGenerator(a.logger.Named("ptd"), nil).Regrid(cmd.Context(), root, matrixCSV, out, rules)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s: %d forms, %d visits, %d events\n", res.Output, res.Forms, res.Visits, res.Events)
			return nil
		},
	}
	cmd.Flags().StringVar(&protocol, "protocol", "", "Protocol document (required)")
	cmd.Flags().StringVar(&matrixCSV, "matrix", "", "Matrix CSV (required)")
	cmd.Flags().StringVar(&out, "out", "", "Output workbook (required)")
	return cmd
}

func writeJSON(path string, encode func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // user supplied output
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(argv)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case ptderrors.IsType(err, ptderrors.ErrorTypeInvalidInput):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.Name())
		return exitUsage
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "Interrupted")
		return exitError
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitError
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
