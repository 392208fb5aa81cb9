// Package ptd assembles the Protocol Translation Document: it runs the
// schedule grid and study forms pipelines over a protocol and an eCRF
// hierarchy and writes both sheets into a workbook, either fresh, into a
// template, or by replacing the sheet parts of a template archive.
package ptd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/events"
	"github.com/a3tai/ptd-generator/internal/forms"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/layout"
	"github.com/a3tai/ptd-generator/internal/matrix"
	"github.com/a3tai/ptd-generator/internal/sheet"
	"github.com/a3tai/ptd-generator/internal/soa"
	"github.com/a3tai/ptd-generator/internal/studyforms"
)

// Mode selects how the workbook is written.
type Mode string

// Output modes.
const (
	// ModeDefault rebuilds both sheets inside a copy of the template.
	ModeDefault Mode = "default"
	// ModeStream writes a new two-sheet workbook through stream writers.
	ModeStream Mode = "stream"
	// ModeSurgery swaps the two worksheet parts of the template archive.
	ModeSurgery Mode = "surgery"
)

// ParseMode validates a mode name. An empty name is ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModeStream:
		return ModeStream, nil
	case ModeSurgery:
		return ModeSurgery, nil
	}
	return "", ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "unknown mode %q (want default, stream or surgery)", s)
}

// Intermediate file names written to Options.IntermediatesDir.
const (
	FormsCSV    = "forms.csv"
	ScheduleCSV = "schedule.csv"
	MatrixCSV   = "matrix.csv"
	VisitsXLSX  = "visits.xlsx"
)

// Options describe one generation run.
type Options struct {
	Protocol *hierarchy.Node
	ECRF     *hierarchy.Node
	// Template is the workbook whose other sheets are preserved.
	Template string
	Output   string
	Mode     Mode
	// InPlace writes over Template.
	InPlace bool
	// Fast copies values only, keeping header styles.
	Fast             bool
	IntermediatesDir string
	Rules            RuleSet
}

// Result summarises a successful run.
type Result struct {
	Output   string
	Mode     Mode
	Forms    int
	Visits   int
	Events   int
	Items    int
	Duration time.Duration
	// Issues holds the recoverable problems met along the way.
	Issues *ptderrors.ErrorCollection
}

// Generator runs the pipeline.
type Generator struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewGenerator returns a generator. Both arguments may be nil.
func NewGenerator(logger *zap.Logger, metrics *Metrics) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{logger: logger, metrics: metrics}
}

// ResolveOutput works out the workbook path for opts: the template in
// place, or Output with its extension forced to .xlsx.
func ResolveOutput(opts Options) (string, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeDefault
	}
	var out string
	switch {
	case mode == ModeStream:
		if opts.Output == "" {
			return "", ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "an output path is required in stream mode")
		}
		out = opts.Output
	case opts.InPlace:
		if opts.Template == "" {
			return "", ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "a template is required to write in place")
		}
		out = opts.Template
	default:
		if opts.Output == "" {
			return "", ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "an output path is required unless writing in place")
		}
		out = opts.Output
	}
	if mode != ModeStream && opts.Template == "" {
		return "", ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "a template is required in %s mode", mode)
	}
	if !strings.EqualFold(filepath.Ext(out), ".xlsx") {
		out = strings.TrimSuffix(out, filepath.Ext(out)) + ".xlsx"
	}
	return out, nil
}

type scheduleGrid struct {
	forms  []forms.Form
	sched  *soa.Schedule
	matrix *matrix.Matrix
	events []events.Event
	sheet  *sheet.Sheet
}

// Generate runs both pipelines concurrently and writes the workbook.
func (g *Generator) Generate(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Mode == "" {
		opts.Mode = ModeDefault
	}
	res, err := g.generate(ctx, opts)
	if err != nil {
		g.metrics.run(opts.Mode, "error")
		return nil, err
	}
	res.Duration = time.Since(start)
	g.metrics.run(opts.Mode, "success")
	if _, warnings := res.Issues.Count(); warnings > 0 {
		g.logger.Warn("pipeline finished with warnings", zap.String("summary", res.Issues.Summary()))
	}
	g.logger.Info("wrote PTD workbook",
		zap.String("output", res.Output),
		zap.String("mode", string(res.Mode)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (g *Generator) generate(ctx context.Context, opts Options) (*Result, error) {
	if opts.Protocol == nil || opts.ECRF == nil {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "both a protocol and an eCRF hierarchy are required")
	}
	out, err := ResolveOutput(opts)
	if err != nil {
		return nil, err
	}
	if opts.InPlace && opts.Output != "" && opts.Output != opts.Template {
		g.logger.Warn("writing in place, ignoring output path", zap.String("output", opts.Output))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var (
		grid *scheduleGrid
		rows []studyforms.Row
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		grid, err = g.scheduleGrid(egCtx, opts)
		return err
	})
	eg.Go(func() error {
		var err error
		rows, err = g.studyForms(egCtx, opts)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	formsSheet := studyforms.Sheet(rows)

	issues := ptderrors.NewErrorCollection("")
	if len(rows) == 0 {
		issues.Add(ptderrors.NewPipelineError(ptderrors.ErrorTypeNoForms, "no study form items found in the eCRF").WithStage(StageStudyForms))
	}
	if len(grid.events) == 0 {
		issues.Add(ptderrors.NewPipelineError(ptderrors.ErrorTypeNoEvents, "no visit events found in the protocol").WithStage(StageEvents))
	}

	if opts.IntermediatesDir != "" {
		if err := g.writeIntermediates(opts.IntermediatesDir, grid, opts.Rules.Events.OutputColumns); err != nil {
			return nil, err
		}
	}

	begin := time.Now()
	switch opts.Mode {
	case ModeStream:
		err = writeStream(out, grid.sheet, formsSheet)
	case ModeSurgery:
		err = Surgery(opts.Template, out, grid.sheet, formsSheet)
	case ModeDefault:
		err = replaceInTemplate(opts.Template, out, opts.Fast, grid.sheet, formsSheet)
	default:
		err = ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "unknown mode %q", opts.Mode)
	}
	g.metrics.stage("write", begin)
	if err != nil {
		return nil, err
	}

	return &Result{
		Output: out,
		Mode:   opts.Mode,
		Forms:  len(grid.forms),
		Visits: len(grid.sched.Visits),
		Events: len(grid.events),
		Items:  len(rows),
		Issues: issues,
	}, nil
}

func (g *Generator) scheduleGrid(ctx context.Context, opts Options) (*scheduleGrid, error) {
	rs := opts.Rules
	out := &scheduleGrid{}

	begin := time.Now()
	fx, err := forms.NewExtractor(rs.Forms, g.logger.Named("forms"))
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeRules, err).WithStage(StageForms)
	}
	out.forms = fx.Extract(opts.ECRF)
	g.metrics.stage(StageForms, begin)
	if len(out.forms) == 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeNoForms, "no forms found in the eCRF").WithStage(StageForms)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	begin = time.Now()
	parser, err := soa.NewParser(rs.Schedule, g.logger.Named("soa"))
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeRules, err).WithStage(StageSchedule)
	}
	if out.sched, err = parser.Parse(opts.Protocol); err != nil {
		return nil, err
	}
	g.metrics.stage(StageSchedule, begin)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	begin = time.Now()
	out.matrix = matrix.Build(out.forms, out.sched, rs.Matrix, g.logger.Named("matrix"))
	g.metrics.stage(StageMatrix, begin)

	begin = time.Now()
	grouper, err := events.NewGrouper(rs.Events, g.logger.Named("events"))
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeRules, err).WithStage(StageEvents)
	}
	if out.events, err = g.visitEvents(grouper, opts.Protocol); err != nil {
		return nil, err
	}
	g.metrics.stage(StageEvents, begin)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	begin = time.Now()
	out.sheet = layout.Build(out.events, out.matrix, rs.Layout, g.logger.Named("layout"))
	g.metrics.stage(StageLayout, begin)
	return out, nil
}

// visitEvents extracts the event table of a protocol. A protocol without
// visit and week rows yields no events; callers report that as a warning.
func (g *Generator) visitEvents(grouper *events.Grouper, protocol *hierarchy.Node) ([]events.Event, error) {
	evs, err := grouper.Extract(protocol)
	if ptderrors.IsType(err, ptderrors.ErrorTypeNoEvents) {
		g.logger.Warn("continuing without visit events", zap.Error(err))
		return nil, nil
	}
	return evs, err
}

func (g *Generator) studyForms(ctx context.Context, opts Options) ([]studyforms.Row, error) {
	begin := time.Now()
	sx, err := studyforms.NewExtractor(opts.Rules.StudyForms, g.logger.Named("studyforms"))
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeRules, err).WithStage(StageStudyForms)
	}
	rows := sx.Rows(opts.ECRF)
	g.metrics.stage(StageStudyForms, begin)
	return rows, ctx.Err()
}

func (g *Generator) writeIntermediates(dir string, grid *scheduleGrid, columns []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create intermediates directory: %w", err)
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{FormsCSV, func(w io.Writer) error { return forms.WriteCSV(w, grid.forms) }},
		{ScheduleCSV, func(w io.Writer) error { return soa.WriteCSV(w, grid.sched) }},
		{MatrixCSV, func(w io.Writer) error { return matrix.WriteCSV(w, grid.matrix) }},
	}
	for _, wr := range writers {
		if err := writeFile(filepath.Join(dir, wr.name), wr.write); err != nil {
			return err
		}
	}
	if err := events.WriteXLSX(filepath.Join(dir, VisitsXLSX), grid.events, columns); err != nil {
		return ptderrors.WrapError(ptderrors.ErrorTypeWorkbookWrite, err).WithFile(VisitsXLSX)
	}
	g.logger.Debug("wrote intermediates", zap.String("dir", dir))
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path) //nolint:gosec // path is under the caller's intermediates directory
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
