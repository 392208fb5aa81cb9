package ptd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/events"
	"github.com/a3tai/ptd-generator/internal/forms"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/layout"
	"github.com/a3tai/ptd-generator/internal/matrix"
	"github.com/a3tai/ptd-generator/internal/soa"
)

// The functions below restart the schedule grid pipeline from intermediates
// written with Options.IntermediatesDir, typically after a reviewer has
// corrected one of them by hand.

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path) //nolint:gosec // caller supplied intermediate
	if err != nil {
		return ptderrors.Newf(ptderrors.ErrorTypeInvalidInput, "input not found: %s", path)
	}
	defer f.Close()
	if err := read(f); err != nil {
		return ptderrors.WrapError(ptderrors.ErrorTypeInvalidInput, err).WithFile(filepath.Base(path))
	}
	return nil
}

// Merge rebuilds the common matrix from a forms CSV and a schedule CSV.
func (g *Generator) Merge(formsCSV, scheduleCSV string, r matrix.Rules) (*matrix.Matrix, error) {
	var (
		fs    []forms.Form
		sched *soa.Schedule
	)
	if err := readFile(formsCSV, func(rd io.Reader) (err error) {
		fs, err = forms.ReadCSV(rd)
		return err
	}); err != nil {
		return nil, err
	}
	if err := readFile(scheduleCSV, func(rd io.Reader) (err error) {
		sched, err = soa.ReadCSV(rd)
		return err
	}); err != nil {
		return nil, err
	}

	begin := time.Now()
	m := matrix.Build(fs, sched, r, g.logger.Named("matrix"))
	g.metrics.stage(StageMatrix, begin)
	return m, nil
}

// WriteMatrix writes m as CSV to path, creating the directory.
func WriteMatrix(path string, m *matrix.Matrix) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return writeFile(path, func(w io.Writer) error { return matrix.WriteCSV(w, m) })
}

// Regrid writes a single-sheet Schedule Grid workbook from a matrix CSV and
// the protocol's visits.
func (g *Generator) Regrid(ctx context.Context, protocol *hierarchy.Node, matrixCSV, out string, rs RuleSet) (*Result, error) {
	start := time.Now()
	if protocol == nil {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "a protocol hierarchy is required")
	}
	if out == "" {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeInvalidInput, "an output path is required")
	}
	out, _ = ResolveOutput(Options{Mode: ModeStream, Output: out})

	var m *matrix.Matrix
	if err := readFile(matrixCSV, func(rd io.Reader) (err error) {
		m, err = matrix.ReadCSV(rd)
		return err
	}); err != nil {
		return nil, err
	}

	begin := time.Now()
	grouper, err := events.NewGrouper(rs.Events, g.logger.Named("events"))
	if err != nil {
		return nil, ptderrors.WrapError(ptderrors.ErrorTypeRules, err).WithStage(StageEvents)
	}
	evs, err := g.visitEvents(grouper, protocol)
	if err != nil {
		return nil, err
	}
	g.metrics.stage(StageEvents, begin)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	begin = time.Now()
	grid := layout.Build(evs, m, rs.Layout, g.logger.Named("layout"))
	g.metrics.stage(StageLayout, begin)

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if err := writeStream(out, grid); err != nil {
		return nil, err
	}

	issues := ptderrors.NewErrorCollection(matrixCSV)
	if len(evs) == 0 {
		issues.Add(ptderrors.NewPipelineError(ptderrors.ErrorTypeNoEvents, "no visit events found in the protocol").WithStage(StageEvents))
	}
	res := &Result{
		Output:   out,
		Mode:     ModeStream,
		Forms:    len(m.Rows),
		Visits:   len(m.Visits),
		Events:   len(evs),
		Duration: time.Since(start),
		Issues:   issues,
	}
	g.logger.Info("wrote schedule grid", zap.String("output", out), zap.Int("rows", len(m.Rows)))
	return res, nil
}
