// Package soa parses the schedule of activities table of a protocol into an
// ordered visit by procedure matrix.
package soa

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/rules"
	"github.com/a3tai/ptd-generator/internal/textutil"
)

const stage = "soa"

// Rules configures schedule parsing.
type Rules struct {
	VisitPatterns    []string `yaml:"visit_patterns" toml:"visit_patterns"`
	HeaderKeywords   []string `yaml:"header_keywords" toml:"header_keywords"`
	MinVisitCount    int      `yaml:"min_visit_count" toml:"min_visit_count"`
	CellMarkers      []string `yaml:"cell_markers" toml:"cell_markers"`
	ProcedureFilters []string `yaml:"procedure_filters" toml:"procedure_filters"`
	// SectionBreaks are matched from the start of a row's first cell.
	SectionBreaks     []string `yaml:"section_breaks" toml:"section_breaks"`
	MinProcedures     int      `yaml:"min_procedures" toml:"min_procedures"`
	ConsecutiveBreaks int      `yaml:"consecutive_non_procedures_threshold" toml:"consecutive_non_procedures_threshold"`
}

// DefaultRules returns the built-in schedule parsing rules.
func DefaultRules() Rules {
	return Rules{
		VisitPatterns:  []string{`\b[VP]\d+[A-Za-z]*\b`},
		HeaderKeywords: []string{`\bvisit\b`, `\bprocedures?\b`, `\bstudy week\b`, `\bday\b`},
		MinVisitCount:  3,
		CellMarkers:    []string{`\b(?:X|YES|Y)\b`},
		ProcedureFilters: []string{
			"Procedure", "Visit", "Timing of visit", "Visit window", "Study week",
		},
		SectionBreaks:     []string{`(abbreviations|footnotes?|notes?)\b`},
		MinProcedures:     25,
		ConsecutiveBreaks: 25,
	}
}

// mergeVisitPattern decides whether a table continues a schedule across a page break.
var mergeVisitPattern = []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:V|P)\d+[A-Za-z]*\b`)}

// Schedule is the parsed schedule of activities.
type Schedule struct {
	// Visits in column order, duplicates suffixed _1, _2, ...
	Visits []string
	// Procedures in first-seen order.
	Procedures []string
	// ByVisit lists the procedures marked for each visit.
	ByVisit map[string][]string
}

// Has reports whether procedure is scheduled at visit.
func (s *Schedule) Has(procedure, visit string) bool {
	for _, p := range s.ByVisit[visit] {
		if p == procedure {
			return true
		}
	}
	return false
}

// Parser extracts schedules with a compiled rule set.
type Parser struct {
	rules    Rules
	visits   []*regexp.Regexp
	keywords []*regexp.Regexp
	markers  []*regexp.Regexp
	breaks   []*regexp.Regexp
	logger   *zap.Logger
}

// NewParser compiles r. A nil logger disables logging.
func NewParser(r Rules, logger *zap.Logger) (*Parser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Parser{rules: r, logger: logger}

	var err error
	if p.visits, err = rules.CompileAll(r.VisitPatterns, true, false); err != nil {
		return nil, fmt.Errorf("visit patterns: %w", err)
	}
	if p.keywords, err = rules.CompileAll(r.HeaderKeywords, false, false); err != nil {
		return nil, fmt.Errorf("header keywords: %w", err)
	}
	if p.markers, err = rules.CompileAll(r.CellMarkers, true, false); err != nil {
		return nil, fmt.Errorf("cell markers: %w", err)
	}
	if p.breaks, err = rules.CompileAll(r.SectionBreaks, true, true); err != nil {
		return nil, fmt.Errorf("section breaks: %w", err)
	}
	if p.rules.MinVisitCount <= 0 {
		p.rules.MinVisitCount = 3
	}
	return p, nil
}

// VisitID returns the visit identifier a cell holds, or "". The longest match
// of the first matching pattern wins, provided it covers more than 30% of the
// cell text ignoring spaces, parentheses and hyphens.
func VisitID(text string, patterns []*regexp.Regexp) string {
	text = strings.TrimSpace(text)
	stripped := strings.NewReplacer(" ", "", "(", "", ")", "", "-", "").Replace(text)
	for _, re := range patterns {
		matches := textutil.FindAll(re, text)
		if len(matches) == 0 {
			continue
		}
		longest := matches[0]
		for _, m := range matches[1:] {
			if textutil.Len(m) > textutil.Len(longest) {
				longest = m
			}
		}
		total := textutil.Len(stripped)
		if total > 0 && float64(textutil.Len(longest))/float64(total) > 0.3 {
			return longest
		}
	}
	return ""
}

// Rows returns the rows of a table as cell texts.
func Rows(table []*hierarchy.Node) [][]string {
	out := make([][]string, 0, len(table))
	for _, row := range table {
		cells := make([]string, 0, len(row.Children))
		for _, cell := range row.Children {
			cells = append(cells, cell.JoinedText())
		}
		out = append(out, cells)
	}
	return out
}

func countVisitCells(row []string, patterns []*regexp.Regexp) int {
	n := 0
	for _, cell := range row {
		if VisitID(cell, patterns) != "" {
			n++
		}
	}
	return n
}

func hasVisitRow(rows [][]string, patterns []*regexp.Regexp, atLeast int) bool {
	for _, row := range rows {
		if countVisitCells(row, patterns) >= atLeast {
			return true
		}
	}
	return false
}

// MergeTables joins tables split across page breaks. Each table is reduced
// to its TR rows. A table without visit identifiers continues the previous
// one; a visit-bearing table that follows a visit-less one absorbs its rows.
func MergeTables(tables []*hierarchy.Node) [][]*hierarchy.Node {
	var merged [][]*hierarchy.Node
	var buffer []*hierarchy.Node
	bufferHasVisits := false
	started := false

	for _, table := range tables {
		rows := table.FindByPrefix("TR")
		hasVisits := hasVisitRow(Rows(rows), mergeVisitPattern, 2)

		if !started {
			started = true
			buffer = rows
			bufferHasVisits = hasVisits
			continue
		}

		switch {
		case !hasVisits:
			buffer = append(buffer, rows...)
		case bufferHasVisits:
			merged = append(merged, buffer)
			buffer = rows
		default:
			buffer = append(append([]*hierarchy.Node{}, buffer...), rows...)
			bufferHasVisits = true
		}
	}
	if started {
		merged = append(merged, buffer)
	}
	return merged
}

func (p *Parser) hasMarker(text string) bool {
	return rules.AnyMatch(p.markers, text)
}

func (p *Parser) rowHasMarkers(row []string, columns []int) bool {
	for _, col := range columns {
		if col < len(row) && p.hasMarker(row[col]) {
			return true
		}
	}
	return false
}

// headerRow scores every row and returns the index of the best visit header,
// or -1.
func (p *Parser) headerRow(rows [][]string) int {
	best, bestScore := -1, 0
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		unique := make(map[string]bool)
		lowered := make([]string, 0, len(row))
		for _, cell := range row {
			if id := VisitID(cell, p.visits); id != "" {
				unique[strings.ToUpper(id)] = true
			}
			lowered = append(lowered, strings.ToLower(cell))
		}
		score := len(unique)
		rowText := strings.Join(lowered, " ")
		for _, kw := range p.keywords {
			if kw.MatchString(rowText) {
				score += 2
			}
		}
		if score > bestScore && score >= p.rules.MinVisitCount {
			best, bestScore = i, score
		}
	}
	return best
}

// scheduleEnd returns the index of the first row after the procedure block.
func (p *Parser) scheduleEnd(rows [][]string, columns []int, start int) int {
	procedures, consecutive := 0, 0
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 {
			continue
		}
		if p.rowHasMarkers(row, columns) {
			procedures++
			consecutive = 0
			continue
		}
		consecutive++
		if procedures < p.rules.MinProcedures {
			continue
		}
		if consecutive > p.rules.ConsecutiveBreaks {
			p.logger.Debug("schedule end by gap", zap.Int("row", i), zap.Int("procedures", procedures))
			return i
		}
		if rules.AnyMatch(p.breaks, strings.TrimSpace(row[0])) {
			p.logger.Debug("schedule end by section break", zap.Int("row", i), zap.String("cell", row[0]))
			return i
		}
	}
	return len(rows)
}

// isFiltered reports whether a row's first cell marks it as a header rather
// than a procedure. Without procedure filters every row is kept.
func (p *Parser) isFiltered(firstCell string) bool {
	if len(p.rules.ProcedureFilters) == 0 {
		return false
	}
	if VisitID(firstCell, p.visits) != "" {
		return true
	}
	lower := strings.ToLower(firstCell)
	for _, f := range p.rules.ProcedureFilters {
		if lower == strings.ToLower(f) {
			return true
		}
	}
	return false
}

// Parse finds the schedule of activities in a protocol hierarchy.
func (p *Parser) Parse(root *hierarchy.Node) (*Schedule, error) {
	var scheduleRows [][]string
	for _, table := range MergeTables(root.FindByPrefix("Table")) {
		rows := Rows(table)
		if hasVisitRow(rows, p.visits, p.rules.MinVisitCount) {
			scheduleRows = append(scheduleRows, rows...)
		}
	}
	if len(scheduleRows) == 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeNoScheduleTable, "no schedule tables found").WithStage(stage)
	}

	headerIdx := p.headerRow(scheduleRows)
	if headerIdx < 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeNoVisitHeader, "could not find visit header row").WithStage(stage)
	}

	header := scheduleRows[headerIdx]
	// a header repeated on a later page resolves to its first occurrence
	for i, row := range scheduleRows {
		if slices.Equal(row, header) {
			headerIdx = i
			break
		}
	}
	sched := &Schedule{ByVisit: make(map[string][]string)}
	var columns []int
	seen := make(map[string]bool)
	for i, cell := range header {
		id := VisitID(cell, p.visits)
		if id == "" {
			continue
		}
		original := id
		for n := 1; seen[id]; n++ {
			id = fmt.Sprintf("%s_%d", original, n)
		}
		seen[id] = true
		columns = append(columns, i)
		sched.Visits = append(sched.Visits, id)
	}
	if len(sched.Visits) == 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeNoVisitColumns, "no visit columns detected").WithStage(stage)
	}
	p.logger.Info("detected visits", zap.Strings("visits", sched.Visits))

	end := p.scheduleEnd(scheduleRows, columns, headerIdx+1)
	known := make(map[string]bool)
	for _, row := range scheduleRows[headerIdx+1 : end] {
		if len(row) == 0 {
			continue
		}
		procedure := strings.TrimSpace(row[0])
		if p.isFiltered(procedure) || !p.rowHasMarkers(row, columns) {
			continue
		}
		if !known[procedure] {
			known[procedure] = true
			sched.Procedures = append(sched.Procedures, procedure)
		}
		for k, col := range columns {
			if col < len(row) && p.hasMarker(row[col]) {
				visit := sched.Visits[k]
				sched.ByVisit[visit] = append(sched.ByVisit[visit], procedure)
			}
		}
	}

	if len(sched.Procedures) == 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeNoScheduleTable, "failed to parse schedule from protocol").
			WithStage(stage).WithContext("no marked procedure rows")
	}
	p.logger.Info("parsed schedule",
		zap.Int("visits", len(sched.Visits)), zap.Int("procedures", len(sched.Procedures)))
	return sched, nil
}
