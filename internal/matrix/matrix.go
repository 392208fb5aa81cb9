// Package matrix orders the extracted eCRF forms by the protocol's procedure
// order and numbers them per visit.
package matrix

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/forms"
	"github.com/a3tai/ptd-generator/internal/soa"
)

// Unmapped is the sort index of forms that match no procedure.
const Unmapped = 9999

// Columns are the fixed leading columns of the matrix.
var Columns = []string{"Form Label", "Form Name", "Source", "Is Form Dynamic?", "Form Dynamic Criteria"}

// Rules configures the fuzzy merge.
type Rules struct {
	FuzzyThreshold  float64       `yaml:"fuzzy_threshold" toml:"fuzzy_threshold"`
	IncludeUnmapped bool          `yaml:"include_unmapped" toml:"include_unmapped"`
	FuzzyMatching   FuzzyMatching `yaml:"fuzzy_matching" toml:"fuzzy_matching"`
	VisitParsing    VisitParsing  `yaml:"visit_parsing" toml:"visit_parsing"`
}

// FuzzyMatching tunes the label comparison.
type FuzzyMatching struct {
	CaseInsensitive bool `yaml:"case_insensitive" toml:"case_insensitive"`
}

// VisitParsing describes how a form's Visits cell is split.
type VisitParsing struct {
	Separator       string `yaml:"separator" toml:"separator"`
	StripWhitespace bool   `yaml:"strip_whitespace" toml:"strip_whitespace"`
}

// DefaultRules returns the built-in merge rules.
func DefaultRules() Rules {
	return Rules{
		FuzzyThreshold: 0.5,
		FuzzyMatching:  FuzzyMatching{CaseInsensitive: true},
		VisitParsing:   VisitParsing{Separator: ",", StripWhitespace: true},
	}
}

// Row is one form of the matrix. Numbers maps a visit to the form's position
// within that visit; visits the form does not occur at are absent.
type Row struct {
	FormLabel       string
	FormName        string
	Source          string
	IsDynamic       string
	DynamicCriteria string
	Numbers         map[string]int
}

// Value returns the cell text for a visit column.
func (r Row) Value(visit string) string {
	if n, ok := r.Numbers[visit]; ok {
		return strconv.Itoa(n)
	}
	return ""
}

// Matrix is the ordered form by visit matrix.
type Matrix struct {
	Visits []string
	Rows   []Row
	// Mapping records the procedure each form label was matched to.
	Mapping map[string]string
}

// Ratio is the difflib similarity of two strings compared character by character.
func Ratio(a, b string, caseInsensitive bool) float64 {
	if caseInsensitive {
		a, b = strings.ToLower(a), strings.ToLower(b)
	}
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

// SplitVisits splits a Visits cell.
func (r Rules) SplitVisits(cell string) []string {
	sep := r.VisitParsing.Separator
	if sep == "" {
		sep = ","
	}
	var out []string
	for _, v := range strings.Split(cell, sep) {
		if r.VisitParsing.StripWhitespace {
			v = strings.TrimSpace(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Build merges forms with the schedule.
func Build(extracted []forms.Form, schedule *soa.Schedule, r Rules, logger *zap.Logger) *Matrix {
	if logger == nil {
		logger = zap.NewNop()
	}

	index := make(map[string]int)
	mapping := make(map[string]string)
	var unmapped []string
	for _, f := range extracted {
		if _, done := index[f.Label]; done {
			continue
		}
		bestScore, bestIdx, bestProc := 0.0, Unmapped, ""
		for i, proc := range schedule.Procedures {
			score := Ratio(proc, f.Label, r.FuzzyMatching.CaseInsensitive)
			if score >= r.FuzzyThreshold && score > bestScore {
				bestScore, bestIdx, bestProc = score, i, proc
			}
		}
		index[f.Label] = bestIdx
		if bestProc != "" {
			mapping[f.Label] = bestProc
		} else {
			unmapped = append(unmapped, f.Label)
			if r.IncludeUnmapped {
				mapping[f.Label] = "Unmapped"
			}
		}
	}
	logger.Info("mapped forms to procedures",
		zap.Int("mapped", len(index)-len(unmapped)), zap.Strings("unmapped", unmapped))

	sorted := make([]forms.Form, len(extracted))
	copy(sorted, extracted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return index[sorted[i].Label] < index[sorted[j].Label]
	})

	m := &Matrix{
		Visits:  append([]string(nil), schedule.Visits...),
		Rows:    make([]Row, 0, len(sorted)),
		Mapping: mapping,
	}
	counters := make(map[string]int, len(m.Visits))
	for _, f := range sorted {
		row := Row{
			FormLabel:       f.Label,
			FormName:        f.Name,
			Source:          f.Source,
			IsDynamic:       forms.YesNo(f.DynamicTrigger),
			DynamicCriteria: f.TriggerDetails,
			Numbers:         make(map[string]int),
		}
		listed := make(map[string]bool)
		for _, v := range r.SplitVisits(f.Visits) {
			listed[v] = true
		}
		for _, visit := range m.Visits {
			if listed[visit] {
				counters[visit]++
				row.Numbers[visit] = counters[visit]
			}
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}
