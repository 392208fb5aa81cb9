// Package events derives the study events from the schedule of activities:
// their short names, study weeks, event groups and visit windows.
package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/rules"
	"github.com/a3tai/ptd-generator/internal/textutil"
)

const stage = "events"

// Default group names of visits no event group claims.
const (
	GroupMain      = "Main Study"
	GroupExtension = "Extension"
)

// Columns is the default column order of the event table.
var Columns = []string{
	"Event Group", "Visit Name", "Study Week", "Offset Days",
	"Offset Type", "Day Range - Early", "Day Range - Late",
}

// Event is one study visit. Offsets are only meaningful when HasWeek is set.
type Event struct {
	Group      string
	VisitName  string
	Week       int
	HasWeek    bool
	OffsetDays int
	EarlyDays  int
	LateDays   int
	OffsetType string
}

// Value returns the cell value of the named column, or nil for a blank cell.
func (e Event) Value(column string) interface{} {
	switch column {
	case "Event Group":
		return e.Group
	case "Visit Name":
		return e.VisitName
	case "Offset Type":
		return e.OffsetType
	}
	if !e.HasWeek {
		return nil
	}
	switch column {
	case "Study Week":
		return e.Week
	case "Offset Days":
		return e.OffsetDays
	case "Day Range - Early":
		return e.EarlyDays
	case "Day Range - Late":
		return e.LateDays
	}
	return nil
}

// Grouper extracts events with a compiled rule set.
type Grouper struct {
	rules     Rules
	visit     *regexp.Regexp
	extension *regexp.Regexp
	special   map[string]bool
	order     []string
	logger    *zap.Logger
}

// NewGrouper compiles r. A nil logger disables logging.
func NewGrouper(r Rules, logger *zap.Logger) (*Grouper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Grouper{rules: r, logger: logger, special: make(map[string]bool), order: r.groupKeys()}

	var err error
	if g.visit, err = rules.Compile(r.VisitNormalization.Pattern, false, true); err != nil {
		return nil, fmt.Errorf("visit normalization pattern: %w", err)
	}
	if g.extension, err = rules.Compile(r.ExtensionDetection.Pattern, r.ExtensionDetection.CaseInsensitive, false); err != nil {
		return nil, fmt.Errorf("extension pattern: %w", err)
	}
	for _, s := range r.VisitNormalization.SpecialCases {
		g.special[s] = true
	}
	return g, nil
}

// Normalize reduces a visit label to its base name. Single-letter suffixes
// ("V2 a") collapse onto the base visit, longer suffixes and unrecognised
// labels are rejected with "".
func (g *Grouper) Normalize(label string) string {
	label = strings.TrimSpace(label)
	m := g.visit.FindStringSubmatch(label)
	if m == nil {
		if upper := strings.ToUpper(label); g.special[upper] {
			return upper
		}
		return ""
	}
	base := m[1]
	suffix := ""
	if len(m) > 2 {
		suffix = m[2]
	}
	if upper := strings.ToUpper(base); g.special[upper] {
		return upper
	}
	if suffix != "" && len([]rune(suffix)) != g.rules.VisitNormalization.KeepSuffixLength {
		return ""
	}
	return base
}

// ParseWeek reads a study week cell, keeping only digits and minus signs.
func ParseWeek(text string) (int, bool) {
	digits := strings.Map(func(r rune) rune {
		if r == '-' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, text)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func firstCell(row *hierarchy.Node) *hierarchy.Node {
	if len(row.Children) == 0 {
		return nil
	}
	return row.Children[0]
}

// Tables returns the schedule tables of a document: tables in which some
// row's first cell carries a schedule keyword.
func (g *Grouper) Tables(root *hierarchy.Node) []*hierarchy.Node {
	var tables []*hierarchy.Node
	root.Walk(func(n *hierarchy.Node) bool {
		if !strings.HasPrefix(n.Name, "Table") || len(n.Children) == 0 {
			return true
		}
		for _, row := range n.Children {
			cell := firstCell(row)
			if cell == nil {
				continue
			}
			for _, p := range cell.Children {
				if p.Text != "" && containsAny(p.Text, g.rules.TableDetection.SoAKeywords) {
					tables = append(tables, n)
					return true
				}
			}
		}
		return true
	})
	return tables
}

type visitWeek struct {
	name    string
	week    int
	hasWeek bool
}

// visitsAndWeeks pairs the visit short names with the study weeks found in
// the tables. Surplus entries of the longer list are dropped.
func (g *Grouper) visitsAndWeeks(tables []*hierarchy.Node) []visitWeek {
	var names []string
	var weeks []visitWeek
	td := g.rules.TableDetection
	for _, table := range tables {
		for _, row := range table.Children {
			cell := firstCell(row)
			if cell == nil || len(cell.Children) == 0 {
				continue
			}
			first := strings.ToLower(strings.TrimSpace(cell.Children[0].Text))
			switch {
			case containsAny(first, td.VisitShortNameKeywords):
				for _, c := range row.Children[1:] {
					for _, p := range c.Children {
						if name := g.Normalize(p.Text); name != "" {
							names = append(names, name)
						}
					}
				}
			case containsAny(first, td.StudyWeekKeywords):
				for _, c := range row.Children[1:] {
					for _, p := range c.Children {
						w, ok := ParseWeek(strings.TrimSpace(p.Text))
						weeks = append(weeks, visitWeek{week: w, hasWeek: ok})
					}
				}
			}
		}
	}

	n := min(len(names), len(weeks))
	out := make([]visitWeek, 0, n)
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		if seen[names[i]] {
			continue
		}
		seen[names[i]] = true
		weeks[i].name = names[i]
		out = append(out, weeks[i])
	}
	return out
}

// ExtensionWeek returns the week the extension period starts, read from the
// section introduced by the configured heading.
func (g *Grouper) ExtensionWeek(root *hierarchy.Node) (int, bool) {
	section := root.FindText(g.rules.ExtensionDetection.SearchSection)
	if section == nil {
		return 0, false
	}
	data, err := json.Marshal(section)
	if err != nil {
		return 0, false
	}
	m := g.extension.FindSubmatch(data)
	if len(m) < 2 {
		return 0, false
	}
	week, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return week, true
}

// Group classifies a visit. Configured groups claim their visits first; the
// rest fall into the extension from its start week on, else the main study.
func (g *Grouper) Group(visit string, week int, hasWeek bool, extension int, hasExtension bool) string {
	for _, k := range g.order {
		group := g.rules.EventGroups[k]
		for _, v := range group.VisitNames {
			if v == visit {
				if group.GroupName != "" {
					return group.GroupName
				}
				return textutil.TitleCase(k)
			}
		}
	}
	if hasWeek && hasExtension && week >= extension {
		return GroupExtension
	}
	return GroupMain
}

// Extract builds the event table of a protocol.
func (g *Grouper) Extract(root *hierarchy.Node) ([]Event, error) {
	tables := g.Tables(root)
	pairs := g.visitsAndWeeks(tables)
	if len(pairs) == 0 {
		return nil, ptderrors.NewPipelineError(ptderrors.ErrorTypeNoEvents, "no visit short names with study weeks found").
			WithStage(stage).WithContext(fmt.Sprintf("%d schedule tables", len(tables)))
	}

	extension, hasExtension := g.ExtensionWeek(root)
	if hasExtension {
		g.logger.Info("found extension start", zap.Int("week", extension))
	} else {
		g.logger.Warn("could not determine extension start week",
			zap.String("section", g.rules.ExtensionDetection.SearchSection))
	}

	w := g.rules.VisitWindows
	out := make([]Event, 0, len(pairs))
	for i, p := range pairs {
		ev := Event{
			VisitName: p.name,
			Week:      p.week,
			HasWeek:   p.hasWeek,
			Group:     g.Group(p.name, p.week, p.hasWeek, extension, hasExtension),
		}
		if p.hasWeek {
			ev.OffsetDays = p.week * 7
			ev.EarlyDays = ev.OffsetDays + w.EarlyWindow
			ev.LateDays = ev.OffsetDays + w.LateWindow
		}
		if i == 0 {
			ev.OffsetType = w.OffsetTypes.FirstVisit
		} else {
			ev.OffsetType = w.OffsetTypes.OtherVisits
		}
		out = append(out, ev)
	}
	g.logger.Info("grouped events", zap.Int("events", len(out)))
	return out, nil
}
