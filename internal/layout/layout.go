// Package layout renders the schedule grid: the visit header, the visit
// dynamics and window blocks, and the form by visit table.
package layout

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/events"
	"github.com/a3tai/ptd-generator/internal/matrix"
	"github.com/a3tai/ptd-generator/internal/sheet"
)

// SheetName is the worksheet the grid is written to.
const SheetName = "Schedule Grid"

// Rules configures the grid.
type Rules struct {
	EventNameMapping EventNameMapping `yaml:"event_name_mapping" toml:"event_name_mapping"`
	LeftColumns      []string         `yaml:"left_columns" toml:"left_columns"`
	ExtraHeaders     []string         `yaml:"extra_headers" toml:"extra_headers"`
}

// EventNameMapping overrides the short event names. Patterns substitute
// {number} with the visit number.
type EventNameMapping struct {
	Screening    string `yaml:"screening" toml:"screening"`
	Random       string `yaml:"random" toml:"random"`
	RTSM         string `yaml:"rtsm" toml:"rtsm"`
	VisitPattern string `yaml:"visit_pattern" toml:"visit_pattern"`
	PhonePattern string `yaml:"phone_pattern" toml:"phone_pattern"`
}

// DefaultRules returns the built-in layout.
func DefaultRules() Rules {
	return Rules{
		EventNameMapping: EventNameMapping{
			Screening:    "SCRN",
			Random:       "RAND",
			RTSM:         "RTSM",
			VisitPattern: "V{number}",
			PhonePattern: "P{number}",
		},
		LeftColumns: []string{"Form Label", "Form Name", "Source"},
		ExtraHeaders: []string{
			"Common Forms", "N/A", "Is Form Dynamic?", "Form Dynamic Criteria",
			"Additional Programming Instructions",
		},
	}
}

// Section titles and attribute rows.
const (
	DynamicsTitle = "Visit Dynamic Properties"
	WindowTitle   = "Event Window Configuration"
)

var (
	dynamicRows = []string{
		"Visit Dynamics (If Y, then Event should appear based on triggering criteria)",
		"Triggering: Event",
		"Triggering: Form",
		"Triggering: Item = Response (if specific response expected, else leave to accept any entered result)",
	}
	windowRows = []string{
		"Assign Visit Window",
		"Offset Type (Previous Event, Specific Event, or None)",
		"Offset Days (Planned Visit Date, as calculated from Offset Event)",
		"Day Range - Early",
		"Day Range - Late",
	}
)

var (
	headerStyle = sheet.Style{Bold: true, Center: true, Wrap: true, Fill: "D9E1F2", Border: true}
	boldCenter  = sheet.Style{Bold: true, Center: true, Wrap: true, Border: true}
	greyStyle   = sheet.Style{Bold: true, Wrap: true, Fill: "E7E6E6", Border: true}
	centerStyle = sheet.Style{Center: true, Wrap: true, Border: true}
	leftStyle   = sheet.Style{Wrap: true, Border: true}
)

var visitNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bV\s*?(\d+)\b`),
	regexp.MustCompile(`\bVisit\s*?(\d+)\b`),
	regexp.MustCompile(`\bP(\d+)\b`),
}

// EventName derives the short event name of the idx-th visit.
func (r Rules) EventName(group, label string, idx int) string {
	g := strings.ToLower(strings.TrimSpace(group))
	m := r.EventNameMapping
	switch {
	case strings.Contains(g, "screen"):
		return m.Screening
	case strings.Contains(g, "random"):
		return m.Random
	case strings.Contains(g, "rtsm"):
		return m.RTSM
	}

	label = strings.TrimSpace(label)
	for _, re := range visitNumberPatterns {
		sub := re.FindStringSubmatch(label)
		if sub == nil {
			continue
		}
		if strings.Contains(sub[0], "P") {
			return strings.ReplaceAll(m.PhonePattern, "{number}", sub[1])
		}
		return strings.ReplaceAll(m.VisitPattern, "{number}", sub[1])
	}
	return "V" + strconv.Itoa(idx+1)
}

// EventLabel expands a short event name for the label row.
func (r Rules) EventLabel(name, visitLabel string) string {
	switch {
	case name == "SCRN":
		return "Screening"
	case name == "RAND":
		return "Randomisation"
	case strings.Contains(name, "V"):
		return "Visit " + name[1:]
	case strings.Contains(name, "P"):
		return "Phone Visit " + name[1:]
	}
	return visitLabel
}

// grid carries the column positions while the sheet is filled.
type grid struct {
	rules       Rules
	s           *sheet.Sheet
	events      []events.Event
	names       []string
	randIdx     int
	rtsmCol     int
	visitCol    int
	extraCol    int
	formsRow    int
	sectionRows []string
}

// Build lays the grid out from the events and the form matrix.
func Build(evs []events.Event, m *matrix.Matrix, r Rules, logger *zap.Logger) *sheet.Sheet {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &grid{rules: r, s: sheet.New(SheetName), events: evs}
	for i, ev := range evs {
		g.names = append(g.names, r.EventName(ev.Group, ev.VisitName, i))
	}
	for i, ev := range evs {
		if strings.Contains(strings.ToLower(ev.Group), "random") {
			g.randIdx = i
			break
		}
	}
	g.rtsmCol = len(r.LeftColumns) + 2
	g.visitCol = g.rtsmCol + 1
	g.extraCol = g.visitCol + len(evs)

	g.header()
	row := g.sections(4)
	g.forms(row, m)
	g.widths()
	g.s.Freeze(g.formsRow, g.rtsmCol)

	logger.Info("built schedule grid",
		zap.Int("events", len(evs)), zap.Int("forms", len(m.Rows)), zap.Int("rows", len(g.s.Rows)))
	return g.s
}

func (g *grid) header() {
	s := g.s
	for i, label := range g.rules.LeftColumns {
		s.Set(1, i+1, nil, headerStyle)
		s.Set(2, i+1, label, headerStyle)
		s.Set(3, i+1, nil, headerStyle)
	}
	eventCol := g.rtsmCol - 1
	s.Set(1, eventCol, "Event Group:", headerStyle)
	s.Set(2, eventCol, "Event Label:", headerStyle)
	s.Set(3, eventCol, "Event Name:", headerStyle)
	for row := 1; row <= 3; row++ {
		s.Set(row, g.rtsmCol, "RTSM", headerStyle)
	}

	for j, ev := range g.events {
		s.Set(2, g.visitCol+j, g.rules.EventLabel(g.names[j], ev.VisitName), boldCenter)
		s.Set(3, g.visitCol+j, g.names[j], boldCenter)
	}

	// consecutive visits of one group share a merged group cell
	start := 0
	for j := 1; j <= len(g.events); j++ {
		if j < len(g.events) && g.events[j].Group == g.events[start].Group {
			continue
		}
		s.Set(1, g.visitCol+start, g.events[start].Group, headerStyle)
		for c := start + 1; c < j; c++ {
			s.Set(1, g.visitCol+c, nil, headerStyle)
		}
		s.Merge(1, g.visitCol+start, 1, g.visitCol+j-1)
		start = j
	}

	for i, h := range g.rules.ExtraHeaders {
		s.Set(1, g.extraCol+i, "", headerStyle)
		s.Set(2, g.extraCol+i, h, boldCenter)
		s.Set(3, g.extraCol+i, "", headerStyle)
	}
}

func (g *grid) sections(row int) int {
	left := max(len(g.rules.LeftColumns), 1)
	for _, sec := range []struct {
		title string
		attrs []string
	}{{DynamicsTitle, dynamicRows}, {WindowTitle, windowRows}} {
		g.mergeLeft(row, left, sec.title)
		g.sectionRows = append(g.sectionRows, sec.title)
		row++
		for _, attr := range sec.attrs {
			g.mergeLeft(row, left, attr)
			for j := range g.events {
				g.s.Set(row, g.visitCol+j, g.attribute(attr, j), centerStyle)
			}
			g.s.Set(row, g.rtsmCol, "", centerStyle)
			row++
		}
	}
	return row
}

func (g *grid) mergeLeft(row, left int, text string) {
	g.s.Set(row, 1, text, greyStyle)
	for c := 2; c <= left; c++ {
		g.s.Set(row, c, nil, greyStyle)
	}
	g.s.Merge(row, 1, row, left)
}

// attribute computes the value of a block attribute for the j-th visit.
func (g *grid) attribute(attr string, j int) interface{} {
	name := g.names[j]
	ev := g.events[j]
	switch {
	case strings.HasPrefix(attr, "Visit Dynamics"):
		group := strings.ToLower(ev.Group)
		if j >= g.randIdx && !strings.Contains(group, "end of treatment") && !strings.Contains(group, "end of study") {
			return "Y"
		}
	case strings.HasPrefix(attr, "Triggering: Event"):
		switch {
		case name == "RAND":
			return "SCRN"
		case strings.HasPrefix(name, "V") && j > 0:
			return g.names[j-1]
		case strings.ToLower(name) == "follow-up":
			return "EOT"
		}
	case strings.HasPrefix(attr, "Triggering: Form"):
		switch {
		case name == "RAND":
			return "ELIGIBILITY_CRITERIA"
		case j > g.randIdx && strings.Contains(ev.VisitName, "V"):
			return "RANDOMISATION"
		}
	case strings.HasPrefix(attr, "Assign Visit Window"):
		return "Y"
	case strings.HasPrefix(attr, "Offset Type"):
		return ev.Value("Offset Type")
	case strings.HasPrefix(attr, "Offset Days"):
		return blankNil(ev.Value("Offset Days"))
	case strings.HasPrefix(attr, "Day Range - Early"):
		return blankNil(ev.Value("Day Range - Early"))
	case strings.HasPrefix(attr, "Day Range - Late"):
		return blankNil(ev.Value("Day Range - Late"))
	}
	return ""
}

func blankNil(v interface{}) interface{} {
	if v == nil {
		return ""
	}
	return v
}

func (g *grid) forms(row int, m *matrix.Matrix) {
	s := g.s
	g.formsRow = row
	s.Set(row, 1, "RTSM", leftStyle)
	s.Set(row, 2, "RTSM", leftStyle)
	s.Set(row, 3, "Library", leftStyle)
	s.Set(row, g.rtsmCol, "X", centerStyle)
	for i := range g.rules.ExtraHeaders {
		s.Set(row, g.extraCol+i, "", centerStyle)
	}
	row++

	for _, r := range m.Rows {
		s.Set(row, 1, r.FormLabel, leftStyle)
		s.Set(row, 2, r.FormName, leftStyle)
		s.Set(row, 3, r.Source, leftStyle)
		s.Set(row, g.rtsmCol, "", centerStyle)
		for j, ev := range g.events {
			s.Set(row, g.visitCol+j, formValue(m, r, ev.VisitName, g.names[j]), centerStyle)
		}
		for i, h := range g.rules.ExtraHeaders {
			var v interface{} = ""
			switch h {
			case "Is Form Dynamic?":
				v = r.IsDynamic
			case "Form Dynamic Criteria":
				v = r.DynamicCriteria
			}
			s.Set(row, g.extraCol+i, v, centerStyle)
		}
		row++
	}
}

// formValue looks a form's number up by visit label, falling back to the
// event name.
func formValue(m *matrix.Matrix, r matrix.Row, label, name string) interface{} {
	column := ""
	switch {
	case slices.Contains(m.Visits, label):
		column = label
	case slices.Contains(m.Visits, name):
		column = name
	default:
		return ""
	}
	if n, ok := r.Numbers[column]; ok {
		return n
	}
	return ""
}

func (g *grid) widths() {
	g.s.AutoWidth(10, 80, 3)
	// section titles are merged over every left column
	for c := 2; c <= len(g.rules.LeftColumns); c++ {
		for _, title := range g.sectionRows {
			w := min(80, float64(len([]rune(title))+3))
			g.s.Widths[c] = max(g.s.Widths[c], w)
		}
	}
}
