package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/a3tai/ptd-generator/internal/events"
	"github.com/a3tai/ptd-generator/internal/matrix"
	"github.com/a3tai/ptd-generator/internal/sheet"
)

func TestEventName(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		group string
		label string
		idx   int
		want  string
	}{
		{"Screening", "V1", 0, "SCRN"},
		{"Randomisation", "V2", 1, "RAND"},
		{"RTSM", "V9", 1, "RTSM"},
		{"Main Study", "V3", 2, "V3"},
		{"Main Study", "Visit 12", 2, "V12"},
		{"Main Study", "P4", 3, "P4"},
		{"Main Study", "EOT", 7, "V8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.EventName(tt.group, tt.label, tt.idx), tt.label)
	}

	r.EventNameMapping.VisitPattern = "Visit-{number}"
	assert.Equal(t, "Visit-3", r.EventName("Main Study", "V3", 0))
}

func TestEventLabel(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, "Screening", r.EventLabel("SCRN", "V1"))
	assert.Equal(t, "Randomisation", r.EventLabel("RAND", "V2"))
	assert.Equal(t, "Visit 3", r.EventLabel("V3", "V3"))
	assert.Equal(t, "Phone Visit 4", r.EventLabel("P4", "P4"))
	assert.Equal(t, "EOT", r.EventLabel("RTSM", "EOT"))
}

func fixture() ([]events.Event, *matrix.Matrix) {
	evs := []events.Event{
		{Group: "Screening", VisitName: "V1", Week: -2, HasWeek: true, OffsetDays: -14, EarlyDays: -17, LateDays: -11, OffsetType: "Specific: V1 a"},
		{Group: "Randomisation", VisitName: "V2", HasWeek: true, EarlyDays: -3, LateDays: 3, OffsetType: "Previous"},
		{Group: "Main Study", VisitName: "V3", Week: 4, HasWeek: true, OffsetDays: 28, EarlyDays: 25, LateDays: 31, OffsetType: "Previous"},
		{Group: "Main Study", VisitName: "P4", OffsetType: "Previous"},
		{Group: "Extension", VisitName: "V5", Week: 30, HasWeek: true, OffsetDays: 210, EarlyDays: 207, LateDays: 213, OffsetType: "Previous"},
	}
	m := &matrix.Matrix{
		Visits: []string{"V1", "V2", "V3", "P4", "V5"},
		Rows: []matrix.Row{
			{FormLabel: "Vital Signs", FormName: "[VS]", Source: "Library", IsDynamic: "No", Numbers: map[string]int{"V1": 1, "V3": 2}},
			{FormLabel: "ECG", FormName: "[ECG]", Source: "New", IsDynamic: "Yes", DynamicCriteria: "if abnormal", Numbers: map[string]int{"V3": 1}},
		},
	}
	return evs, m
}

func value(s *sheet.Sheet, ref string) interface{} {
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		panic(err)
	}
	return s.Get(row, col).Value
}

func TestBuildHeader(t *testing.T) {
	evs, m := fixture()
	s := Build(evs, m, DefaultRules(), nil)
	assert.Equal(t, SheetName, s.Name)

	assert.Equal(t, "Form Label", value(s, "A2"))
	assert.Equal(t, "Event Group:", value(s, "D1"))
	assert.Equal(t, "Event Name:", value(s, "D3"))
	assert.Equal(t, "RTSM", value(s, "E2"))

	assert.Equal(t, "Screening", value(s, "F1"))
	assert.Equal(t, "Main Study", value(s, "H1"))
	assert.Equal(t, "Extension", value(s, "J1"))
	assert.Contains(t, s.Merges, sheet.Range{Row: 1, Col: 8, EndRow: 1, EndCol: 9})

	assert.Equal(t, "Randomisation", value(s, "G2"))
	assert.Equal(t, "Phone Visit 4", value(s, "I2"))
	assert.Equal(t, "RAND", value(s, "G3"))
	assert.Equal(t, "Common Forms", value(s, "K2"))
	assert.Equal(t, "Additional Programming Instructions", value(s, "O2"))
}

func TestBuildBlocks(t *testing.T) {
	evs, m := fixture()
	s := Build(evs, m, DefaultRules(), nil)

	assert.Equal(t, DynamicsTitle, value(s, "A4"))
	assert.Contains(t, s.Merges, sheet.Range{Row: 4, Col: 1, EndRow: 4, EndCol: 3})

	// visit dynamics start at randomisation
	assert.Equal(t, "", value(s, "F5"))
	assert.Equal(t, "Y", value(s, "G5"))
	assert.Equal(t, "Y", value(s, "J5"))

	// triggering event
	assert.Equal(t, "", value(s, "F6"))
	assert.Equal(t, "SCRN", value(s, "G6"))
	assert.Equal(t, "RAND", value(s, "H6"))
	assert.Equal(t, "", value(s, "I6"))
	assert.Equal(t, "P4", value(s, "J6"))

	// triggering form
	assert.Equal(t, "ELIGIBILITY_CRITERIA", value(s, "G7"))
	assert.Equal(t, "RANDOMISATION", value(s, "H7"))
	assert.Equal(t, "", value(s, "I7"))

	assert.Equal(t, WindowTitle, value(s, "A9"))
	assert.Equal(t, "Y", value(s, "F10"))
	assert.Equal(t, "Specific: V1 a", value(s, "F11"))
	assert.Equal(t, -14, value(s, "F12"))
	assert.Equal(t, "", value(s, "I12"), "unknown weeks leave the offset blank")
	assert.Equal(t, 213, value(s, "J14"))
}

func TestBuildForms(t *testing.T) {
	evs, m := fixture()
	s := Build(evs, m, DefaultRules(), nil)

	assert.Equal(t, "RTSM", value(s, "A15"))
	assert.Equal(t, "Library", value(s, "C15"))
	assert.Equal(t, "X", value(s, "E15"))

	assert.Equal(t, "Vital Signs", value(s, "A16"))
	assert.Equal(t, 1, value(s, "F16"))
	assert.Equal(t, "", value(s, "G16"))
	assert.Equal(t, 2, value(s, "H16"))
	assert.Equal(t, "No", value(s, "M16"))

	assert.Equal(t, "[ECG]", value(s, "B17"))
	assert.Equal(t, "Yes", value(s, "M17"))
	assert.Equal(t, "if abnormal", value(s, "N17"))

	assert.Equal(t, 15, s.FreezeRow)
	assert.Equal(t, 5, s.FreezeCol)
	require.Contains(t, s.Widths, 1)
	assert.Equal(t, 80.0, s.Widths[1])
	assert.GreaterOrEqual(t, s.Widths[2], float64(len(WindowTitle)+3))
}

func TestBuildEmpty(t *testing.T) {
	s := Build(nil, &matrix.Matrix{}, DefaultRules(), nil)
	assert.Equal(t, "RTSM", value(s, "A15"))
	assert.Equal(t, 15, s.FreezeRow)
}
