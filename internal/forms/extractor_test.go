package forms

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/hierarchy"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultRules(), zap.NewNop())
	require.NoError(t, err)
	return e
}

func node(name, text string, children ...*hierarchy.Node) *hierarchy.Node {
	if children == nil {
		children = []*hierarchy.Node{}
	}
	return &hierarchy.Node{Name: name, Text: text, Path: "//Document/" + name, Children: children}
}

func TestIsFormName(t *testing.T) {
	e := newTestExtractor(t)
	tests := []struct {
		text string
		want bool
	}{
		{"Adverse Events [AE_FORM]", true},
		{"Vital signs [vs_form]", false},
		{"[123]", false},
		{"Concomitant Medication - Repeating", true},
		{"Repeating", false},
		{"CRF Date - Non-Repeating form", false},
		{"Plain paragraph text", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.IsFormName(tt.text), tt.text)
	}
}

func TestIsValidLabel(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Vital Signs", true},
		{"V2", false},
		{"Design Notes:", false},
		{"Non-Visit Related", false},
		{"Data from RTSM", false},
		{"12 Adverse events", false},
		{"Repeating form", false},
		{"ab", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidLabel(tt.text), tt.text)
	}
}

func TestSource(t *testing.T) {
	e := newTestExtractor(t)
	tests := []struct {
		name    string
		form    string
		context string
		want    string
	}{
		{"standard domain", "[VS]", "", SourceLibrary},
		{"numbered standard domain", "[AE_2]", "", SourceLibrary},
		{"long identifier", "[VERYLONGSTUDYSPECIFICNAME]", "", SourceNew},
		{"reference indicator", "[XYZ]", "taken from ref. study 1234", SourceRefStudy},
		{"new indicator", "[VS]", "this is a new form", SourceNew},
		{"repeating title", "Concomitant Medication - Repeating", "", SourceLibrary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Source(tt.form, tt.form, tt.context, ""))
		})
	}
}

func TestTriggerText(t *testing.T) {
	e := newTestExtractor(t)
	assert.Equal(t, "", e.TriggerText("only if yes"))
	assert.Equal(t, "Form appears only if the subject is female",
		e.TriggerText("Form appears   only if the\nsubject is female"))

	long := "This form is triggered when " + string(bytes.Repeat([]byte("word "), 80))
	got := e.TriggerText(long)
	assert.Len(t, []rune(got), maxTriggerLength)
	assert.Contains(t, got, "...")
}

func TestSortVisits(t *testing.T) {
	got := SortVisits(map[string]bool{"V10": true, "V2": true, "V2A": true, "EOT": true, "V1": true})
	assert.Equal(t, []string{"V1", "V2", "V2A", "V10", "EOT"}, got)
}

func TestRequiredForms(t *testing.T) {
	root := &hierarchy.Node{Name: hierarchy.RootName, Children: []*hierarchy.Node{
		{Name: "P", Text: "Adverse events [AE]", Path: "//Document/Sect[4]/P"},
		{Name: "P", Text: "Key : [*] = Item is required", Path: "//Document/Sect[4]/P[2]"},
		{Name: "P", Text: "Far away [FAR]", Path: "//Document/Sect[40]/P"},
	}}
	mapping := RequiredForms(root)
	require.Contains(t, mapping, "Adverse events [AE]")
	assert.NotContains(t, mapping, "Far away [FAR]")
}

func TestExtract(t *testing.T) {
	e := newTestExtractor(t)

	root := node(hierarchy.RootName, "",
		node("H1", "Safety",
			node("H2", "Adverse Events",
				node("P", "Adverse Events [AE]"),
				node("P", "Collected at V2 and V1"),
				node("P", "Key : [*] = Item is required"),
			),
			node("H2[2]", "Vital Signs",
				node("P", "[VS]",
					node("Span", "This form is only shown if the subject attends V3"),
				),
			),
			node("H2[3]", "Enrolment",
				node("P", "[ENR]"),
			),
		),
	)

	got := e.Extract(root)
	require.Len(t, got, 3)

	ae := got[0]
	assert.Equal(t, "Adverse Events", ae.Label)
	assert.Equal(t, "Adverse Events [AE]", ae.Name)
	assert.Equal(t, SourceLibrary, ae.Source)
	// [AE] has no visits of its own so it inherits the section's.
	assert.Equal(t, "V1, V2, V3", ae.Visits)
	assert.True(t, ae.Required)

	vs := got[1]
	assert.Equal(t, "Vital Signs", vs.Label)
	assert.Equal(t, "V3", vs.Visits)
	assert.True(t, vs.DynamicTrigger)
	assert.Equal(t, "This form is only shown if the subject attends V3", vs.TriggerDetails)

	enr := got[2]
	assert.False(t, enr.DynamicTrigger)
	assert.Empty(t, enr.TriggerDetails)
}

func TestExtractIgnoresForms(t *testing.T) {
	r := DefaultRules()
	r.IgnorePatterns = []string{`\[TEST`}
	e, err := NewExtractor(r, nil)
	require.NoError(t, err)

	root := node(hierarchy.RootName, "",
		node("H1", "Section A", node("P", "[TEST_FORM]", node("P", "[NESTED]"))),
	)
	assert.Empty(t, e.Extract(root))
}

func TestCSVRoundTrip(t *testing.T) {
	in := []Form{{
		Label: "Adverse Events", Name: "[AE]", Source: SourceLibrary, Visits: "V1, V2",
		DynamicTrigger: true, TriggerDetails: "only if yes, then", Required: true,
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, in))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(utf8BOM)))

	out, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
