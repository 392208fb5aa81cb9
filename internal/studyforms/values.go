package studyforms

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/textutil"
)

// Data types.
const (
	TypeText     = "Text"
	TypeLabel    = "Label"
	TypeDateTime = "Date/Time"
	TypeCodelist = "Codelist"
)

const bullet = "• "

// placeholder glyphs drawn for empty checkboxes and radio buttons
var glyphs = map[string]bool{"": true, "\uf0fe": true, "□": true, "¡": true}

var (
	fieldLength      = regexp.MustCompile(`\|N(\d+)\|`)
	fieldLengthLoose = regexp.MustCompile(`\|.*N(\d+).*\|`)
	precision        = regexp.MustCompile(`\|N\d+\.(\d+)\|`)
	precisionLoose   = regexp.MustCompile(`\|.*N\d+\.(\d+).*\|`)
	decimals         = regexp.MustCompile(`\d+\.(\d+)`)
	fullRange        = regexp.MustCompile(`\|(\d+(?:\.\d+)?)\s*[<≤]\s*N\d+(?:\.\d+)?\s*[<≤]\s*(\d+(?:\.\d+)?)\|`)
	minOnly          = regexp.MustCompile(`\|(\d+(?:\.\d+)?)\s*[<≤]\s*N\d+(?:\.\d+)?\|`)
	maxOnly          = regexp.MustCompile(`\|N\d+(?:\.\d+)?\s*[<≤]\s*(\d+(?:\.\d+)?)\|`)
)

// uniqueTexts collects the distinct texts of nodes, skipping bare glyphs.
// With clean set, leading glyphs are stripped as well.
func uniqueTexts(nodes []*hierarchy.Node, clean bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range nodes {
		t := n.FirstText()
		if glyphs[t] {
			continue
		}
		if clean {
			t = strings.TrimSpace(strings.TrimLeft(strings.TrimLeft(t, "¡ "), "□ "))
		}
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Choices returns the codelist choice labels of an option cell, one per
// line. List bodies win over subscripts, which win over paragraphs.
func Choices(cell *hierarchy.Node) string {
	if cell == nil {
		return ""
	}
	if bodies := cell.FindByPrefix("LBody"); len(bodies) > 0 {
		seen := make(map[string]bool)
		var lines []string
		for _, b := range bodies {
			t := b.FirstText()
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			lines = append(lines, bullet+t)
		}
		return strings.Join(lines, "\n")
	}
	if subs := uniqueTexts(cell.FindByPrefix("Sub"), true); len(subs) > 0 {
		return joinChoices(subs)
	}
	return joinChoices(uniqueTexts(cell.FindByPrefix("P"), false))
}

func joinChoices(values []string) string {
	lines := make([]string, len(values))
	for i, v := range values {
		lines[i] = bullet + v
	}
	return strings.Join(lines, "\n")
}

// DataType classifies an option cell whose flattened content is content.
func (e *Extractor) DataType(cell *hierarchy.Node, content string) string {
	if cell == nil {
		return TypeText
	}
	if e.dateTime.MatchString(content) {
		return TypeDateTime
	}
	for _, body := range cell.FindByPrefix("LBody") {
		if len(body.FindByPrefix("ExtraCharSpan")) > 0 {
			return TypeCodelist
		}
	}
	if len(cell.FindByPrefix("ExtraCharSpan")) > 0 {
		return TypeCodelist
	}
	if strings.Contains(content, "|") && strings.Count(content, "•") <= 1 {
		return TypeLabel
	}
	return TypeText
}

// FieldLength returns the declared "|Nn|" length, or the longest option
// line when none is declared.
func FieldLength(content string) string {
	if m := fieldLength.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if m := fieldLengthLoose.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	longest := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "• "))
		if line == "" || strings.HasPrefix(line, "|") {
			continue
		}
		longest = max(longest, textutil.Len(line))
	}
	if longest == 0 {
		return ""
	}
	return strconv.Itoa(longest)
}

// Precision returns the number of decimal places of a numeric label.
func Precision(content string) string {
	if m := precision.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if m := precisionLoose.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	places := 0
	for _, m := range decimals.FindAllStringSubmatch(content, -1) {
		places = max(places, len(m[1]))
	}
	return strconv.Itoa(places)
}

// Range returns "min - max" from a "|a<Nn<b|" annotation. Either bound may
// be missing.
func Range(content string) string {
	if m := fullRange.FindStringSubmatch(content); m != nil {
		return m[1] + " - " + m[2]
	}
	if m := minOnly.FindStringSubmatch(content); m != nil {
		return m[1] + " - "
	}
	if m := maxOnly.FindStringSubmatch(content); m != nil {
		return " - " + m[1]
	}
	return ""
}
