package studyforms

import (
	"regexp"
	"strings"

	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/rules"
	"github.com/a3tai/ptd-generator/internal/textutil"
)

var (
	// formNamePattern matches either a bracketed identifier (group 1) or a
	// "(Non-)Repeating" title.
	formNamePattern = regexp.MustCompile(`(?i)(?:\[([A-Z0-9_\-]{3,})\]|.*\b(Non-)?[Rr]epeating\b.*)`)

	invalidBracketed = rules.MustCompileAll([]string{
		`^L\d+$`,
		`^[A-Z]\d+$`,
		`^A\d+$`,
	}, false, false)

	repeatingExclusions = rules.MustCompileAll([]string{
		`(CRF|Form)\s+(Date|Time|Coordinator|Designer|Notes?).*`,
		`\w{1,4}\s+(Date|Time|Coordinator|Designer)\b.*`,
		`\s*(Date|Time|Coordinator|Designer)\s*-\s*(Non-)?[Rr]epeating.*`,
	}, true, true)

	invalidLabels = rules.MustCompileAll([]string{
		`\s*V\d+[A-Z]*\s*$`,
		`Design\s*Notes?\s*:?$`,
		`Oracle\s*item\s*design\s*notes?\s*:?$`,
		`General\s*item\s*design\s*notes?\s*:?$`,
		`\s*Non-Visit\s*Related\s*$`,
		`Data from.*`,
		`Hidden item.*`,
		`The item.*`,
		`\d+\s+`,
		`.*\|A\d+\|.*`,
		`\s*(Non-)?[Rr]epeating(\s+form)?\s*$`,
	}, true, true)

	punctuation   = regexp.MustCompile(`[:\-().?!;]`)
	numberedStep  = regexp.MustCompile(`^\s*\d+\.\s+\w`)
	capsOnly      = regexp.MustCompile(`^[A-Z,\s]+$`)
	shortCodeList = regexp.MustCompile(`^[A-Z]{1,2}(\s*,\s*[A-Z]{1,2})+$`)
)

// IsFormName reports whether text names a form: an upper-case bracketed
// identifier such as "[AE]" or a "(Non-)Repeating" title of 10 to 80 characters.
func IsFormName(text string) bool {
	if text == "" {
		return false
	}
	m := formNamePattern.FindStringSubmatchIndex(text)
	if m == nil {
		return false
	}
	if m[2] >= 0 {
		content := text[m[2]:m[3]]
		if !textutil.IsUpper(content) {
			return false
		}
		return !rules.AnyMatch(invalidBracketed, content)
	}
	if !strings.Contains(strings.ToLower(text), "repeating") {
		return false
	}
	if n := textutil.Len(text); n < 10 || n > 80 {
		return false
	}
	return !rules.AnyMatch(repeatingExclusions, text)
}

// IsFormLabel reports whether text can label a form or an item group.
func IsFormLabel(text string) bool {
	if n := textutil.Len(text); n < 3 || n > 100 {
		return false
	}
	return !rules.AnyMatch(invalidLabels, text)
}

// IsInstruction reports whether text reads as an instruction to the site
// rather than a question. Questions ending in "?" never are.
func (e *Extractor) IsInstruction(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasSuffix(text, "?") {
		return false
	}
	if e.instruction != nil && e.instruction.MatchString(text) {
		return true
	}

	marks := len(punctuation.FindAllString(text, -1))
	words := len(strings.Fields(text))
	switch {
	case words < 5 && marks >= 1:
		return true
	case words >= 5 && float64(marks)/float64(words) > 0.1:
		return true
	}
	return numberedStep.MatchString(text)
}

// IsOptionContent reports whether a cell holds answer options rather than
// annotation codes such as "C, CO".
func IsOptionContent(cell *hierarchy.Node) bool {
	text := cell.FirstText()
	if text == "" {
		return false
	}
	return !capsOnly.MatchString(text) && !shortCodeList.MatchString(text)
}

// IsMetadataTable reports whether a table is a document header block
// (sponsor, trial id, version, page numbers) rather than form content.
func (e *Extractor) IsMetadataTable(table *hierarchy.Node) bool {
	text := table.AllText()
	hits := 0
	for _, re := range e.metadata {
		if re.MatchString(text) {
			hits++
		}
	}
	if hits >= 3 {
		return true
	}
	return hits >= 2 && rules.AnyMatch(e.company, text)
}

func isOptionName(name string) bool {
	switch name {
	case "LI", "L", "ExtraCharSpan", "LBody":
		return true
	}
	return false
}

// hasNestedSpans reports a P whose ExtraCharSpan child has ExtraCharSpan
// children, anywhere in the subtree.
func hasNestedSpans(n *hierarchy.Node) bool {
	found := false
	n.Walk(func(node *hierarchy.Node) bool {
		if found {
			return false
		}
		if node.Name != "P" {
			return true
		}
		for _, child := range node.Children {
			if child.Name != "ExtraCharSpan" {
				continue
			}
			for _, grandchild := range child.Children {
				if grandchild.Name == "ExtraCharSpan" {
					found = true
					return false
				}
			}
		}
		return true
	})
	return found
}

// hasSubscript reports a P with a direct Sub child anywhere in the subtree.
func hasSubscript(n *hierarchy.Node) bool {
	found := false
	n.Walk(func(node *hierarchy.Node) bool {
		if found {
			return false
		}
		if node.Name == "P" {
			for _, child := range node.Children {
				if child.Name == "Sub" {
					found = true
					return false
				}
			}
		}
		return true
	})
	return found
}

// HasOptions reports whether a cell carries answer options: list or
// ExtraCharSpan nodes, spans nested in a paragraph, subscripts, or a data
// cell with option text in its paragraphs.
func HasOptions(n *hierarchy.Node) bool {
	if isOptionName(n.Name) {
		return true
	}
	for _, child := range n.Children {
		if HasOptions(child) {
			return true
		}
	}
	if hasNestedSpans(n) || hasSubscript(n) {
		return true
	}
	if !strings.HasPrefix(n.Name, "TD") || !IsOptionContent(n) {
		return false
	}
	for _, p := range n.FindByPrefix("P") {
		if p.FirstText() != "" {
			return true
		}
	}
	return false
}
