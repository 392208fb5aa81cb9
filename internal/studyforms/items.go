// Package studyforms builds the "Study Specific Forms" sheet: one row per
// eCRF item, with its item group, data type, codelist and system query
// settings, derived from the tables under each form of an eCRF hierarchy.
package studyforms

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/rules"
)

const unknownSection = "Unknown Section"

var (
	tablePrefix = regexp.MustCompile(`^Table`)
	rowPrefix   = regexp.MustCompile(`^TR`)
	asterisks   = map[string]bool{"*": true, "**": true, "***": true}
)

// Form is a form heading found in the hierarchy, with the node whose
// subtree holds its items.
type Form struct {
	Label string
	Name  string
	Node  *hierarchy.Node
}

// Item is one question of a form. Option is the cell holding its answer
// options, or nil for the placeholder item of an empty form.
type Item struct {
	Group  string
	Name   string
	Option *hierarchy.Node
}

// Extractor applies compiled rules to eCRF hierarchies.
type Extractor struct {
	rules       Rules
	instruction *regexp.Regexp
	metadata    []*regexp.Regexp
	company     []*regexp.Regexp
	dateTime    *regexp.Regexp
	logger      *zap.Logger
}

// NewExtractor compiles r. Zero-valued fields fall back to DefaultRules.
// A nil logger disables logging.
func NewExtractor(r Rules, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRules()
	if r.DateTimePattern == "" {
		r.DateTimePattern = def.DateTimePattern
	}
	if r.ControlType == "" {
		r.ControlType = def.ControlType
	}
	if r.DefaultRepeatMax <= 0 {
		r.DefaultRepeatMax = def.DefaultRepeatMax
	}
	e := &Extractor{rules: r, logger: logger}

	if len(r.InstructionKeywords) > 0 {
		quoted := make([]string, len(r.InstructionKeywords))
		for i, k := range r.InstructionKeywords {
			quoted[i] = regexp.QuoteMeta(k)
		}
		e.instruction = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	var err error
	if e.metadata, err = rules.CompileAll(r.MetadataKeywords, true, false); err != nil {
		return nil, fmt.Errorf("metadata keywords: %w", err)
	}
	if e.company, err = rules.CompileAll(r.CompanyPatterns, true, false); err != nil {
		return nil, fmt.Errorf("company patterns: %w", err)
	}
	if e.dateTime, err = rules.Compile(r.DateTimePattern, true, false); err != nil {
		return nil, fmt.Errorf("date time pattern: %w", err)
	}
	return e, nil
}

type formKey struct{ label, name string }

// Forms returns every form under the H1 sections of root in document order.
// A form is labelled by the nearest enclosing H2 heading, or by its H1.
func (e *Extractor) Forms(root *hierarchy.Node) []Form {
	seen := make(map[formKey]bool)
	var forms []Form

	for _, h1 := range root.FindByPrefix("H1") {
		h1Text := h1.FirstText()
		if !IsFormLabel(h1Text) {
			h1Text = unknownSection
		}

		var walk func(node *hierarchy.Node, label string)
		walk = func(node *hierarchy.Node, label string) {
			text := node.FirstText()
			isName := IsFormName(text)
			if strings.HasPrefix(node.Name, "H2") && IsFormLabel(text) && !isName {
				label = text
			}
			if isName {
				form := Form{Label: label, Name: text, Node: node}
				if form.Label == "" {
					form.Label = h1Text
				}
				key := formKey{form.Label, form.Name}
				if !seen[key] {
					seen[key] = true
					forms = append(forms, form)
				}
			}
			for _, child := range node.Children {
				walk(child, label)
			}
		}
		walk(h1, "")
	}
	return forms
}

type itemKey struct{ name, group string }

// Items returns the questions found in the tables under a form node.
// Metadata tables are skipped. A single-cell row that reads as a label opens
// a new item group, which carries over into following tables.
func (e *Extractor) Items(form *hierarchy.Node) []Item {
	seen := make(map[itemKey]bool)
	var items []Item
	add := func(it Item) {
		key := itemKey{it.Name, it.Group}
		if seen[key] {
			return
		}
		seen[key] = true
		items = append(items, it)
	}

	group := ""
	for _, table := range form.FindByPattern(tablePrefix) {
		if e.IsMetadataTable(table) {
			continue
		}
		for _, row := range table.FindByPattern(rowPrefix) {
			cells := rowCells(row)
			switch len(cells) {
			case 1:
				text := cells[0].FirstText()
				if IsFormLabel(text) && !e.IsInstruction(text) {
					group = text
				}
				continue
			case 3:
				name, ok := questionText(cells[1])
				if !ok || e.IsInstruction(name) || !IsOptionContent(cells[2]) {
					continue
				}
				add(Item{Group: group, Name: name, Option: cells[2]})
				continue
			}

			for i := 1; i < len(cells); i++ {
				if !HasOptions(cells[i]) {
					continue
				}
				name, ok := itemName(cells[i-1])
				if !ok || e.IsInstruction(name) {
					continue
				}
				add(Item{Group: group, Name: name, Option: cells[i]})
			}
		}
	}
	return items
}

func rowCells(row *hierarchy.Node) []*hierarchy.Node {
	var cells []*hierarchy.Node
	for _, child := range row.Children {
		if strings.HasPrefix(child.Name, "TH") || strings.HasPrefix(child.Name, "TD") {
			cells = append(cells, child)
		}
	}
	return cells
}

// questionText joins the paragraphs of a question cell. Cells made only of
// ParagraphSpan fragments are continuation lines, not questions.
func questionText(cell *hierarchy.Node) (string, bool) {
	paragraphs := cell.FindByPrefix("P")
	var text string
	if len(paragraphs) == 0 {
		text = cell.FirstText()
	} else {
		spansOnly := true
		var lines []string
		for _, p := range paragraphs {
			if !strings.HasPrefix(p.Name, "ParagraphSpan") {
				spansOnly = false
			}
			if t := p.FirstText(); t != "" {
				lines = append(lines, t)
			}
		}
		if spansOnly {
			return "", false
		}
		text = strings.Join(lines, "\n")
	}
	text = strings.TrimSpace(text)
	if text == "" || asterisks[text] {
		return "", false
	}
	return text, true
}

// itemName reads the question preceding an option cell. A subscript that is
// not an annotation such as "[AETERM]" takes precedence over paragraphs.
func itemName(cell *hierarchy.Node) (string, bool) {
	if subs := cell.FindByPrefix("Sub"); len(subs) > 0 {
		if t := subs[0].FirstText(); t != "" && !strings.HasPrefix(t, "[") {
			return t, true
		}
	}
	return questionText(cell)
}
