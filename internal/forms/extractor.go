// Package forms extracts the list of eCRF forms, with their visits, dynamic
// triggers, source and required status, from a structured eCRF hierarchy.
package forms

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/hierarchy"
	"github.com/a3tai/ptd-generator/internal/rules"
	"github.com/a3tai/ptd-generator/internal/textutil"
)

// Form sources.
const (
	SourceLibrary  = "Library"
	SourceNew      = "New"
	SourceRefStudy = "Ref. Study"
)

const (
	sectionTriggerDepth = 6
	formTriggerDepth    = 7
	maxTriggerLength    = 300
	maxContextParts     = 20
	requiredDistance    = 5
	unknownSection      = "Unknown Section"
)

// Form is one extracted eCRF form.
type Form struct {
	Label          string
	Name           string
	Source         string
	Visits         string
	DynamicTrigger bool
	TriggerDetails string
	Required       bool
}

// LabelPatterns reject texts that cannot be form labels. They are matched
// case-insensitively from the start of the text.
var LabelPatterns = []string{
	`\s*V\d+[A-Z]*\s*$`,
	`Design\s*Notes?\s*:?$`,
	`Oracle\s*item\s*design\s*notes?\s*:?$`,
	`General\s*item\s*design\s*notes?\s*:?$`,
	`\s*Non-Visit\s*Related\s*$`,
	`Data from.*`,
	`Hidden item.*`,
	`\d+\s+`,
	`\s*(Non-)?[Rr]epeating(\s+form)?\s*$`,
}

var (
	invalidLabels = rules.MustCompileAll(LabelPatterns, true, true)

	bracketChars    = regexp.MustCompile(`[\[\]()]`)
	dashSuffix      = regexp.MustCompile(`\s*–.*`)
	repeatingSuffix = regexp.MustCompile(`\s*-\s*(Non-)?[Rr]epeating.*`)
	baseName        = regexp.MustCompile(`^([A-Z][A-Z_]*?)(?:_\d+|_[A-Z]+|\d+)?(?:\s|$)`)
	identifier      = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	firstNumber     = regexp.MustCompile(`\d+`)
	sectionIndex    = regexp.MustCompile(`\[(\d+)\]`)
	requiredKey     = regexp.MustCompile(`(?i)Key\s*:\s*\[\*\]\s*=\s*Item\s+is\s+required`)
)

// standardDomains are base form names that always come from the library.
var standardDomains = map[string]bool{
	"DEMOGRAPHY": true, "DEMOGRAPHIC": true, "DEMOGRAPHICS": true, "DEMO": true,
	"INCLUSION": true, "EXCLUSION": true, "INCLUSIONEXCLUSION": true, "ELIGIBILITY": true,
	"INFORMED_CONSENT": true, "CONSENT": true, "ICF": true,
	"MEDICAL_HIST": true, "MEDICAL_HISTORY": true, "MEDHIST": true,
	"PHYSICAL_EXAM": true, "PHYSICALEXAM": true, "PE": true, "PHYSEXAM": true,
	"VITAL_SIGNS": true, "VITALSIGNS": true, "VITALS": true, "VS": true,
	"LAB": true, "LABORATORY": true, "LABS": true, "LABVALUE": true, "LABRESULT": true,
	"ECG": true, "ELECTROCARDIOGRAM": true, "EKG": true,
	"AE": true, "ADVERSE_EVENT": true, "ADVERSEEVENT": true, "SAE": true, "SERIOUS_AE": true,
	"CONMED": true, "CONCOMITANT_MEDICATION": true, "CONCOMITANTMEDICATION": true,
	"RANDOMIZATION": true, "RANDOMISATION": true, "RTSM": true, "IVRS": true, "IWRS": true,
}

// Extractor applies a compiled rule set to eCRF hierarchies.
type Extractor struct {
	visits   []*regexp.Regexp
	triggers []*regexp.Regexp
	ignore   []*regexp.Regexp
	invalid  []*regexp.Regexp
	refStudy []*regexp.Regexp
	newForm  []*regexp.Regexp
	library  []*regexp.Regexp
	formName *regexp.Regexp
	logger   *zap.Logger
}

// NewExtractor compiles r. A nil logger disables logging.
func NewExtractor(r Rules, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{logger: logger}

	var err error
	if e.visits, err = rules.CompileAll(r.VisitPatterns, true, false); err != nil {
		return nil, fmt.Errorf("visit patterns: %w", err)
	}
	if e.triggers, err = rules.CompileAll(r.TriggerPatterns, true, false); err != nil {
		return nil, fmt.Errorf("trigger patterns: %w", err)
	}
	if e.ignore, err = rules.CompileAll(r.IgnorePatterns, true, false); err != nil {
		return nil, fmt.Errorf("ignore patterns: %w", err)
	}
	if e.invalid, err = rules.CompileAll(r.FormNamePatterns.InvalidPatterns, true, true); err != nil {
		return nil, fmt.Errorf("invalid form name patterns: %w", err)
	}
	sc := r.SourceClassification
	if e.refStudy, err = rules.CompileAll(sc.ReferenceStudyIndicators, false, false); err != nil {
		return nil, fmt.Errorf("reference study indicators: %w", err)
	}
	if e.newForm, err = rules.CompileAll(sc.NewIndicators, false, false); err != nil {
		return nil, fmt.Errorf("new indicators: %w", err)
	}
	if e.library, err = rules.CompileAll(sc.LibraryIndicators, false, false); err != nil {
		return nil, fmt.Errorf("library indicators: %w", err)
	}

	brackets := r.FormNamePatterns.ValidBrackets
	if brackets == "" {
		brackets = DefaultRules().FormNamePatterns.ValidBrackets
	}
	repeating := r.FormNamePatterns.ValidRepeating
	if repeating == "" {
		repeating = DefaultRules().FormNamePatterns.ValidRepeating
	}
	if e.formName, err = rules.Compile("(?:"+brackets+"|"+repeating+")", true, false); err != nil {
		return nil, fmt.Errorf("form name patterns: %w", err)
	}
	return e, nil
}

// IsValidLabel reports whether text can be used as a form label.
func IsValidLabel(text string) bool {
	n := textutil.Len(text)
	if n < 3 || n > 100 {
		return false
	}
	return !rules.AnyMatch(invalidLabels, text)
}

// IsFormName reports whether text identifies a form: a bracketed upper-case
// identifier, or a short "(Non-)Repeating" title.
func (e *Extractor) IsFormName(text string) bool {
	if text == "" {
		return false
	}
	m := e.formName.FindStringSubmatchIndex(text)
	if m == nil {
		return false
	}
	if len(m) >= 4 && m[2] >= 0 && m[3] > m[2] {
		return textutil.IsUpper(text[m[2]:m[3]])
	}

	n := textutil.Len(text)
	if n < 10 || n > 80 {
		return false
	}
	return !rules.AnyMatch(e.invalid, text)
}

// Source classifies where a form definition comes from.
func (e *Extractor) Source(formName, formText, contextText, documentContext string) string {
	clean := strings.TrimSpace(bracketChars.ReplaceAllString(formName, ""))
	clean = dashSuffix.ReplaceAllString(clean, "")
	clean = repeatingSuffix.ReplaceAllString(clean, "")
	upper := strings.ToUpper(clean)

	base := upper
	if m := baseName.FindStringSubmatch(upper); m != nil {
		base = m[1]
	}

	all := strings.ToLower(formName + " " + formText + " " + contextText + " " + documentContext)
	switch {
	case rules.AnyMatch(e.refStudy, all):
		return SourceRefStudy
	case rules.AnyMatch(e.newForm, all):
		return SourceNew
	case rules.AnyMatch(e.library, all):
		return SourceLibrary
	case standardDomains[base]:
		return SourceLibrary
	}

	if identifier.MatchString(upper) && textutil.Len(base) > 15 {
		return SourceNew
	}
	return SourceLibrary
}

// TriggerText returns the cleaned trigger description in text, or "" when
// text does not describe a dynamic trigger.
func (e *Extractor) TriggerText(text string) string {
	if text == "" || textutil.WordCount(text) < 4 {
		return ""
	}
	if !rules.AnyMatch(e.triggers, text) {
		return ""
	}
	cleaned := textutil.CollapseSpace(text)
	if textutil.Len(cleaned) > maxTriggerLength {
		cleaned = textutil.Prefix(cleaned, maxTriggerLength-3) + "..."
	}
	return cleaned
}

func (e *Extractor) collectVisits(node *hierarchy.Node) map[string]bool {
	visits := make(map[string]bool)
	node.Walk(func(n *hierarchy.Node) bool {
		text := n.OwnText()
		for _, re := range e.visits {
			for _, v := range textutil.FindAll(re, text) {
				visits[v] = true
			}
		}
		return true
	})
	return visits
}

func (e *Extractor) collectTriggers(node *hierarchy.Node, maxDepth, depth int) []string {
	if node == nil || depth > maxDepth {
		return nil
	}
	var found []string
	if t := e.TriggerText(node.OwnText()); t != "" {
		found = append(found, t)
	}
	for _, child := range node.Children {
		found = append(found, e.collectTriggers(child, maxDepth, depth+1)...)
	}
	return found
}

// SortVisits orders visit ids by their first number, then lexically. Ids
// without a number sort last.
func SortVisits(visits map[string]bool) []string {
	out := make([]string, 0, len(visits))
	for v := range visits {
		out = append(out, v)
	}
	key := func(v string) int {
		if m := firstNumber.FindString(v); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				return n
			}
		}
		return 9999
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki != kj {
			return ki < kj
		}
		return out[i] < out[j]
	})
	return out
}

// documentContext joins the leading part of every longer text in the subtree,
// stopping once enough parts were gathered.
func documentContext(node *hierarchy.Node) string {
	var parts []string
	var collect func(n *hierarchy.Node)
	collect = func(n *hierarchy.Node) {
		if text := n.OwnText(); textutil.Len(text) > 10 {
			parts = append(parts, textutil.Prefix(text, 200))
		}
		for _, child := range n.Children {
			collect(child)
			if len(parts) > maxContextParts {
				break
			}
		}
	}
	if node != nil {
		collect(node)
	}
	return strings.Join(parts, " ")
}

func firstSectionIndex(path string) int {
	if m := sectionIndex.FindStringSubmatch(path); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// RequiredForms maps form-like texts to the "Item is required" keys found
// closest to them in the document.
func RequiredForms(root *hierarchy.Node) map[string][]string {
	type located struct {
		text    string
		section int
	}
	var formNodes, requiredNodes []located
	root.Walk(func(n *hierarchy.Node) bool {
		text := n.OwnText()
		if strings.Contains(text, "[") && strings.Contains(text, "]") && textutil.Len(text) > 5 {
			formNodes = append(formNodes, located{text, firstSectionIndex(n.Path)})
		}
		if requiredKey.MatchString(text) {
			requiredNodes = append(requiredNodes, located{text, firstSectionIndex(n.Path)})
		}
		return true
	})

	mapping := make(map[string][]string)
	for _, req := range requiredNodes {
		closest := -1
		best := 0
		for i, form := range formNodes {
			distance := req.section - form.section
			if distance < 0 {
				distance = -distance
			}
			if closest < 0 || distance < best {
				closest, best = i, distance
			}
		}
		if closest >= 0 && best <= requiredDistance {
			text := formNodes[closest].text
			mapping[text] = append(mapping[text], req.text)
		}
	}
	return mapping
}

type formKey struct {
	label, name, visits string
}

// Extract walks every H1 section of the eCRF and returns its forms in
// document order.
func (e *Extractor) Extract(root *hierarchy.Node) []Form {
	required := RequiredForms(root)
	docContext := documentContext(root)
	seen := make(map[formKey]bool)
	var results []Form

	for _, h1 := range root.FindByPrefix("H1") {
		h1Text := h1.OwnText()
		if !IsValidLabel(h1Text) {
			h1Text = unknownSection
		}

		sectionVisits := e.collectVisits(h1)
		sectionTriggers := e.collectTriggers(h1, sectionTriggerDepth, 0)
		sectionContext := documentContext(h1)

		var walk func(node *hierarchy.Node, currentLabel string)
		walk = func(node *hierarchy.Node, currentLabel string) {
			text := node.OwnText()
			isName := e.IsFormName(text)

			if strings.HasPrefix(node.Name, "H2") && IsValidLabel(text) && !isName {
				currentLabel = text
			}

			if isName {
				if rules.AnyMatch(e.ignore, text) {
					return
				}
				label := currentLabel
				if label == "" {
					label = h1Text
				}

				visits := e.collectVisits(node)
				if len(visits) == 0 {
					visits = sectionVisits
				}
				visitList := strings.Join(SortVisits(visits), ", ")

				key := formKey{label, text, visitList}
				if !seen[key] {
					seen[key] = true

					triggers := e.collectTriggers(node, formTriggerDepth, 0)
					if len(triggers) == 0 {
						triggers = sectionTriggers
					}
					if strings.Contains(text, "[ENR]") {
						triggers = nil
					}
					unique := e.uniqueTriggers(triggers)

					form := Form{
						Label:          label,
						Name:           text,
						Visits:         visitList,
						DynamicTrigger: len(unique) > 0,
						Source:         e.Source(text, text, sectionContext+" "+documentContext(node), docContext),
					}
					if form.DynamicTrigger {
						form.TriggerDetails = unique[0]
					}
					_, form.Required = required[text]
					results = append(results, form)
				}
			}

			for _, child := range node.Children {
				walk(child, currentLabel)
			}
		}
		walk(h1, "")
	}

	e.logger.Info("extracted forms", zap.Int("count", len(results)))
	return results
}

func (e *Extractor) uniqueTriggers(triggers []string) []string {
	seen := make(map[string]bool, len(triggers))
	var unique []string
	for _, t := range triggers {
		if seen[t] || e.TriggerText(t) == "" {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	return unique
}
