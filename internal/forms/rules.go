package forms

// Rules configures form extraction. Zero-length lists disable the
// corresponding check.
type Rules struct {
	VisitPatterns        []string             `yaml:"visit_patterns" toml:"visit_patterns"`
	TriggerPatterns      []string             `yaml:"trigger_patterns" toml:"trigger_patterns"`
	IgnorePatterns       []string             `yaml:"ignore_patterns" toml:"ignore_patterns"`
	FormNamePatterns     FormNamePatterns     `yaml:"form_name_patterns" toml:"form_name_patterns"`
	SourceClassification SourceClassification `yaml:"source_classification" toml:"source_classification"`
}

// FormNamePatterns recognise form identifiers.
type FormNamePatterns struct {
	ValidBrackets  string `yaml:"valid_brackets" toml:"valid_brackets"`
	ValidRepeating string `yaml:"valid_repeating" toml:"valid_repeating"`
	// InvalidPatterns reject "(Non-)Repeating" texts; matched from the start.
	InvalidPatterns []string `yaml:"invalid_patterns" toml:"invalid_patterns"`
}

// SourceClassification holds indicator patterns searched in lower-cased
// form and context text. The first list with a hit decides the source.
type SourceClassification struct {
	ReferenceStudyIndicators []string `yaml:"reference_study_indicators" toml:"reference_study_indicators"`
	NewIndicators            []string `yaml:"new_indicators" toml:"new_indicators"`
	LibraryIndicators        []string `yaml:"library_indicators" toml:"library_indicators"`
}

// DefaultRules returns the built-in form extraction rules.
func DefaultRules() Rules {
	return Rules{
		VisitPatterns: []string{`\bV\d+[A-Z]*(?:-\d+)?\b`},
		TriggerPatterns: []string{
			`\bif\b.{0,80}\b(?:yes|no|answered|checked|ticked|selected)\b`,
			`\bonly (?:if|when|for)\b`,
			`\b(?:will|should) (?:be )?(?:appear|display|shown|triggered|activated)`,
			`\bdynamic(?:ally)?\b`,
			`\btrigger(?:ed|s)?\b`,
		},
		IgnorePatterns: []string{},
		FormNamePatterns: FormNamePatterns{
			ValidBrackets:  `\[([A-Z0-9_\-]{3,})\]`,
			ValidRepeating: `.*\b(Non-)?[Rr]epeating\b.*`,
			InvalidPatterns: []string{
				`(CRF|Form)\s+(Date|Time|Coordinator|Designer|Notes?).*`,
				`\w{1,4}\s+(Date|Time|Coordinator|Designer)\b.*`,
				`\s*(Date|Time|Coordinator|Designer)\s*-\s*(Non-)?[Rr]epeating.*`,
			},
		},
		SourceClassification: SourceClassification{
			ReferenceStudyIndicators: []string{
				`\bref\.\s*study\b`,
			},
			NewIndicators: []string{
				`\bnew\s+form\b`,
			},
			LibraryIndicators: []string{
				`\blibrary\s+form\b`,
				`\bstandard\s+form\b`,
			},
		},
	}
}
