package studyforms

// Rules configures the study-specific forms extraction.
type Rules struct {
	// InstructionKeywords mark a text as an instruction rather than an item.
	InstructionKeywords []string `yaml:"instruction_keywords" toml:"instruction_keywords"`
	// MetadataKeywords identify document header tables; three hits skip a table.
	MetadataKeywords []string `yaml:"metadata_keywords" toml:"metadata_keywords"`
	// CompanyPatterns skip a table on two metadata hits.
	CompanyPatterns  []string `yaml:"company_patterns" toml:"company_patterns"`
	DateTimePattern  string   `yaml:"date_time_pattern" toml:"date_time_pattern"`
	ControlType      string   `yaml:"codelist_control_type" toml:"codelist_control_type"`
	DefaultRepeatMax int      `yaml:"default_repeat_maximum" toml:"default_repeat_maximum"`
}

// DefaultRules returns the built-in rules.
func DefaultRules() Rules {
	return Rules{
		InstructionKeywords: []string{
			"please", "note", "ensure", "click", "enter", "complete", "select",
			"indicate", "check", "provide", "collect", "integration", "Study ID",
		},
		MetadataKeywords: []string{
			`Novo\s+Nordisk`,
			`Trial\s+ID\s*:`,
			`Sample\s+eCRF`,
			`Mock-up`,
			`requirement`,
			`Version\s*:\s*\d+\.\d+`,
			`Page\s*:\s*\d+\s+of\s+\d+`,
		},
		CompanyPatterns: []string{
			`Novo\s+Nordisk\s+A/S`,
			`Clinical\s+Trial`,
			`Protocol`,
		},
		DateTimePattern:  `Req.*?\(\d{4}[-–—/]{1,2}\d{4}\)`,
		ControlType:      "Radio Button-Vertical",
		DefaultRepeatMax: 50,
	}
}
