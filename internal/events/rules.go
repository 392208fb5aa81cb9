package events

import (
	"sort"

	"github.com/a3tai/ptd-generator/internal/rules"
)

// Rules configures visit grouping.
type Rules struct {
	TableDetection     TableDetection        `yaml:"table_detection" toml:"table_detection"`
	VisitNormalization VisitNormalization    `yaml:"visit_normalization" toml:"visit_normalization"`
	ExtensionDetection ExtensionDetection    `yaml:"extension_detection" toml:"extension_detection"`
	EventGroups        map[string]EventGroup `yaml:"event_groups" toml:"event_groups"`
	// GroupOrder is the order event groups are tried in. Keys missing from
	// it follow in sorted order.
	GroupOrder []string `yaml:"-" toml:"-"`
	VisitWindows       VisitWindows          `yaml:"visit_windows" toml:"visit_windows"`
	// OutputColumns selects and orders the written columns; unknown names
	// are dropped.
	OutputColumns []string `yaml:"output_columns" toml:"output_columns"`
}

// TableDetection locates the schedule table and its visit and week rows.
type TableDetection struct {
	// SoAKeywords mark a schedule table when found in a row's first cell.
	SoAKeywords            []string `yaml:"soa_keywords" toml:"soa_keywords"`
	VisitShortNameKeywords []string `yaml:"visit_short_name_keywords" toml:"visit_short_name_keywords"`
	StudyWeekKeywords      []string `yaml:"study_week_keywords" toml:"study_week_keywords"`
}

// VisitNormalization reduces raw visit labels to their base names.
type VisitNormalization struct {
	Pattern          string   `yaml:"pattern" toml:"pattern"`
	KeepSuffixLength int      `yaml:"keep_suffix_length" toml:"keep_suffix_length"`
	SpecialCases     []string `yaml:"special_cases" toml:"special_cases"`
}

// ExtensionDetection finds the week the extension period starts.
type ExtensionDetection struct {
	SearchSection   string `yaml:"search_section" toml:"search_section"`
	Pattern         string `yaml:"pattern" toml:"pattern"`
	CaseInsensitive bool   `yaml:"case_insensitive" toml:"case_insensitive"`
}

// EventGroup pins visits to a named group.
type EventGroup struct {
	VisitNames []string `yaml:"visit_names" toml:"visit_names"`
	GroupName  string   `yaml:"group_name" toml:"group_name"`
}

// VisitWindows controls offsets and the allowed day range around them.
type VisitWindows struct {
	EarlyWindow int         `yaml:"early_window" toml:"early_window"`
	LateWindow  int         `yaml:"late_window" toml:"late_window"`
	OffsetTypes OffsetTypes `yaml:"offset_types" toml:"offset_types"`
}

// OffsetTypes are the offset type labels of the first and later visits.
type OffsetTypes struct {
	FirstVisit  string `yaml:"first_visit" toml:"first_visit"`
	OtherVisits string `yaml:"other_visits" toml:"other_visits"`
}

// DefaultRules returns the built-in grouping rules.
func DefaultRules() Rules {
	return Rules{
		TableDetection: TableDetection{
			SoAKeywords:            []string{"Procedure"},
			VisitShortNameKeywords: []string{"visit short name"},
			StudyWeekKeywords:      []string{"study week"},
		},
		VisitNormalization: VisitNormalization{
			Pattern:          `^([VP]\d+)(?:\s([a-zA-Z]+))?$`,
			KeepSuffixLength: 1,
			SpecialCases:     []string{"EOT", "EOS", "FU"},
		},
		ExtensionDetection: ExtensionDetection{
			SearchSection:   "Study rationale",
			Pattern:         `(\d+)\s*weeks on treatment`,
			CaseInsensitive: true,
		},
		EventGroups: map[string]EventGroup{
			"screening":     {VisitNames: []string{"V1"}, GroupName: "Screening"},
			"randomisation": {VisitNames: []string{"V2"}, GroupName: "Randomisation"},
		},
		GroupOrder: []string{"screening", "randomisation"},
		VisitWindows: VisitWindows{
			EarlyWindow: -3,
			LateWindow:  3,
			OffsetTypes: OffsetTypes{FirstVisit: "Specific: V1 a", OtherVisits: "Previous"},
		},
	}
}

type plainRules Rules

// DecodeRules decodes a rule file over r. A file that defines event_groups
// replaces the built-in groups and sets their order to the file's.
func (r *Rules) DecodeRules(path string, data []byte) error {
	order, defined, err := rules.TableKeys(path, data, "event_groups")
	if err != nil {
		return err
	}
	if defined {
		r.EventGroups = nil
	}
	if err := rules.DecodeValue(path, data, (*plainRules)(r)); err != nil {
		return err
	}
	if defined {
		r.GroupOrder = order
	}
	return nil
}

// groupKeys lists the event group keys in matching order.
func (r Rules) groupKeys() []string {
	keys := make([]string, 0, len(r.EventGroups))
	seen := make(map[string]bool, len(r.EventGroups))
	for _, k := range r.GroupOrder {
		if _, ok := r.EventGroups[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range r.EventGroups {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
