package ptd

import (
	"go.uber.org/zap"

	"github.com/a3tai/ptd-generator/internal/events"
	"github.com/a3tai/ptd-generator/internal/forms"
	"github.com/a3tai/ptd-generator/internal/layout"
	"github.com/a3tai/ptd-generator/internal/matrix"
	"github.com/a3tai/ptd-generator/internal/rules"
	"github.com/a3tai/ptd-generator/internal/soa"
	"github.com/a3tai/ptd-generator/internal/studyforms"
)

// Rule file stems, looked up in the rules directory.
const (
	StageForms      = "form_extractor"
	StageSchedule   = "soa_parser"
	StageMatrix     = "common_matrix"
	StageEvents     = "event_grouping"
	StageLayout     = "schedule_layout"
	StageStudyForms = "study_specific_forms"
)

// RuleSet carries the rules of every stage.
type RuleSet struct {
	Forms      forms.Rules
	Schedule   soa.Rules
	Matrix     matrix.Rules
	Events     events.Rules
	Layout     layout.Rules
	StudyForms studyforms.Rules
}

// DefaultRuleSet returns the built-in rules of every stage.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Forms:      forms.DefaultRules(),
		Schedule:   soa.DefaultRules(),
		Matrix:     matrix.DefaultRules(),
		Events:     events.DefaultRules(),
		Layout:     layout.DefaultRules(),
		StudyForms: studyforms.DefaultRules(),
	}
}

// LoadRuleSet decodes the rule files found in dir over the defaults. An
// empty dir yields the defaults.
func LoadRuleSet(dir string, logger *zap.Logger) RuleSet {
	rs := DefaultRuleSet()
	if dir == "" {
		return rs
	}
	rules.Load(dir, StageForms, &rs.Forms, logger)
	rules.Load(dir, StageSchedule, &rs.Schedule, logger)
	rules.Load(dir, StageMatrix, &rs.Matrix, logger)
	rules.Load(dir, StageEvents, &rs.Events, logger)
	rules.Load(dir, StageLayout, &rs.Layout, logger)
	rules.Load(dir, StageStudyForms, &rs.StudyForms, logger)
	return rs
}
