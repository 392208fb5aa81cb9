// Package rules loads per-stage rule files that override built-in defaults.
package rules

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Stage rule file names, without extension.
const (
	FormExtractor      = "form_extractor"
	SoAParser          = "soa_parser"
	CommonMatrix       = "common_matrix"
	EventGrouping      = "event_grouping"
	ScheduleLayout     = "schedule_layout"
	StudySpecificForms = "study_specific_forms"
)

// Extensions lists the rule file extensions in lookup order.
var Extensions = []string{".yaml", ".yml", ".json", ".toml"}

// Find returns the first rule file for stage in dir, or "" when none exists.
func Find(dir, stage string) string {
	if dir == "" {
		return ""
	}
	for _, ext := range Extensions {
		candidate := filepath.Join(dir, stage+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Decode decodes data over target, choosing the decoder from the file extension.
// JSON documents go through the YAML decoder. Targets implementing Decoder
// decode themselves.
func Decode(path string, data []byte, target interface{}) error {
	if d, ok := target.(Decoder); ok {
		return d.DecodeRules(path, data)
	}
	return DecodeValue(path, data, target)
}

// DecodeValue is Decode without the Decoder check, for use by Decoder
// implementations.
func DecodeValue(path string, data []byte, target interface{}) error {
	if filepath.Ext(path) == ".toml" {
		return toml.NewDecoder(bytes.NewReader(data)).Decode(target)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, target)
}

// Load decodes the stage's rule file from dir over target, a pointer to a
// struct that already holds the defaults. A missing file keeps the defaults
// silently; an unreadable or invalid file is logged and the defaults are kept.
func Load(dir, stage string, target interface{}, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := Find(dir, stage)
	if path == "" {
		return false
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is built from the configured rules directory
	if err != nil {
		logger.Warn("could not read rule file, using defaults",
			zap.String("stage", stage), zap.String("path", path), zap.Error(err))
		return false
	}

	// decode into a copy so that a half-decoded file cannot leak into the defaults
	scratch := reflect.New(reflect.TypeOf(target).Elem())
	scratch.Elem().Set(reflect.ValueOf(target).Elem())
	if err := Decode(path, data, scratch.Interface()); err != nil {
		logger.Warn("invalid rule file, using defaults",
			zap.String("stage", stage), zap.String("path", path), zap.Error(err))
		return false
	}
	reflect.ValueOf(target).Elem().Set(scratch.Elem())

	logger.Debug("loaded rule file", zap.String("stage", stage), zap.String("path", path))
	return true
}

// CompileAll compiles patterns, optionally case-insensitive. With anchor set
// a pattern only matches at the start of the text.
func CompileAll(patterns []string, ignoreCase, anchor bool) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := Compile(p, ignoreCase, anchor)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Compile compiles a single pattern with the same options as CompileAll.
func Compile(pattern string, ignoreCase, anchor bool) (*regexp.Regexp, error) {
	expr := pattern
	if anchor {
		expr = "^(?:" + expr + ")"
	}
	if ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// MustCompileAll is CompileAll for built-in patterns.
func MustCompileAll(patterns []string, ignoreCase, anchor bool) []*regexp.Regexp {
	compiled, err := CompileAll(patterns, ignoreCase, anchor)
	if err != nil {
		panic(err)
	}
	return compiled
}

// AnyMatch reports whether any of res matches s.
func AnyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
