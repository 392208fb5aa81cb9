// Package textutil holds the small string helpers shared by the pipeline stages.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var spaceRun = regexp.MustCompile(`\s+`)

// Len counts characters rather than bytes.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Prefix returns at most n leading characters of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// CollapseSpace trims s and folds every whitespace run into one space.
func CollapseSpace(s string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// IsUpper reports whether s has at least one cased letter and no lower-case
// letters.
func IsUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

// FindAll returns every match of re in s. When re has capture groups the
// first group is returned instead of the whole match.
func FindAll(re *regexp.Regexp, s string) []string {
	if re.NumSubexp() == 0 {
		return re.FindAllString(s, -1)
	}
	matches := re.FindAllStringSubmatch(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TitleCase upper-cases the first letter of every word and lower-cases the rest.
func TitleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) && !prevLetter:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}
