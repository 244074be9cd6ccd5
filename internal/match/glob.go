// Package match implements the Matching Engine (spec §4.3): glob pattern
// evaluation and the five-inclusion/four-exclusion conjunction that
// selects which containers an Intent applies to.
//
// The teacher's closest analogue, internal/engine/scheduler.go's
// MatchesFilter, delegates to path.Match and is case-sensitive. Spec §8
// requires case-insensitive, anchored matching ("globMatch(\"abc*\",
// \"ABCD\") == true"), so this package cannot reuse that call; it keeps
// the teacher's "loop over patterns, first match wins" shape but
// implements the comparison with a compiled, case-insensitive, anchored
// regular expression instead.
package match

import (
	"regexp"
	"strings"
	"sync"
)

var (
	compileCacheMu sync.Mutex
	compileCache   = map[string]*regexp.Regexp{}
)

// globToRegexp converts a glob pattern using '*' (any run) and '?' (one
// char) into an anchored, case-insensitive regular expression, escaping
// every other regex metacharacter literally.
func globToRegexp(pattern string) *regexp.Regexp {
	compileCacheMu.Lock()
	defer compileCacheMu.Unlock()
	if re, ok := compileCache[pattern]; ok {
		return re
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	compileCache[pattern] = re
	return re
}

// GlobMatch reports whether value matches pattern under the rules in
// spec §4.3/§8: '*' matches any run, '?' matches one character, the match
// is case-insensitive and anchored at both ends.
func GlobMatch(pattern, value string) bool {
	return globToRegexp(pattern).MatchString(value)
}

// MatchesAny reports whether value matches at least one pattern in
// patterns. A nil value never matches any pattern.
func MatchesAny(patterns []string, value *string) bool {
	if value == nil {
		return false
	}
	for _, p := range patterns {
		if GlobMatch(p, *value) {
			return true
		}
	}
	return false
}

// Include implements an inclusion test: passes iff patterns is empty OR
// value matches some pattern.
func Include(patterns []string, value *string) bool {
	if len(patterns) == 0 {
		return true
	}
	return MatchesAny(patterns, value)
}

// Exclude implements an exclusion test: passes iff patterns is empty OR
// value matches no pattern.
func Exclude(patterns []string, value *string) bool {
	if len(patterns) == 0 {
		return true
	}
	return !MatchesAny(patterns, value)
}
