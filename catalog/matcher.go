package catalog

import "strings"

// Match reports whether eventType satisfies a subscription pattern.
// A pattern is an exact name, "*" for every type, or a dotted name where
// any segment may be "*" to match exactly one segment ("request.*").
func Match(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	ps := strings.Split(pattern, ".")
	es := strings.Split(eventType, ".")
	if len(ps) != len(es) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != es[i] {
			return false
		}
	}
	return true
}

// MatchAny reports whether any of patterns matches eventType.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}
