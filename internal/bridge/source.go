package bridge

import "strings"

// Source pattern wildcards.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	sourceSeparator = "."
)

// MatchSource reports whether source matches pattern. Patterns use dot
// separated segments: "window.*" matches every window, "**" matches
// everything.
func MatchSource(source, pattern string) bool {
	if pattern == source || pattern == WildcardMulti {
		return true
	}
	return matchSegments(split(source), split(pattern))
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sourceSeparator)
}

func matchSegments(source, pattern []string) bool {
	si, pi := 0, 0

	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			for si <= len(source) {
				if matchSegments(source[si:], pattern[pi+1:]) {
					return true
				}
				si++
			}
			return false
		}

		if si >= len(source) {
			return false
		}

		if pattern[pi] != WildcardSingle && pattern[pi] != source[si] {
			return false
		}
		si++
		pi++
	}

	return si == len(source)
}
