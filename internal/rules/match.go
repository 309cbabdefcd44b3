package rules

import (
	"sort"
	"strings"
)

// Match finds the pattern in sub that matches qname and returns its entry.
// Matching is label-wise with the rightmost label first, so "mail.acme.test"
// is compared as [test acme mail]. A "*" pattern label matches any single
// query label.
//
// Patterns are visited most-specific first: fewer wildcard labels win, then
// longer patterns, then lexicographic order as a stable tiebreak. The
// universal sentinel carries ten wildcards and therefore always loses to
// any specific pattern.
//
// A pattern shorter than the query matches on its compared prefix, so
// "acme.test" also matches "www.acme.test". A pattern longer than the query
// matches only when its surplus labels are all wildcards, which is what
// lets the sentinel cover single-label names.
func Match(qname string, sub map[string]Entry) (Entry, bool) {
	if len(sub) == 0 {
		return Entry{}, false
	}

	qlabels := reverseLabels(qname)

	patterns := make([]string, 0, len(sub))
	for pattern := range sub {
		patterns = append(patterns, pattern)
	}
	sort.Slice(patterns, func(i, j int) bool {
		wi, wj := wildcardCount(patterns[i]), wildcardCount(patterns[j])
		if wi != wj {
			return wi < wj
		}
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})

	for _, pattern := range patterns {
		if labelsMatch(qlabels, reverseLabels(pattern)) {
			return sub[pattern], true
		}
	}
	return Entry{}, false
}

func labelsMatch(qlabels, plabels []string) bool {
	for i, plabel := range plabels {
		if i >= len(qlabels) {
			// Surplus pattern labels must all be wildcards.
			if plabel != "*" {
				return false
			}
			continue
		}
		if plabel != "*" && plabel != qlabels[i] {
			return false
		}
	}
	return true
}

func reverseLabels(name string) []string {
	labels := strings.Split(name, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}

func wildcardCount(pattern string) int {
	n := 0
	for _, label := range strings.Split(pattern, ".") {
		if label == "*" {
			n++
		}
	}
	return n
}
