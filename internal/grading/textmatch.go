package grading

import (
	"strings"
	"unicode"
)

// keywordHits counts how many required keywords appear as case-insensitive
// substrings of the response. Blank keywords are ignored.
func keywordHits(response string, keywords []string) (found, required int) {
	low := strings.ToLower(response)
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		required++
		if strings.Contains(low, strings.ToLower(k)) {
			found++
		}
	}
	return found, required
}

// citationMatch normalizes both strings by stripping all whitespace and
// lowercasing, then accepts containment in either direction, so
// "ASC 606-10" matches "asc606-10" and a response with surrounding prose
// still hits.
func citationMatch(response, target string) bool {
	a := squash(response)
	b := squash(target)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func squash(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}
