package dialogue

import (
	"strings"

	"github.com/teemow/calagent/internal/calendar"
)

// summaryMatches reports whether an event summary and a cancel query
// overlap, in either direction and ignoring case. Untitled events never
// match a query.
func summaryMatches(summary, query string) bool {
	s := strings.ToLower(summary)
	q := strings.ToLower(query)
	if s == "" || q == "" {
		return false
	}
	return strings.Contains(s, q) || strings.Contains(q, s)
}

var ordinals = []struct {
	keywords []string
	index    int
}{
	{[]string{"first", "1st"}, 0},
	{[]string{"second", "2nd"}, 1},
	{[]string{"third", "3rd"}, 2},
}

// resolveSelection maps a selection phrase to a candidate index. It tries a
// leading 1-based number, then ordinal words, then a summary substring.
// A number out of range falls through to the later checks, so "21st" reads
// as "1st". An ordinal past the end of the list does not fall through to
// the substring match.
func resolveSelection(phrase string, candidates []calendar.Event) (int, bool) {
	sel := strings.ToLower(strings.TrimSpace(phrase))
	if sel == "" {
		return 0, false
	}

	if n, ok := leadingInt(sel); ok && n >= 1 && n <= len(candidates) {
		return n - 1, true
	}

	for _, o := range ordinals {
		for _, kw := range o.keywords {
			if strings.Contains(sel, kw) {
				return o.index, o.index < len(candidates)
			}
		}
	}

	for i, e := range candidates {
		if e.Summary != "" && strings.Contains(strings.ToLower(e.Summary), sel) {
			return i, true
		}
	}
	return 0, false
}

// leadingInt parses the integer prefix of s ("2", "2nd", "3 please").
func leadingInt(s string) (int, bool) {
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	n, digits := 0, 0
	for ; digits < len(s) && s[digits] >= '0' && s[digits] <= '9'; digits++ {
		if n > 1<<20 {
			continue
		}
		n = n*10 + int(s[digits]-'0')
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}
