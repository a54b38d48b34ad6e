package search

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	citationRE   = regexp.MustCompile(`\[[^\]]*\]`)
	parentheseRE = regexp.MustCompile(`\s*\([^)]*\)`)
)

// CleanName turns a scraped list item or table cell into a bare name:
// citation markers and parenthetical notes are dropped, whitespace is
// collapsed, and surrounding quotes and punctuation are trimmed. It returns
// "" for text that is too short or too long to be a name.
func CleanName(raw string) string {
	s := citationRE.ReplaceAllString(raw, "")
	s = parentheseRE.ReplaceAllString(s, "")
	if i := strings.IndexAny(s, "\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(normalizeWhitespace(s))
	s = strings.Trim(s, `"'“”‘’*:;,.-–— `)
	s = strings.TrimSpace(s)

	n := utf8.RuneCountInString(s)
	if n < 2 || n > 80 {
		return ""
	}
	return s
}

// DedupeNames cleans names and removes case-insensitive duplicates, keeping
// the first spelling and the input order.
func DedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		n := CleanName(raw)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
