// Package search provides a small, deterministic, concurrency-safe in-memory
// name index used to snap free-form model answers onto a known list of boss
// names.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for stop words and the acceptance threshold
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and ordering (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// name's token set: score = |Q ∩ N| / |Q ∪ N|. An exact case-insensitive
// match always scores 1.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result is a ranked name with its similarity score.
type Result struct {
	Name  string
	Score float64
}

// Index is the minimal interface implemented by name indices.
type Index interface {
	TopK(query string, k int) []Result
	Best(query string) (string, bool)
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	threshold float64
}

// DefaultThreshold is the minimum score Best accepts.
const DefaultThreshold = 0.5

func defaultConfig() config {
	return config{
		stopwords: map[string]struct{}{"the": {}, "of": {}, "a": {}, "an": {}, "boss": {}},
		threshold: DefaultThreshold,
	}
}

// WithStopwords replaces the default stop words.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = m
	}
}

// WithThreshold sets the minimum score Best accepts; values outside (0,1]
// are ignored.
func WithThreshold(t float64) Option {
	return func(c *config) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type entry struct {
	name   string
	folded string
	tokens map[string]struct{}
}

type index struct {
	cfg     config
	entries []entry
}

// NewIndex builds an Index from names. Blank and duplicate (case-insensitive)
// names are dropped; the first spelling wins.
func NewIndex(names []string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	seen := make(map[string]struct{}, len(names))
	entries := make([]entry, 0, len(names))
	for _, raw := range names {
		n := strings.TrimSpace(normalizeWhitespace(raw))
		if n == "" {
			continue
		}
		folded := strings.ToLower(n)
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		toks := tokenize(n, cfg.stopwords)
		if len(toks) == 0 {
			toks = tokenize(n, nil)
		}
		entries = append(entries, entry{name: n, folded: folded, tokens: toks})
	}
	return &index{cfg: cfg, entries: entries}
}

// TopK returns up to k best-matching names.
func (i *index) TopK(q string, k int) []Result {
	q = strings.TrimSpace(normalizeWhitespace(q))
	if len(i.entries) == 0 || q == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qFolded := strings.ToLower(q)
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		qTokens = tokenize(q, nil)
	}

	type scored struct {
		name     string
		score    float64
		lenRunes int
	}
	buf := make([]scored, 0, min(k*4, len(i.entries)))
	for _, e := range i.entries {
		var score float64
		if e.folded == qFolded {
			score = 1
		} else {
			over := overlap(qTokens, e.tokens)
			if over == 0 {
				continue
			}
			union := float64(len(qTokens) + len(e.tokens) - over)
			if union <= 0 {
				continue
			}
			score = float64(over) / union
		}
		buf = append(buf, scored{name: e.name, score: score, lenRunes: utf8.RuneCountInString(e.name)})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].name < buf[b].name
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = Result{Name: buf[j].name, Score: buf[j].score}
	}
	return out
}

// Best returns the top match when its score reaches the configured threshold.
func (i *index) Best(q string) (string, bool) {
	res := i.TopK(q, 1)
	if len(res) == 0 || res[0].Score < i.cfg.threshold {
		return "", false
	}
	return res[0].Name, true
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == ' ' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
