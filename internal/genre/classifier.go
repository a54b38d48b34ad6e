// Package genre decides whether a game is a souls-like, which switches the
// generated title to its "Melee" variant.
package genre

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
)

// Classifier reports whether game gets the melee title variant.
type Classifier interface {
	IsMeleeVariant(ctx context.Context, game string) bool
}

// DefaultSoulslikeGames is the static fallback table. Entries match as
// substrings of the case-folded game name.
var DefaultSoulslikeGames = []string{
	"bloodborne",
	"dark souls",
	"demon's souls",
	"demons souls",
	"elden ring",
	"sekiro",
	"lords of the fallen",
	"lies of p",
	"nioh",
	"mortal shell",
	"salt and sanctuary",
	"hollow knight",
	"the surge",
	"remnant",
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// StaticList matches game names against a fixed table.
type StaticList struct {
	games []string
}

// NewStaticList folds games once. An empty list means DefaultSoulslikeGames.
func NewStaticList(games []string) *StaticList {
	if len(games) == 0 {
		games = DefaultSoulslikeGames
	}
	folded := make([]string, 0, len(games))
	for _, g := range games {
		if g = fold(g); g != "" {
			folded = append(folded, g)
		}
	}
	return &StaticList{games: folded}
}

func (s *StaticList) IsMeleeVariant(_ context.Context, game string) bool {
	g := fold(game)
	if g == "" {
		return false
	}
	for _, known := range s.games {
		if strings.Contains(g, known) {
			return true
		}
	}
	return false
}

// Composite consults the static table first and the metadata source only
// for games the table does not know. Source errors count as "not a
// souls-like". Answers are memoized per game for the life of the value.
type Composite struct {
	Fallback *StaticList
	Source   Classifier

	mu   sync.Mutex
	memo map[string]bool
}

// NewComposite builds the classifier used by the pipeline. source may be nil.
func NewComposite(fallback *StaticList, source Classifier) *Composite {
	if fallback == nil {
		fallback = NewStaticList(nil)
	}
	return &Composite{Fallback: fallback, Source: source, memo: map[string]bool{}}
}

func (c *Composite) IsMeleeVariant(ctx context.Context, game string) bool {
	key := fold(game)
	c.mu.Lock()
	if v, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := c.Fallback.IsMeleeVariant(ctx, game)
	if v {
		log.Debug().Str("game", game).Msg("genre: matched static souls-like list")
	} else if c.Source != nil {
		v = c.Source.IsMeleeVariant(ctx, game)
	}
	if ctx.Err() != nil {
		return v
	}

	c.mu.Lock()
	c.memo[key] = v
	c.mu.Unlock()
	return v
}
