package services

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTitlePattern matches the title a PS5 capture gets on upload:
// "<Game>_YYYYMMDDHHMMSS".
const DefaultTitlePattern = `^.+_\d{14}$`

var captureSuffixRE = regexp.MustCompile(`_\d{14}$`)

// TitleParser recognizes default capture titles and extracts the game name.
type TitleParser struct {
	re *regexp.Regexp
}

// NewTitleParser compiles pattern (DefaultTitlePattern when empty).
func NewTitleParser(pattern string) (*TitleParser, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultTitlePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("title pattern: %w", err)
	}
	return &TitleParser{re: re}, nil
}

// Matches reports whether title is a default capture title.
func (p *TitleParser) Matches(title string) bool {
	return p.re.MatchString(strings.TrimSpace(title))
}

// GameName returns the game encoded in a default capture title, e.g.
// "Bloodborne" for "Bloodborne_20250321184741".
func (p *TitleParser) GameName(title string) (string, error) {
	title = strings.TrimSpace(title)
	if !p.re.MatchString(title) {
		return "", ErrNotDefaultTitle
	}
	game := strings.TrimSpace(captureSuffixRE.ReplaceAllString(title, ""))
	if game == "" {
		return "", ErrNotDefaultTitle
	}
	return game, nil
}

// FormatTitle builds the new video title. Melee variants (souls-likes) get a
// "Melee" tag before the platform suffix.
func FormatTitle(game, boss string, meleeVariant bool) string {
	game, boss = strings.TrimSpace(game), strings.TrimSpace(boss)
	if meleeVariant {
		return fmt.Sprintf("%s: %s Melee PS5", game, boss)
	}
	return fmt.Sprintf("%s: %s PS5", game, boss)
}

// Rough per-video identification prices in USD.
const (
	thumbnailCostUSD = 0.002
	framesCostUSD    = 0.010
	framesShare      = 0.5
)

// CostEstimate is the pre-run spending estimate.
type CostEstimate struct {
	Videos    int
	Thumbnail float64
	Frames    float64
	Total     float64
	PerVideo  float64
}

// EstimateCost assumes every video costs one thumbnail call and half of them
// also need a frames call.
func EstimateCost(videos int) CostEstimate {
	if videos <= 0 {
		return CostEstimate{}
	}
	thumb := float64(videos) * thumbnailCostUSD
	frames := float64(videos) * framesShare * framesCostUSD
	total := thumb + frames
	return CostEstimate{
		Videos:    videos,
		Thumbnail: thumb,
		Frames:    frames,
		Total:     total,
		PerVideo:  total / float64(videos),
	}
}
