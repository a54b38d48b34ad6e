package bosslist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
)

// FileCache stores one JSON file per game under Dir.
type FileCache struct {
	Dir string
	Now func() time.Time
}

type cacheFile struct {
	Game     string    `json:"game"`
	Bosses   []string  `json:"bosses"`
	CachedAt time.Time `json:"cached_at"`
}

// NewFileCache creates dir if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{Dir: dir}, nil
}

func (c *FileCache) path(game string) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, strings.ToLower(game))
	return filepath.Join(c.Dir, safe+".json")
}

// Load returns the cached list for game. Unreadable files count as absent.
func (c *FileCache) Load(game string) ([]string, bool) {
	b, err := os.ReadFile(c.path(game))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("game", game).Msg("bosslist: cache unreadable")
		}
		return nil, false
	}
	var f cacheFile
	if err := json.Unmarshal(b, &f); err != nil {
		log.Warn().Err(err).Str("game", game).Msg("bosslist: cache corrupt")
		return nil, false
	}
	return f.Bosses, true
}

// Save writes the list for game atomically.
func (c *FileCache) Save(game string, bosses []string) error {
	now := time.Now().UTC()
	if c.Now != nil {
		now = c.Now().UTC()
	}
	b, err := json.MarshalIndent(cacheFile{Game: game, Bosses: bosses, CachedAt: now}, "", "  ")
	if err != nil {
		return err
	}
	final := c.path(game)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// Clear removes the list for game, or every list when game is empty, and
// returns how many files were removed.
func (c *FileCache) Clear(game string) (int, error) {
	if game != "" {
		err := os.Remove(c.path(game))
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	}
	files, err := filepath.Glob(filepath.Join(c.Dir, "*.json"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Games lists the games that have a cached list.
func (c *FileCache) Games() []string {
	files, _ := filepath.Glob(filepath.Join(c.Dir, "*.json"))
	out := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var cf cacheFile
		if json.Unmarshal(b, &cf) != nil {
			continue
		}
		if cf.Game == "" {
			cf.Game = strings.TrimSuffix(filepath.Base(f), ".json")
		}
		out = append(out, cf.Game)
	}
	return out
}
