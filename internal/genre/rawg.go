package genre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/boss-title-updater/internal/retry"
)

const (
	defaultRAWGBase = "https://api.rawg.io/api"
	rawgTimeout     = 10 * time.Second
	// DefaultRAWGCacheTTL is how long search and detail responses are reused.
	DefaultRAWGCacheTTL = 30 * 24 * time.Hour
)

// ErrNoAPIKey is returned by every RAWG call when no key is configured.
var ErrNoAPIKey = errors.New("rawg: no API key configured")

var (
	soulslikeTags        = []string{"souls-like", "soulslike", "dark souls", "difficult", "challenging", "action rpg", "third person", "dark fantasy"}
	soulslikeDescription = []string{"dark souls", "souls-like", "soulslike", "challenging combat", "punishing"}
)

// Named is a RAWG tag or genre.
type Named struct {
	Name string `json:"name"`
}

// Game is the subset of a RAWG search result that classification reads.
type Game struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Released   string  `json:"released"`
	Rating     float64 `json:"rating"`
	Metacritic int     `json:"metacritic"`
	Tags       []Named `json:"tags"`
	Genres     []Named `json:"genres"`
}

// GameDetails adds the plain-text description.
type GameDetails struct {
	Game
	DescriptionRaw string `json:"description_raw"`
}

type cached struct {
	value any
	at    time.Time
}

// RAWG is a small client for the RAWG games database with an in-memory
// response cache.
type RAWG struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
	TTL     time.Duration
	Retry   retry.Config
	Now     func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// NewRAWG returns a client. With an empty key every lookup reports
// ErrNoAPIKey and the classifier answers false.
func NewRAWG(apiKey string, ttl time.Duration) *RAWG {
	if ttl <= 0 {
		ttl = DefaultRAWGCacheTTL
	}
	if apiKey == "" {
		log.Warn().Msg("rawg: no API key, souls-like detection uses the static list only")
	}
	return &RAWG{
		APIKey:  apiKey,
		BaseURL: defaultRAWGBase,
		HTTP:    &http.Client{Timeout: rawgTimeout},
		TTL:     ttl,
		Retry:   retry.Config{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
		cache:   map[string]cached{},
	}
}

func (r *RAWG) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *RAWG) cacheGet(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if r.now().Sub(e.at) >= r.TTL {
		delete(r.cache, key)
		return nil, false
	}
	return e.value, true
}

func (r *RAWG) cacheSet(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = map[string]cached{}
	}
	r.cache[key] = cached{value: v, at: r.now()}
}

// ClearCache drops every cached response and returns how many there were.
func (r *RAWG) ClearCache() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.cache)
	r.cache = map[string]cached{}
	return n
}

// Search returns the best match for name, or nil when RAWG has none.
func (r *RAWG) Search(ctx context.Context, name string) (*Game, error) {
	key := "game:" + fold(name)
	if v, ok := r.cacheGet(key); ok {
		return v.(*Game), nil
	}
	var body struct {
		Results []Game `json:"results"`
	}
	if err := r.get(ctx, "games", url.Values{"search": {name}, "page_size": {"1"}}, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	g := body.Results[0]
	r.cacheSet(key, &g)
	return &g, nil
}

// Details fetches the full record for a game id.
func (r *RAWG) Details(ctx context.Context, id int) (*GameDetails, error) {
	key := "game_details:" + strconv.Itoa(id)
	if v, ok := r.cacheGet(key); ok {
		return v.(*GameDetails), nil
	}
	var d GameDetails
	if err := r.get(ctx, "games/"+strconv.Itoa(id), nil, &d); err != nil {
		return nil, err
	}
	r.cacheSet(key, &d)
	return &d, nil
}

func (r *RAWG) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if r.APIKey == "" {
		return ErrNoAPIKey
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", r.APIKey)
	u := strings.TrimRight(r.BaseURL, "/") + "/" + endpoint + "?" + q.Encode()

	hc := r.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	return retry.Do(ctx, r.Retry, retry.IsRetryable, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		res, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			err := fmt.Errorf("rawg %s: %s", endpoint, res.Status)
			if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("rawg %s: decode: %w", endpoint, err))
		}
		return nil
	})
}

// IsMeleeVariant classifies game from its RAWG tags, and for action RPGs
// from description keywords. Lookup failures answer false.
func (r *RAWG) IsMeleeVariant(ctx context.Context, game string) bool {
	g, err := r.Search(ctx, game)
	if err != nil {
		if !errors.Is(err, ErrNoAPIKey) {
			log.Warn().Err(err).Str("game", game).Msg("rawg: search failed")
		}
		return false
	}
	if g == nil {
		log.Debug().Str("game", game).Msg("rawg: game not found")
		return false
	}

	for _, t := range g.Tags {
		name := fold(t.Name)
		for _, want := range soulslikeTags {
			if strings.Contains(name, want) {
				log.Info().Str("game", game).Str("tag", t.Name).Msg("rawg: souls-like by tag")
				return true
			}
		}
	}

	if !isActionRPG(g.Genres) {
		return false
	}
	d, err := r.Details(ctx, g.ID)
	if err != nil {
		log.Warn().Err(err).Str("game", game).Msg("rawg: details failed")
		return false
	}
	desc := fold(d.DescriptionRaw)
	for _, kw := range soulslikeDescription {
		if strings.Contains(desc, kw) {
			log.Info().Str("game", game).Str("keyword", kw).Msg("rawg: souls-like by description")
			return true
		}
	}
	return false
}

func isActionRPG(genres []Named) bool {
	var action, rpg bool
	for _, g := range genres {
		n := fold(g.Name)
		action = action || strings.Contains(n, "action")
		rpg = rpg || strings.Contains(n, "rpg")
	}
	return action && rpg
}
