// Package bosslist builds the list of known bosses for a game by scraping
// Wikipedia and the game's Fandom wiki. Lists are cached as JSON files, one
// per game, and handed to the vision prompt as context.
package bosslist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/boss-title-updater/internal/search"
)

const (
	userAgent      = "Mozilla/5.0 (compatible; BossTitleUpdater/1.0)"
	requestDelay   = 2 * time.Second
	requestTimeout = 10 * time.Second
)

// DefaultFandomDomains maps a folded game key to its Fandom wiki.
var DefaultFandomDomains = []FandomDomain{
	{Key: "bloodborne", BaseURL: "https://bloodborne.fandom.com"},
	{Key: "darksouls3", BaseURL: "https://darksouls3.fandom.com"},
	{Key: "darksouls", BaseURL: "https://darksouls.fandom.com"},
	{Key: "eldenring", BaseURL: "https://eldenring.fandom.com"},
	{Key: "sekiro", BaseURL: "https://sekiroshadowsdietwice.fandom.com"},
	{Key: "nioh", BaseURL: "https://nioh.fandom.com"},
	{Key: "liesofp", BaseURL: "https://liesofp.fandom.com"},
}

// FandomDomain is one configured Fandom wiki. Entries are matched in order,
// so more specific keys come first.
type FandomDomain struct {
	Key     string
	BaseURL string
}

var fandomPages = []string{"Bosses", "Boss", "Boss_Battles", "List_of_Bosses", "Category:Bosses"}

// Scraper fetches boss lists. It is safe for concurrent use; requests are
// spaced by a shared limiter.
type Scraper struct {
	HTTP          *http.Client
	WikipediaBase string
	Fandom        []FandomDomain
	Cache         *FileCache
	limiter       *rate.Limiter
}

// NewScraper returns a scraper with the default sources. cache may be nil.
func NewScraper(cache *FileCache) *Scraper {
	return &Scraper{
		HTTP:          &http.Client{Timeout: requestTimeout},
		WikipediaBase: "https://en.wikipedia.org",
		Fandom:        DefaultFandomDomains,
		Cache:         cache,
		limiter:       rate.NewLimiter(rate.Every(requestDelay), 1),
	}
}

// Bosses implements identify.BossLister: cached list first, otherwise
// Wikipedia plus Fandom, merged and deduplicated. Scrape failures yield a
// shorter (possibly empty) list, never an error.
func (s *Scraper) Bosses(ctx context.Context, game string) ([]string, error) {
	if s.Cache != nil {
		if cached, ok := s.Cache.Load(game); ok && len(cached) > 0 {
			return cached, nil
		}
	}

	all := append(s.ScrapeWikipedia(ctx, game), s.ScrapeFandom(ctx, game)...)
	bosses := search.DedupeNames(all)

	if s.Cache != nil && len(bosses) > 0 {
		if err := s.Cache.Save(game, bosses); err != nil {
			log.Warn().Err(err).Str("game", game).Msg("bosslist: cache not saved")
		}
	}
	log.Info().Str("game", game).Int("bosses", len(bosses)).Msg("bosslist: scraped")
	return bosses, nil
}

// ScrapeWikipedia collects list items under boss/enemy/creature headings and
// the first column of wikitables on the game's article.
func (s *Scraper) ScrapeWikipedia(ctx context.Context, game string) []string {
	page := s.WikipediaBase + "/wiki/" + url.PathEscape(strings.ReplaceAll(strings.TrimSpace(game), " ", "_"))
	doc, err := s.fetch(ctx, page)
	if err != nil {
		log.Debug().Err(err).Str("url", page).Msg("bosslist: wikipedia fetch failed")
		return nil
	}

	var out []string
	doc.Find("h2, h3, h4").Each(func(_ int, h *goquery.Selection) {
		text := strings.ToLower(h.Text())
		if !strings.Contains(text, "boss") && !strings.Contains(text, "enemy") && !strings.Contains(text, "creature") {
			return
		}
		anchor := h
		if p := h.Parent(); p.HasClass("mw-heading") {
			anchor = p
		}
		for next := anchor.Next(); next.Length() > 0; next = next.Next() {
			if next.Is("h2, h3, h4") || next.HasClass("mw-heading") {
				break
			}
			if next.Is("ul, ol") {
				next.Find("li").Each(func(_ int, li *goquery.Selection) {
					out = append(out, li.Text())
				})
			}
		}
	})

	doc.Find("table.wikitable").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(i int, tr *goquery.Selection) {
			if i == 0 {
				return
			}
			if cell := tr.Find("td, th").First(); cell.Length() > 0 {
				out = append(out, cell.Text())
			}
		})
	})
	return out
}

// ScrapeFandom collects category members, linked list items and first-column
// table links from the game's Fandom wiki, if one is configured.
func (s *Scraper) ScrapeFandom(ctx context.Context, game string) []string {
	base := s.fandomBase(game)
	if base == "" {
		return nil
	}

	var out []string
	for _, p := range fandomPages {
		page := base + "/wiki/" + p
		doc, err := s.fetch(ctx, page)
		if err != nil {
			log.Debug().Err(err).Str("url", page).Msg("bosslist: fandom fetch failed")
			continue
		}

		doc.Find("div.category-page__member a.category-page__member-link").Each(func(_ int, a *goquery.Selection) {
			if title, ok := a.Attr("title"); ok {
				out = append(out, title)
			}
		})
		doc.Find("ul li").Each(func(_ int, li *goquery.Selection) {
			a := li.Find("a").First()
			if a.Length() == 0 {
				return
			}
			if name := strings.TrimSpace(a.Text()); !strings.HasPrefix(name, "File:") {
				out = append(out, name)
			}
		})
		doc.Find("table tr").Each(func(i int, tr *goquery.Selection) {
			if tr.Index() == 0 {
				return
			}
			if a := tr.Find("td, th").First().Find("a").First(); a.Length() > 0 {
				out = append(out, a.Text())
			}
		})
		if ctx.Err() != nil {
			break
		}
	}
	return out
}

func (s *Scraper) fandomBase(game string) string {
	key := strings.NewReplacer(" ", "", ":", "", "'", "").Replace(strings.ToLower(game))
	for _, d := range s.Fandom {
		if strings.Contains(key, d.Key) {
			return d.BaseURL
		}
	}
	return ""
}

func (s *Scraper) fetch(ctx context.Context, page string) (*goquery.Document, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	hc := s.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", page, res.Status)
	}
	return goquery.NewDocumentFromReader(res.Body)
}
