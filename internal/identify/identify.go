// Package identify names the boss fought in a gameplay video by asking a
// vision model about its thumbnail and, failing that, about frames taken from
// the video itself.
//
// Identification is an ordered list of strategies tried cheapest first until
// one returns a name. A strategy that cannot tell returns ErrUnknown; any
// other error stops the chain and is handed back to the caller, marked with
// retry.Permanent when retrying cannot help.
package identify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/boss-title-updater/internal/retry"
	"github.com/tbourn/boss-title-updater/internal/search"
)

// ErrUnknown means the model looked and could not name a boss.
var ErrUnknown = errors.New("model answered " + UnknownAnswer)

// UnknownAnswer is the sentinel the prompt asks the model to reply with.
const UnknownAnswer = "Unknown Boss"

// Request describes one video to identify.
type Request struct {
	VideoID      string
	Game         string
	ThumbnailURL string
	// Bosses is the known-boss context; the Chain fills it from its
	// BossLister when nil.
	Bosses []string
	// Wait, when set, is called before every external call. The pipeline
	// uses it for its per-worker politeness delay.
	Wait func(context.Context) error
}

func (r Request) wait(ctx context.Context) error {
	if r.Wait == nil {
		return nil
	}
	return r.Wait(ctx)
}

// Result is a successful identification.
type Result struct {
	Boss     string
	Strategy string
	// Raw is the model's answer before it was matched to the boss list.
	Raw string
}

// Strategy is one identification stage.
type Strategy interface {
	Name() string
	Identify(ctx context.Context, req Request) (string, error)
}

// BossLister supplies known boss names for a game.
type BossLister interface {
	Bosses(ctx context.Context, game string) ([]string, error)
}

// Vision asks a vision-capable model a question about images. Images are
// http(s) URLs or data URLs.
type Vision interface {
	Ask(ctx context.Context, prompt string, images []string) (string, error)
}

// Chain tries its strategies in order.
type Chain struct {
	Strategies []Strategy
	Bosses     BossLister
	// Retry wraps every strategy call; transient errors are retried, ErrUnknown
	// and permanent errors are not.
	Retry retry.Config
	// Observe, when set, receives the duration and result of each call.
	Observe func(strategy, result string, d time.Duration)
	// OnRetry, when set, is called for every retried strategy call.
	OnRetry func(strategy string)
}

func shouldRetry(err error) bool {
	return !errors.Is(err, ErrUnknown) && retry.IsRetryable(err)
}

// Identify runs the chain. It returns ErrUnknown when every strategy did.
func (c *Chain) Identify(ctx context.Context, req Request) (Result, error) {
	if req.Bosses == nil && c.Bosses != nil {
		list, err := c.Bosses.Bosses(ctx, req.Game)
		if err != nil {
			log.Warn().Err(err).Str("game", req.Game).Msg("identify: boss list unavailable")
		}
		req.Bosses = list
	}
	var idx search.Index
	if len(req.Bosses) > 0 {
		idx = search.NewIndex(req.Bosses)
	}

	for _, s := range c.Strategies {
		name := s.Name()
		cfg := c.Retry
		if c.OnRetry != nil {
			cfg.OnRetry = func(int, time.Duration, error) { c.OnRetry(name) }
		}

		var answer string
		start := time.Now()
		err := retry.Do(ctx, cfg, shouldRetry, func(ctx context.Context) error {
			a, err := s.Identify(ctx, req)
			answer = a
			return err
		})
		c.observe(name, err, time.Since(start))

		if errors.Is(err, ErrUnknown) {
			log.Debug().Str("video_id", req.VideoID).Str("strategy", name).Msg("identify: no answer, trying next")
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", name, err)
		}

		boss := answer
		if idx != nil {
			if canon, ok := idx.Best(answer); ok {
				boss = canon
			}
		}
		return Result{Boss: boss, Strategy: name, Raw: answer}, nil
	}
	return Result{}, ErrUnknown
}

func (c *Chain) observe(name string, err error, d time.Duration) {
	if c.Observe == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrUnknown):
		result = "unknown"
	case err != nil:
		result = "error"
	}
	c.Observe(name, result, d)
}

// BuildPrompt returns the question sent with the images.
func BuildPrompt(game string, bosses []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "These are screenshots from a %s gameplay video.\n\n", game)
	b.WriteString("Please identify the boss being fought in these images. Look for:\n")
	b.WriteString("1. Boss health bars or names displayed on screen\n")
	b.WriteString("2. Large enemy characters that appear to be bosses\n")
	b.WriteString("3. Arena or environment indicators\n")
	b.WriteString("4. Boss introduction text or cutscenes\n\n")
	b.WriteString("If you can identify a specific boss name, respond with ONLY the boss name.\n")
	fmt.Fprintf(&b, "If you cannot identify a specific boss, respond with %q.", UnknownAnswer)
	if len(bosses) > 0 {
		fmt.Fprintf(&b, "\n\nKnown bosses in %s: %s", game, strings.Join(bosses, ", "))
	}
	b.WriteString("\n\nBoss name:")
	return b.String()
}

// ParseAnswer cleans a model reply. Empty replies and the unknown sentinel
// yield ErrUnknown.
func ParseAnswer(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) > len("boss name:") && strings.EqualFold(s[:len("boss name:")], "boss name:") {
		s = strings.TrimSpace(s[len("boss name:"):])
	}
	s = strings.Trim(s, "\"'`*“”. ")
	if s == "" || strings.EqualFold(s, UnknownAnswer) || strings.EqualFold(s, "unknown") {
		return "", ErrUnknown
	}
	return s, nil
}
