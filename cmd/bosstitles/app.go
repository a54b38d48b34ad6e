package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/tbourn/boss-title-updater/internal/audit"
	"github.com/tbourn/boss-title-updater/internal/bosslist"
	"github.com/tbourn/boss-title-updater/internal/config"
	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/genre"
	httpapi "github.com/tbourn/boss-title-updater/internal/http"
	"github.com/tbourn/boss-title-updater/internal/identify"
	"github.com/tbourn/boss-title-updater/internal/media"
	"github.com/tbourn/boss-title-updater/internal/observability"
	"github.com/tbourn/boss-title-updater/internal/retry"
	"github.com/tbourn/boss-title-updater/internal/services"
	"github.com/tbourn/boss-title-updater/internal/sysutil"
	"github.com/tbourn/boss-title-updater/internal/youtube"
)

const rawgCacheTTL = 24 * time.Hour

// errPartial is returned when a batch command finished with failures that
// were already reported.
var errPartial = errors.New("some operations failed")

type app struct {
	cfg    config.Config
	opts   options
	ledger *services.Ledger
	cache  *services.IdentificationCache

	stdin          io.Reader
	stdout, stderr io.Writer
}

// dispatch runs the one command the flags select. Local commands never
// touch the network.
func (a *app) dispatch(ctx context.Context) error {
	switch {
	case a.opts.ClearCache:
		return a.clearCache(ctx)
	case a.opts.ListRollbackCandidates:
		return a.listRollbackCandidates(ctx)
	case a.opts.Serve:
		return a.serve(ctx)
	}

	processing := a.opts.Rollback == "" && !a.opts.RollbackAll && !a.opts.ListGames
	if processing && !a.opts.DryRun {
		if err := a.cfg.ValidateForRun(); err != nil {
			return err
		}
	}

	// The ledger decides whether a rollback is possible before any OAuth.
	var target *domain.ProcessedVideo
	if a.opts.Rollback != "" {
		row, err := a.rollbackTarget(ctx)
		if err != nil {
			return err
		}
		target = row
	}

	yc, ts, err := a.connectYouTube(ctx)
	if err != nil {
		return err
	}
	switch {
	case target != nil:
		return a.rollback(ctx, yc, ts, target)
	case a.opts.RollbackAll:
		return a.rollbackAll(ctx, yc, ts)
	case a.opts.ListGames:
		return a.listGames(ctx, yc)
	}
	return a.process(ctx, yc, ts)
}

// exitCode maps the command result to the process exit status and prints
// coded diagnostics for failures.
func (a *app) exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		fmt.Fprintln(a.stderr, "\nInterrupted. Rerun with --resume to continue.")
		return exitInterrupted
	case errors.Is(err, errPartial):
		return exitError
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrNothingToRollback):
		fmt.Fprintln(a.stderr, "error:", err)
		return exitError
	}
	log.Error().Err(err).Msg("bosstitles failed")
	fmt.Fprintln(a.stderr, formatError(diagnose(err), err))
	return exitError
}

func (a *app) clearCache(ctx context.Context) error {
	total, expired, err := a.cache.ClearAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Cleared %d cache entries (%d were expired)\n", total, expired)
	return nil
}

func (a *app) listRollbackCandidates(ctx context.Context) error {
	cands, err := a.ledger.ListRollbackCandidates(ctx)
	if err != nil {
		return err
	}
	printRollbackCandidates(a.stdout, cands)
	return nil
}

func (a *app) listGames(ctx context.Context, yc *youtube.Client) error {
	titles, err := services.NewTitleParser(a.cfg.TitlePattern)
	if err != nil {
		return withCode(codeConfigInvalid, err)
	}
	p := &services.Pipeline{Titles: titles, Source: yc, Genre: a.buildGenre()}
	games, err := p.ListGames(ctx)
	if err != nil {
		return err
	}
	printGames(a.stdout, games)
	return nil
}

func (a *app) rollbackTarget(ctx context.Context) (*domain.ProcessedVideo, error) {
	row, err := a.ledger.Get(ctx, a.opts.Rollback)
	if err != nil {
		return nil, err
	}
	if row.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: video is %s", services.ErrInvalidTransition, row.Status)
	}
	return row, nil
}

func (a *app) rollback(ctx context.Context, yc *youtube.Client, ts oauth2.TokenSource, row *domain.ProcessedVideo) error {
	fmt.Fprintf(a.stdout, "Video:   %s\nCurrent: %s\nRestore: %s\n", row.VideoID, row.NewTitle, row.OriginalTitle)
	if !a.confirm("Restore the original title?") {
		fmt.Fprintln(a.stdout, "Cancelled.")
		return nil
	}
	svc := &services.RollbackService{Ledger: a.ledger, Updater: yc, Audit: a.buildAudit(ctx, ts)}
	original, err := svc.Rollback(ctx, a.opts.Rollback)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrInvalidTransition) ||
			errors.Is(err, services.ErrNothingToRollback) || ctx.Err() != nil {
			return err
		}
		return withCode(codeTitleUpdateFailed, err)
	}
	fmt.Fprintf(a.stdout, "Restored %s to %q\n", a.opts.Rollback, original)
	return nil
}

func (a *app) rollbackAll(ctx context.Context, yc *youtube.Client, ts oauth2.TokenSource) error {
	cands, err := a.ledger.ListRollbackCandidates(ctx)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		fmt.Fprintln(a.stdout, "No videos to roll back.")
		return nil
	}
	printRollbackCandidates(a.stdout, cands)
	if !a.confirm(fmt.Sprintf("Restore the original titles of %d videos?", len(cands))) {
		fmt.Fprintln(a.stdout, "Cancelled.")
		return nil
	}
	svc := &services.RollbackService{Ledger: a.ledger, Updater: yc, Audit: a.buildAudit(ctx, ts)}
	restored, failed, err := svc.RollbackAll(ctx)
	fmt.Fprintf(a.stdout, "Restored %d, failed %d\n", restored, failed)
	if err != nil {
		return err
	}
	if failed > 0 {
		return errPartial
	}
	return nil
}

func (a *app) process(ctx context.Context, yc *youtube.Client, ts oauth2.TokenSource) error {
	titles, err := services.NewTitleParser(a.cfg.TitlePattern)
	if err != nil {
		return withCode(codeConfigInvalid, err)
	}
	p := &services.Pipeline{
		Ledger:    a.ledger,
		Cache:     a.cache,
		Titles:    titles,
		Source:    yc,
		Updater:   yc,
		Playlists: yc,
		Genre:     a.buildGenre(),
		Audit:     a.buildAudit(ctx, ts),
		Config: services.PipelineConfig{
			Workers:      a.cfg.Workers,
			Delay:        a.cfg.RateLimitDelay,
			Force:        a.opts.Force,
			DryRun:       a.opts.DryRun,
			Resume:       a.opts.Resume,
			PurgeExpired: true,
			VideoID:      a.opts.VideoID,
			GameFilter:   a.opts.Game,
			Limit:        a.opts.Limit,
		},
	}
	// Dry runs only peek at the cache and never call the model.
	if !a.opts.DryRun {
		chain, err := a.buildIdentifier(ctx)
		if err != nil {
			return err
		}
		p.Identifier = chain
	}

	p.SweepCache(ctx)
	items, err := p.Plan(ctx)
	if err != nil {
		return err
	}
	a.printPreRun(ctx, len(items))
	if len(items) == 0 {
		fmt.Fprintln(a.stdout, "Nothing to process.")
		return nil
	}

	stop := a.startStatusServer(ctx)
	defer stop()

	sum, err := p.Execute(ctx, items)
	printSummary(a.stdout, sum)
	return err
}

func (a *app) printPreRun(ctx context.Context, planned int) {
	stats, err := a.ledger.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("ledger stats unavailable")
	}
	cs, err := a.cache.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cache stats unavailable")
	}
	printPreRun(a.stdout, stats, cs, services.EstimateCost(planned))
}

// confirm asks a yes/no question on stdin unless --yes was given.
func (a *app) confirm(question string) bool {
	if a.opts.Yes {
		return true
	}
	fmt.Fprintf(a.stdout, "%s [y/N]: ", question)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return sysutil.IsTruthy(strings.TrimSpace(line))
}

func (a *app) connectYouTube(ctx context.Context) (*youtube.Client, oauth2.TokenSource, error) {
	ts, err := youtube.TokenSource(ctx, youtube.AuthConfig{
		ClientSecretPath: a.cfg.YouTube.ClientSecretPath,
		TokenPath:        a.cfg.YouTube.TokenPath,
		Prompt: func(u string) {
			fmt.Fprintf(a.stderr, "Open this URL in a browser to authorize access:\n\n%s\n\n", u)
		},
	})
	if err != nil {
		if errors.Is(err, youtube.ErrClientSecretMissing) || ctx.Err() != nil {
			return nil, nil, err
		}
		return nil, nil, withCode(codeAuthFailed, err)
	}
	yc, err := youtube.NewClient(ctx, ts)
	if err != nil {
		return nil, nil, withCode(codeYouTubeAPI, err)
	}
	yc.PlaylistPrivacy = a.cfg.YouTube.PlaylistPrivacy
	yc.Retry = a.retryConfig("youtube")
	return yc, ts, nil
}

func (a *app) retryConfig(service string) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = a.cfg.Retry.MaxAttempts
	rc.BaseDelay = a.cfg.Retry.BaseDelay
	rc.MaxDelay = a.cfg.Retry.MaxDelay
	if service != "" {
		rc.OnRetry = func(attempt int, d time.Duration, err error) {
			observability.ObserveRetry(service)
			log.Debug().Err(err).Str("service", service).Int("attempt", attempt).Dur("delay", d).Msg("retrying")
		}
	}
	return rc
}

func (a *app) buildGenre() *genre.Composite {
	var source genre.Classifier
	if a.cfg.RAWGKey != "" {
		source = genre.NewRAWG(a.cfg.RAWGKey, rawgCacheTTL)
	}
	return genre.NewComposite(genre.NewStaticList(a.cfg.SoulslikeGames), source)
}

// buildAudit always logs events; the spreadsheet is added when it can be
// reached. Dry runs never write to it.
func (a *app) buildAudit(ctx context.Context, ts oauth2.TokenSource) audit.Multi {
	sinks := audit.Multi{audit.NewLogSink()}
	if a.opts.DryRun || ts == nil {
		return sinks
	}
	sheets, err := audit.NewSheetsSink(ctx, a.cfg.YouTube.SpreadsheetID, a.cfg.YouTube.SpreadsheetName, option.WithTokenSource(ts))
	if err == nil {
		sheets.Retry = a.retryConfig("sheets")
		var id string
		if id, err = sheets.Ensure(ctx); err == nil {
			log.Info().Str("spreadsheet_id", id).Msg("audit spreadsheet ready")
			return append(sinks, sheets)
		}
	}
	log.Warn().Err(err).Str("code", codeSheetsAPI).Msg("audit spreadsheet unavailable, logging only")
	return sinks
}

func (a *app) buildVision(ctx context.Context) (identify.Vision, error) {
	ic := a.cfg.Identify
	if ic.Provider == "gemini" {
		v, err := identify.NewGeminiVision(ctx, ic.GeminiKey, ic.GeminiModel)
		if err != nil {
			return nil, withCode(codeVisionAPI, err)
		}
		return v, nil
	}
	return identify.NewOpenAIVision(ic.OpenAIKey, ic.OpenAIModel, ic.MaxTokens), nil
}

// buildIdentifier assembles thumbnail then frames. Without yt-dlp or ffmpeg
// only the thumbnail stage runs.
func (a *app) buildIdentifier(ctx context.Context) (*identify.Chain, error) {
	vision, err := a.buildVision(ctx)
	if err != nil {
		return nil, err
	}

	lists, err := bosslist.NewFileCache(a.cfg.Identify.BossListDir)
	if err != nil {
		log.Warn().Err(err).Msg("boss list cache unavailable")
	}

	strategies := []identify.Strategy{identify.ThumbnailStrategy{Vision: vision}}
	fx := newFrameExtractor(a.cfg.Identify, a.cfg.FrameOffsets())
	if err := fx.CheckInstalled(); err != nil {
		log.Warn().Err(err).Str("code", codeFrameExtraction).Msg("frame extraction unavailable, thumbnail only")
	} else {
		strategies = append(strategies, identify.FramesStrategy{Vision: vision, Frames: fx})
	}

	return &identify.Chain{
		Strategies: strategies,
		Bosses:     bosslist.NewScraper(lists),
		Retry:      a.retryConfig(""),
		Observe:    observability.ObserveIdentify,
		OnRetry:    observability.ObserveRetry,
	}, nil
}

func newFrameExtractor(ic config.IdentifyConfig, offsets []time.Duration) *media.FrameExtractor {
	fx := media.NewFrameExtractor(offsets)
	fx.YtdlpPath = sysutil.FirstNonEmpty(ic.YtdlpPath, fx.YtdlpPath)
	fx.FFmpegPath = sysutil.FirstNonEmpty(ic.FFmpegPath, fx.FFmpegPath)
	fx.Quality = sysutil.FirstNonEmpty(ic.VideoQuality, fx.Quality)
	if ic.FrameTimeout > 0 {
		fx.FrameTimeout = ic.FrameTimeout
	}
	return fx
}

// statusHandler builds the gin engine of the status API.
func (a *app) statusHandler() *gin.Engine {
	r := gin.New()
	httpapi.RegisterRoutes(r, a.ledger, a.cache, a.cfg.Server, a.cfg.OTEL.ServiceName)
	return r
}

// serve runs the status server until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv := httpapi.NewServer(a.cfg.Server, a.statusHandler())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info().Str("addr", srv.Addr).Msg("status server listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	log.Info().Msg("status server stopped")
	return nil
}

// startStatusServer runs the status server next to a processing run when
// enabled. The returned func stops it.
func (a *app) startStatusServer(ctx context.Context) func() {
	if !a.cfg.Server.Enabled {
		return func() {}
	}
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.serve(sctx); err != nil {
			log.Warn().Err(err).Msg("status server failed")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
