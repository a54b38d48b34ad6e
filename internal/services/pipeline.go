// Package services – Pipeline
//
// The pipeline turns the channel's default-titled uploads into renamed
// videos: enumerate, filter by title pattern, claim in the ledger, identify
// (cache first), format, update, record. A bounded pool of workers pulls
// from a shared queue; MarkProcessing is the only cross-worker exclusion.
// Per-video failures are recorded and never abort the batch.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/time/rate"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/identify"
	"github.com/tbourn/boss-title-updater/internal/observability"
)

// VideoSource enumerates the channel's uploads.
type VideoSource interface {
	ListVideos(ctx context.Context) ([]domain.Video, error)
	GetVideo(ctx context.Context, id string) (domain.Video, error)
}

// TitleUpdater renames a video.
type TitleUpdater interface {
	UpdateTitle(ctx context.Context, videoID, title string) error
}

// PlaylistManager files videos into per-game playlists.
type PlaylistManager interface {
	EnsurePlaylist(ctx context.Context, game string) (string, error)
	AddToPlaylist(ctx context.Context, playlistID, videoID string) error
}

// Identifier names the boss in a video.
type Identifier interface {
	Identify(ctx context.Context, req identify.Request) (identify.Result, error)
}

// GenreClassifier decides the melee title variant.
type GenreClassifier interface {
	IsMeleeVariant(ctx context.Context, game string) bool
}

// AuditSink receives completed, failed and rolled-back events.
type AuditSink interface {
	Append(ctx context.Context, ev domain.AuditEvent) error
}

// Outcome of one video in a run.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomePlanned is the dry-run outcome: nothing was changed.
	OutcomePlanned Outcome = "planned"
)

// PipelineConfig controls one run.
type PipelineConfig struct {
	Workers int
	// Delay is the per-worker politeness delay before each external call.
	Delay time.Duration
	// Force reprocesses completed videos and ignores the attempt cap.
	Force bool
	// DryRun reports what would happen without any writes or paid calls.
	DryRun bool
	// Resume requeues interrupted rows and works the ledger's backlog.
	Resume bool
	// PurgeExpired sweeps expired cache entries before the run.
	PurgeExpired bool

	VideoID    string
	GameFilter string
	Limit      int
}

// WorkItem is one video selected for a run.
type WorkItem struct {
	Video domain.Video
	Game  string
	// OriginalTitle is the ledger's original title when known, else the
	// current title.
	OriginalTitle string
}

// Result describes what happened to one video.
type Result struct {
	VideoID       string
	Game          string
	Boss          string
	OriginalTitle string
	NewTitle      string
	Strategy      string
	FromCache     bool
	Melee         bool
	Outcome       Outcome
	Category      string
	Err           error
}

// Summary aggregates a run.
type Summary struct {
	RunID       string
	DryRun      bool
	Total       int
	Completed   int
	Failed      int
	Skipped     int
	Interrupted int
	Planned     int
	Duration    time.Duration
	Results     []Result
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case OutcomeCompleted:
		s.Completed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomePlanned:
		s.Planned++
	default:
		s.Interrupted++
	}
}

// Pipeline wires the run together. Playlists and Audit are optional.
type Pipeline struct {
	Ledger     *Ledger
	Cache      *IdentificationCache
	Titles     *TitleParser
	Source     VideoSource
	Updater    TitleUpdater
	Playlists  PlaylistManager
	Identifier Identifier
	Genre      GenreClassifier
	Audit      AuditSink
	Config     PipelineConfig
}

func (p *Pipeline) workers() int {
	if p.Config.Workers < 1 {
		return 1
	}
	return p.Config.Workers
}

// Plan selects the videos a run would work on, in source order.
func (p *Pipeline) Plan(ctx context.Context) ([]WorkItem, error) {
	var items []WorkItem
	var err error
	switch {
	case p.Config.Resume:
		items, err = p.planResume(ctx)
	case p.Config.VideoID != "":
		var v domain.Video
		if v, err = p.Source.GetVideo(ctx, p.Config.VideoID); err == nil {
			items, err = p.selectVideos(ctx, []domain.Video{v})
		}
	default:
		var videos []domain.Video
		if videos, err = p.Source.ListVideos(ctx); err == nil {
			items, err = p.selectVideos(ctx, videos)
		}
	}
	if err != nil {
		return nil, err
	}

	items = p.filterGame(items)
	if p.Config.Limit > 0 && len(items) > p.Config.Limit {
		items = items[:p.Config.Limit]
	}
	return items, nil
}

// selectVideos keeps default-titled videos. A renamed video is kept when
// its ledger row still carries a default original title, so --force can
// reprocess it.
func (p *Pipeline) selectVideos(ctx context.Context, videos []domain.Video) ([]WorkItem, error) {
	out := make([]WorkItem, 0, len(videos))
	for _, v := range videos {
		row, err := p.Ledger.Get(ctx, v.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		original := v.Title
		if row != nil && row.OriginalTitle != "" {
			original = row.OriginalTitle
		}
		game, err := p.Titles.GameName(v.Title)
		if err != nil {
			if game, err = p.Titles.GameName(original); err != nil {
				continue
			}
		}
		out = append(out, WorkItem{Video: v, Game: game, OriginalTitle: original})
	}
	return out, nil
}

// planResume requeues interrupted rows, then returns every pending row and
// every failed row below the attempt cap, fetching videos the listing lacks.
//
// A dry run leaves interrupted rows in processing but still previews them.
func (p *Pipeline) planResume(ctx context.Context) ([]WorkItem, error) {
	ids, err := p.Ledger.ResumeCandidates(ctx)
	if err != nil {
		return nil, err
	}
	var interrupted []domain.ProcessedVideo
	if len(ids) > 0 {
		if p.Config.DryRun {
			for _, id := range ids {
				row, err := p.Ledger.Get(ctx, id)
				if err != nil {
					return nil, err
				}
				interrupted = append(interrupted, *row)
			}
		} else {
			n, err := p.Ledger.Requeue(ctx, ids)
			if err != nil {
				return nil, err
			}
			log.Info().Int("requeued", n).Msg("pipeline: interrupted videos requeued")
		}
	}

	rows, err := p.Ledger.RetryCandidates(ctx)
	if err != nil {
		return nil, err
	}
	rows = append(interrupted, rows...)
	if len(rows) == 0 {
		return nil, nil
	}

	listed := map[string]domain.Video{}
	if p.Config.VideoID == "" {
		videos, err := p.Source.ListVideos(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			listed[v.ID] = v
		}
	}

	out := make([]WorkItem, 0, len(rows))
	for _, r := range rows {
		if p.Config.VideoID != "" && r.VideoID != p.Config.VideoID {
			continue
		}
		v, ok := listed[r.VideoID]
		if !ok {
			if v, err = p.Source.GetVideo(ctx, r.VideoID); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warn().Err(err).Str("video_id", r.VideoID).Msg("pipeline: resume candidate not fetchable, skipped")
				continue
			}
		}
		game := r.GameName
		if game == "" {
			if game, err = p.Titles.GameName(r.OriginalTitle); err != nil {
				continue
			}
		}
		out = append(out, WorkItem{Video: v, Game: game, OriginalTitle: r.OriginalTitle})
	}
	return out, nil
}

func (p *Pipeline) filterGame(items []WorkItem) []WorkItem {
	filter := strings.TrimSpace(p.Config.GameFilter)
	if filter == "" {
		return items
	}
	want := cases.Fold().String(filter)
	out := items[:0]
	for _, it := range items {
		if strings.Contains(cases.Fold().String(it.Game), want) {
			out = append(out, it)
		}
	}
	return out
}

// Run sweeps the cache, plans and executes the work set. It returns
// ctx.Err() alongside the partial summary when the run was interrupted.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	p.SweepCache(ctx)
	items, err := p.Plan(ctx)
	if err != nil {
		return &Summary{RunID: uuid.NewString(), DryRun: p.Config.DryRun}, fmt.Errorf("plan: %w", err)
	}
	return p.Execute(ctx, items)
}

// SweepCache removes expired cache entries when PurgeExpired is set. Dry runs
// leave the cache alone.
func (p *Pipeline) SweepCache(ctx context.Context) {
	if !p.Config.PurgeExpired || p.Config.DryRun || p.Cache == nil {
		return
	}
	if n, err := p.Cache.PurgeExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("pipeline: cache sweep failed")
	} else if n > 0 {
		log.Info().Int64("purged", n).Msg("pipeline: expired cache entries removed")
	}
}

// Execute processes items on the worker pool.
func (p *Pipeline) Execute(ctx context.Context, items []WorkItem) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.NewString(), DryRun: p.Config.DryRun, Total: len(items)}
	logger := log.With().Str("run_id", sum.RunID).Logger()
	ctx, runSpan := observability.StartRun(ctx, sum.RunID, len(items), p.Config.DryRun)
	defer func() { observability.EndRun(runSpan, sum.Completed, sum.Failed, sum.Skipped, sum.Interrupted) }()
	logger.Info().Int("videos", len(items)).Int("workers", p.workers()).Bool("dry_run", p.Config.DryRun).Msg("pipeline: starting")

	results := make([]Result, len(items))
	dispatched := make([]bool, len(items))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
				dispatched[i] = true
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < p.workers(); w++ {
		limiter := rate.NewLimiter(rate.Inf, 1)
		if p.Config.Delay > 0 {
			limiter = rate.NewLimiter(rate.Every(p.Config.Delay), 1)
		}
		g.Go(func() error {
			for i := range jobs {
				results[i] = p.Process(ctx, items[i], limiter.Wait)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range items {
		if !dispatched[i] {
			results[i] = Result{
				VideoID: items[i].Video.ID, Game: items[i].Game,
				OriginalTitle: items[i].OriginalTitle, Outcome: OutcomeInterrupted, Err: ctx.Err(),
			}
		}
		sum.add(results[i])
	}
	sum.Results = results
	sum.Duration = time.Since(start)

	logger.Info().
		Int("total", sum.Total).
		Int("completed", sum.Completed).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Int("interrupted", sum.Interrupted).
		Dur("took", sum.Duration).
		Msg("pipeline: finished")
	return sum, ctx.Err()
}

// Process runs one video through the pipeline. wait is the per-worker
// politeness delay and may be nil.
func (p *Pipeline) Process(ctx context.Context, item WorkItem, wait func(context.Context) error) (res Result) {
	if wait == nil {
		wait = func(context.Context) error { return nil }
	}
	ctx, span := observability.Tracer("services/pipeline").Start(ctx, "Process")
	span.SetAttributes(attribute.String("video.id", item.Video.ID), attribute.String("video.game", item.Game))
	defer span.End()
	done := observability.WorkerBusy()
	defer done()

	res = Result{VideoID: item.Video.ID, Game: item.Game, OriginalTitle: item.OriginalTitle}
	logger := log.With().Str("video_id", item.Video.ID).Str("game", item.Game).Logger()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error().Err(err).Msg("pipeline: recovered")
			res = p.fail(ctx, item, res, err)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, string(res.Outcome))
		}
		observability.ObserveVideo(string(res.Outcome))
	}()

	if err := ctx.Err(); err != nil {
		res.Outcome, res.Err = OutcomeInterrupted, err
		return res
	}
	if p.Config.DryRun {
		return p.plan(ctx, item, res)
	}

	claim := item.Video
	claim.Title = item.OriginalTitle
	if err := p.Ledger.MarkProcessing(ctx, claim, item.Game, p.Config.Force); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrAlreadyInFlight),
			errors.Is(err, ErrRetriesExhausted), errors.Is(err, ErrInvalidTransition):
			logger.Debug().Err(err).Msg("pipeline: skipped")
			res.Outcome, res.Category = OutcomeSkipped, Category(err)
			return res
		case ctx.Err() != nil:
			res.Outcome, res.Err = OutcomeInterrupted, ctx.Err()
			return res
		default:
			logger.Error().Err(err).Msg("pipeline: claim failed")
			res.Outcome, res.Category, res.Err = OutcomeFailed, CategoryInternal, err
			return res
		}
	}

	boss, strategy, fromCache, err := p.identify(ctx, item, wait)
	if err != nil {
		return p.fail(ctx, item, res, err)
	}
	res.Boss, res.Strategy, res.FromCache = boss, strategy, fromCache

	res.Melee = p.Genre != nil && p.Genre.IsMeleeVariant(ctx, item.Game)
	res.NewTitle = FormatTitle(item.Game, boss, res.Melee)

	if err := wait(ctx); err != nil {
		return p.fail(ctx, item, res, err)
	}
	if err := p.Updater.UpdateTitle(ctx, item.Video.ID, res.NewTitle); err != nil {
		return p.fail(ctx, item, res, fmt.Errorf("update title: %w", err))
	}

	// The title is live; record it even if the run is being cancelled.
	bg := context.WithoutCancel(ctx)
	if err := p.Ledger.MarkCompleted(bg, item.Video.ID, res.NewTitle, item.Game, boss); err != nil {
		logger.Error().Err(err).Msg("pipeline: ledger not updated after rename")
		res.Outcome, res.Category, res.Err = OutcomeFailed, CategoryInternal, err
		return res
	}
	res.Outcome = OutcomeCompleted
	logger.Info().Str("boss", boss).Str("new_title", res.NewTitle).Bool("cached", fromCache).Msg("pipeline: renamed")

	playlistID := p.addToPlaylist(ctx, item, wait)
	p.audit(bg, domain.AuditEvent{
		Action:        domain.AuditCompleted,
		VideoID:       item.Video.ID,
		GameName:      item.Game,
		BossName:      boss,
		OriginalTitle: item.OriginalTitle,
		NewTitle:      res.NewTitle,
		PlaylistName:  item.Game,
		PlaylistID:    playlistID,
	})
	return res
}

// identify serves from the cache when possible and stores fresh answers.
func (p *Pipeline) identify(ctx context.Context, item WorkItem, wait func(context.Context) error) (boss, strategy string, cached bool, err error) {
	if p.Cache != nil {
		e, hit, err := p.Cache.Lookup(ctx, item.Video.ID, item.Game)
		if err != nil {
			log.Warn().Err(err).Str("video_id", item.Video.ID).Msg("pipeline: cache lookup failed")
		}
		observability.ObserveCacheLookup(hit)
		if hit {
			return e.BossName, e.Source, true, nil
		}
	}

	r, err := p.Identifier.Identify(ctx, identify.Request{
		VideoID:      item.Video.ID,
		Game:         item.Game,
		ThumbnailURL: item.Video.ThumbnailURL,
		Wait:         wait,
	})
	if errors.Is(err, identify.ErrUnknown) {
		return "", "", false, fmt.Errorf("%w: %v", ErrUnidentified, err)
	}
	if err != nil {
		return "", "", false, err
	}
	if p.Cache != nil {
		if err := p.Cache.Store(context.WithoutCancel(ctx), item.Video.ID, item.Game, r.Boss, r.Strategy); err != nil {
			log.Warn().Err(err).Str("video_id", item.Video.ID).Msg("pipeline: cache store failed")
		}
	}
	return r.Boss, r.Strategy, false, nil
}

func (p *Pipeline) addToPlaylist(ctx context.Context, item WorkItem, wait func(context.Context) error) string {
	if p.Playlists == nil || ctx.Err() != nil {
		return ""
	}
	logger := log.With().Str("video_id", item.Video.ID).Str("game", item.Game).Logger()
	if err := wait(ctx); err != nil {
		return ""
	}
	id, err := p.Playlists.EnsurePlaylist(ctx, item.Game)
	if err != nil {
		logger.Warn().Err(err).Msg("pipeline: playlist unavailable")
		return ""
	}
	if err := wait(ctx); err != nil {
		return id
	}
	if err := p.Playlists.AddToPlaylist(ctx, id, item.Video.ID); err != nil {
		logger.Warn().Err(err).Str("playlist_id", id).Msg("pipeline: not added to playlist")
	}
	return id
}

// fail records err against a claimed video. Cancellation leaves the row in
// processing so the next --resume picks it up.
func (p *Pipeline) fail(ctx context.Context, item WorkItem, res Result, err error) Result {
	res.Err = err
	if ctx.Err() != nil {
		res.Outcome, res.Category = OutcomeInterrupted, CategoryCancelled
		log.Info().Str("video_id", item.Video.ID).Msg("pipeline: interrupted, left for resume")
		return res
	}

	res.Outcome, res.Category = OutcomeFailed, Category(err)
	log.Warn().Err(err).Str("video_id", item.Video.ID).Str("game", item.Game).Str("category", res.Category).Msg("pipeline: failed")

	bg := context.WithoutCancel(ctx)
	if lerr := p.Ledger.MarkFailed(bg, item.Video.ID, err.Error(), res.Category); lerr != nil {
		log.Error().Err(lerr).Str("video_id", item.Video.ID).Msg("pipeline: failure not recorded")
	}
	attempts := 0
	if row, gerr := p.Ledger.Get(bg, item.Video.ID); gerr == nil {
		attempts = row.Attempts
	}
	p.audit(bg, domain.AuditEvent{
		Action:        domain.AuditFailed,
		VideoID:       item.Video.ID,
		GameName:      item.Game,
		OriginalTitle: item.OriginalTitle,
		Category:      res.Category,
		Message:       err.Error(),
		Attempts:      attempts,
	})
	return res
}

// plan is the dry-run path: ledger and cache are only read, and nothing
// external is called except the genre lookup.
func (p *Pipeline) plan(ctx context.Context, item WorkItem, res Result) Result {
	status, ok, err := p.Ledger.GetStatus(ctx, item.Video.ID)
	if err != nil {
		res.Outcome, res.Category, res.Err = OutcomeFailed, CategoryInternal, err
		return res
	}
	inFlight := status == domain.StatusProcessing && !p.Config.Resume
	if ok && !p.Config.Force && (status == domain.StatusCompleted || inFlight) {
		res.Outcome = OutcomeSkipped
		return res
	}

	res.Melee = p.Genre != nil && p.Genre.IsMeleeVariant(ctx, item.Game)
	if p.Cache != nil {
		if e, hit, err := p.Cache.Peek(ctx, item.Video.ID, item.Game); err == nil && hit {
			res.Boss, res.Strategy, res.FromCache = e.BossName, e.Source, true
			res.NewTitle = FormatTitle(item.Game, e.BossName, res.Melee)
		}
	}
	res.Outcome = OutcomePlanned
	log.Info().Str("video_id", item.Video.ID).Str("game", item.Game).Bool("melee", res.Melee).
		Str("planned_title", res.NewTitle).Msg("pipeline: dry run")
	return res
}

func (p *Pipeline) audit(ctx context.Context, ev domain.AuditEvent) {
	if p.Audit == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.At = time.Now()
	if err := p.Audit.Append(ctx, ev); err != nil {
		log.Warn().Err(err).Str("video_id", ev.VideoID).Str("action", ev.Action).Msg("pipeline: audit append failed")
	}
}

// GameCount is one row of the --list-games report.
type GameCount struct {
	Game  string
	Count int
	Melee bool
}

// ListGames groups the channel's default-titled videos by game.
func (p *Pipeline) ListGames(ctx context.Context) ([]GameCount, error) {
	videos, err := p.Source.ListVideos(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]*GameCount{}
	for _, v := range videos {
		game, err := p.Titles.GameName(v.Title)
		if err != nil {
			continue
		}
		key := cases.Fold().String(game)
		gc, ok := counts[key]
		if !ok {
			gc = &GameCount{Game: game}
			counts[key] = gc
		}
		gc.Count++
	}
	out := make([]GameCount, 0, len(counts))
	for _, gc := range counts {
		gc.Melee = p.Genre != nil && p.Genre.IsMeleeVariant(ctx, gc.Game)
		out = append(out, *gc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Game < out[j].Game
	})
	return out, nil
}
