// Package services – Ledger
//
// This file implements the processing ledger, the single source of truth for
// whether a video has been handled and what its original title was. Every
// transition is delegated to a conditional UPDATE in the repo layer, so the
// database decides the winner when several workers race for one video; the
// in-process mutex only keeps SQLite from seeing concurrent writers.
//
// Observability: public methods are OpenTelemetry-instrumented with the
// video identifier as a span attribute.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/observability"
	"github.com/tbourn/boss-title-updater/internal/repo"
	"github.com/tbourn/boss-title-updater/internal/utils"
)

// Ledger tracks per-video processing state.
type Ledger struct {
	DB *gorm.DB

	// MaxAttempts bounds automatic retries of failed videos.
	MaxAttempts int
	// Now is the clock used for timestamps; defaults to time.Now in UTC.
	Now func() time.Time

	mu sync.Mutex
}

// NewLedger constructs a Ledger over db.
func NewLedger(db *gorm.DB, maxAttempts int) *Ledger {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Ledger{DB: db, MaxAttempts: maxAttempts}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) span(ctx context.Context, name, videoID string) (context.Context, trace.Span) {
	return observability.Tracer("services/ledger").Start(ctx, name,
		trace.WithAttributes(attribute.String("video.id", videoID)))
}

// Get returns the ledger row for videoID or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, videoID string) (*domain.ProcessedVideo, error) {
	v, err := repo.GetVideo(ctx, l.DB, videoID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// GetStatus returns the status of videoID; ok is false when the video is
// absent from the ledger. It has no side effects.
func (l *Ledger) GetStatus(ctx context.Context, videoID string) (status domain.Status, ok bool, err error) {
	ctx, span := l.span(ctx, "GetStatus", videoID)
	defer span.End()

	v, err := l.Get(ctx, videoID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.Status, true, nil
}

// Register records video as pending if it has no row yet. The stored
// original title is never overwritten.
func (l *Ledger) Register(ctx context.Context, video domain.Video, game string) (created bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return repo.InsertVideoIfAbsent(ctx, l.DB, video.ID, video.Title, game, l.now())
}

// MarkProcessing claims video for this worker. Absent videos are registered
// first. Pending and rolled_back rows are always claimable, failed rows only
// below MaxAttempts, completed rows only with force (force also lifts the
// attempt cap).
//
// On a lost claim it returns ErrAlreadyInFlight, ErrAlreadyCompleted or
// ErrRetriesExhausted, none of which should be escalated to the user.
func (l *Ledger) MarkProcessing(ctx context.Context, video domain.Video, game string, force bool) error {
	ctx, span := l.span(ctx, "MarkProcessing", video.ID)
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if _, err := repo.InsertVideoIfAbsent(ctx, l.DB, video.ID, video.Title, game, now); err != nil {
		return err
	}

	from := []domain.Status{domain.StatusPending, domain.StatusRolledBack}
	maxAttempts := l.MaxAttempts
	if force {
		from = append(from, domain.StatusCompleted, domain.StatusFailed)
		maxAttempts = 0
	}

	claimed, err := repo.ClaimVideo(ctx, l.DB, video.ID, from, maxAttempts, now)
	if err != nil {
		return err
	}
	if claimed {
		log.Debug().Str("video_id", video.ID).Str("game", game).Msg("ledger: processing")
		return nil
	}

	row, err := repo.GetVideo(ctx, l.DB, video.ID)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("ledger.status", string(row.Status)))
	switch row.Status {
	case domain.StatusProcessing:
		return ErrAlreadyInFlight
	case domain.StatusCompleted:
		return ErrAlreadyCompleted
	case domain.StatusFailed:
		return ErrRetriesExhausted
	default:
		return ErrInvalidTransition
	}
}

// MarkCompleted moves videoID from processing to completed, persisting the
// applied title and the derived names.
func (l *Ledger) MarkCompleted(ctx context.Context, videoID, newTitle, game, boss string) error {
	ctx, span := l.span(ctx, "MarkCompleted", videoID)
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := repo.CompleteVideo(ctx, l.DB, videoID, newTitle, game, boss, l.now())
	if err != nil {
		return err
	}
	if !ok {
		return l.explainMiss(ctx, videoID)
	}
	log.Debug().Str("video_id", videoID).Str("game", game).Str("boss", boss).Msg("ledger: completed")
	return nil
}

// MarkFailed moves videoID from processing to failed and increments its
// attempt counter.
func (l *Ledger) MarkFailed(ctx context.Context, videoID, message, category string) error {
	ctx, span := l.span(ctx, "MarkFailed", videoID)
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := repo.FailVideo(ctx, l.DB, videoID, strings.TrimSpace(message), category, l.now())
	if err != nil {
		return err
	}
	if !ok {
		return l.explainMiss(ctx, videoID)
	}
	log.Debug().Str("video_id", videoID).Str("category", category).Msg("ledger: failed")
	return nil
}

// ResumeCandidates returns every video left in processing, which after a
// crash means the attempt was interrupted.
func (l *Ledger) ResumeCandidates(ctx context.Context) ([]string, error) {
	ctx, span := l.span(ctx, "ResumeCandidates", "")
	defer span.End()

	rows, err := repo.ListVideosByStatus(ctx, l.DB, domain.StatusProcessing)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.VideoID
	}
	return out, nil
}

// Requeue moves interrupted videos back to pending and returns how many
// rows changed. Only call it before workers start.
func (l *Ledger) Requeue(ctx context.Context, videoIDs []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, id := range videoIDs {
		ok, err := repo.RequeueVideo(ctx, l.DB, id, l.now())
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// RetryCandidates returns pending rows and failed rows below MaxAttempts.
func (l *Ledger) RetryCandidates(ctx context.Context) ([]domain.ProcessedVideo, error) {
	return repo.ListRetryableVideos(ctx, l.DB, l.MaxAttempts)
}

// Rollback returns the stored original title of videoID and moves the row
// to rolled_back. It returns ErrNotFound for unknown videos and
// ErrInvalidTransition for rows that are not completed; in both cases no
// state changes.
func (l *Ledger) Rollback(ctx context.Context, videoID string) (string, error) {
	ctx, span := l.span(ctx, "Rollback", videoID)
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	row, err := repo.GetVideo(ctx, l.DB, videoID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if row.Status != domain.StatusCompleted {
		return "", ErrInvalidTransition
	}
	ok, err := repo.RollbackVideo(ctx, l.DB, videoID, l.now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidTransition
	}
	log.Debug().Str("video_id", videoID).Msg("ledger: rolled_back")
	return row.OriginalTitle, nil
}

// ListRollbackCandidates returns completed videos whose applied title differs
// from the original.
func (l *Ledger) ListRollbackCandidates(ctx context.Context) ([]domain.RollbackCandidate, error) {
	ctx, span := l.span(ctx, "ListRollbackCandidates", "")
	defer span.End()

	rows, err := repo.ListRollbackCandidates(ctx, l.DB)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RollbackCandidate, len(rows))
	for i, r := range rows {
		out[i] = domain.RollbackCandidate{
			VideoID:       r.VideoID,
			GameName:      r.GameName,
			BossName:      r.BossName,
			CurrentTitle:  r.NewTitle,
			OriginalTitle: r.OriginalTitle,
			UpdatedAt:     r.UpdatedAt,
		}
	}
	return out, nil
}

// Stats returns row counts per status.
func (l *Ledger) Stats(ctx context.Context) (map[domain.Status]int64, error) {
	return repo.CountVideosByStatus(ctx, l.DB)
}

// Games returns per-game totals.
func (l *Ledger) Games(ctx context.Context) ([]domain.GameSummary, error) {
	return repo.GamesSummary(ctx, l.DB)
}

// ListPage returns a page of ledger rows, optionally filtered by status,
// and the total count. page and pageSize are clamped.
func (l *Ledger) ListPage(ctx context.Context, status domain.Status, page, pageSize int) ([]domain.ProcessedVideo, int64, error) {
	page, pageSize = utils.ClampPage(page, pageSize)

	total, err := repo.CountVideos(ctx, l.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ProcessedVideo{}, 0, nil
	}
	items, err := repo.ListVideosPage(ctx, l.DB, status, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// explainMiss turns a transition that matched no row into ErrNotFound or
// ErrInvalidTransition.
func (l *Ledger) explainMiss(ctx context.Context, videoID string) error {
	_, err := repo.GetVideo(ctx, l.DB, videoID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}
