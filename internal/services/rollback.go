package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// ErrNothingToRollback is returned for completed rows whose applied title
// equals the original.
var ErrNothingToRollback = errors.New("video title was never changed")

// RollbackService restores original titles on YouTube and in the ledger.
type RollbackService struct {
	Ledger  *Ledger
	Updater TitleUpdater
	Audit   AuditSink
}

// Rollback restores videoID's original title and returns it. The ledger row
// only moves to rolled_back once the external rename has succeeded.
func (s *RollbackService) Rollback(ctx context.Context, videoID string) (string, error) {
	row, err := s.Ledger.Get(ctx, videoID)
	if err != nil {
		return "", err
	}
	if row.Status != domain.StatusCompleted {
		return "", fmt.Errorf("%w: video is %s", ErrInvalidTransition, row.Status)
	}
	if row.NewTitle == "" || row.NewTitle == row.OriginalTitle {
		return "", ErrNothingToRollback
	}

	if err := s.Updater.UpdateTitle(ctx, videoID, row.OriginalTitle); err != nil {
		return "", fmt.Errorf("restore title: %w", err)
	}
	original, err := s.Ledger.Rollback(context.WithoutCancel(ctx), videoID)
	if err != nil {
		return "", err
	}
	log.Info().Str("video_id", videoID).Str("title", original).Msg("rollback: title restored")

	if s.Audit != nil {
		ev := domain.AuditEvent{
			ID:            uuid.NewString(),
			Action:        domain.AuditRolledBack,
			At:            time.Now(),
			VideoID:       videoID,
			GameName:      row.GameName,
			BossName:      row.BossName,
			OriginalTitle: original,
			NewTitle:      row.NewTitle,
		}
		if err := s.Audit.Append(context.WithoutCancel(ctx), ev); err != nil {
			log.Warn().Err(err).Str("video_id", videoID).Msg("rollback: audit append failed")
		}
	}
	return original, nil
}

// RollbackAll restores every rollback candidate. Individual failures are
// logged and counted; only a failure to list candidates or cancellation is
// returned as an error.
func (s *RollbackService) RollbackAll(ctx context.Context) (restored, failed int, err error) {
	candidates, err := s.Ledger.ListRollbackCandidates(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range candidates {
		if ctx.Err() != nil {
			return restored, failed, ctx.Err()
		}
		if _, err := s.Rollback(ctx, c.VideoID); err != nil {
			log.Warn().Err(err).Str("video_id", c.VideoID).Msg("rollback: failed")
			failed++
			continue
		}
		restored++
	}
	return restored, failed, nil
}
