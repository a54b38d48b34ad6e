// Package repo implements the data persistence layer for the processing
// ledger and identification cache, backed by GORM. This file provides thin
// repository functions for the ProcessedVideo model.
//
// All functions are context-aware and accept a *gorm.DB handle. They contain
// no business rules beyond the row-level conditions that make each state
// transition atomic: every transition is a single conditional UPDATE whose
// RowsAffected tells the caller whether it won.
//
// Error semantics:
//   - A missing row is reported as ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - Transition functions return (false, nil) when the row exists but is not
//     in a state the transition accepts; callers reload the row to find out why.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

func statusStrings(ss []domain.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// InsertVideoIfAbsent inserts a pending ledger row for id carrying the
// original title. An existing row is left untouched, which keeps
// original_title write-once. created reports whether a row was inserted.
func InsertVideoIfAbsent(ctx context.Context, db *gorm.DB, id, originalTitle, game string, now time.Time) (created bool, err error) {
	row := &domain.ProcessedVideo{
		VideoID:       id,
		OriginalTitle: originalTitle,
		GameName:      game,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "video_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetVideo fetches a ledger row by video ID or returns ErrNotFound.
func GetVideo(ctx context.Context, db *gorm.DB, id string) (*domain.ProcessedVideo, error) {
	var v domain.ProcessedVideo
	if err := db.WithContext(ctx).Where("video_id = ?", id).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// ClaimVideo moves a row to processing if its current status is one of from,
// or if it is failed with fewer than maxAttempts attempts (maxAttempts <= 0
// disables the failed branch). Claiming a completed or rolled_back row starts
// a fresh attempt: attempts, new_title and the error fields are reset.
//
// The update is a single statement, so of several concurrent callers at most
// one observes claimed == true.
func ClaimVideo(ctx context.Context, db *gorm.DB, id string, from []domain.Status, maxAttempts int, now time.Time) (claimed bool, err error) {
	q := db.WithContext(ctx).Model(&domain.ProcessedVideo{}).Where("video_id = ?", id)
	if maxAttempts > 0 {
		q = q.Where("(status IN ? OR (status = ? AND attempts < ?))",
			statusStrings(from), string(domain.StatusFailed), maxAttempts)
	} else {
		q = q.Where("status IN ?", statusStrings(from))
	}

	fresh := []string{string(domain.StatusCompleted), string(domain.StatusRolledBack)}
	res := q.Updates(map[string]any{
		"status":          string(domain.StatusProcessing),
		"attempts":        gorm.Expr("CASE WHEN status IN ? THEN 0 ELSE attempts END", fresh),
		"new_title":       gorm.Expr("CASE WHEN status IN ? THEN '' ELSE new_title END", fresh),
		"error_message":   "",
		"error_category":  "",
		"last_attempt_at": now,
		"updated_at":      now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteVideo moves a processing row to completed and stores the derived
// values. done is false when the row is not currently processing.
func CompleteVideo(ctx context.Context, db *gorm.DB, id, newTitle, game, boss string, now time.Time) (done bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.ProcessedVideo{}).
		Where("video_id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{
			"status":         string(domain.StatusCompleted),
			"new_title":      newTitle,
			"game_name":      game,
			"boss_name":      boss,
			"error_message":  "",
			"error_category": "",
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailVideo moves a processing row to failed, records the error and
// increments attempts.
func FailVideo(ctx context.Context, db *gorm.DB, id, message, category string, now time.Time) (done bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.ProcessedVideo{}).
		Where("video_id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{
			"status":         string(domain.StatusFailed),
			"attempts":       gorm.Expr("attempts + 1"),
			"error_message":  message,
			"error_category": category,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RequeueVideo moves an interrupted processing row back to pending.
func RequeueVideo(ctx context.Context, db *gorm.DB, id string, now time.Time) (done bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.ProcessedVideo{}).
		Where("video_id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{"status": string(domain.StatusPending), "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RollbackVideo moves a completed row to rolled_back.
func RollbackVideo(ctx context.Context, db *gorm.DB, id string, now time.Time) (done bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.ProcessedVideo{}).
		Where("video_id = ? AND status = ?", id, string(domain.StatusCompleted)).
		Updates(map[string]any{"status": string(domain.StatusRolledBack), "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListVideosByStatus returns rows in any of the given statuses, oldest first.
func ListVideosByStatus(ctx context.Context, db *gorm.DB, statuses ...domain.Status) ([]domain.ProcessedVideo, error) {
	var out []domain.ProcessedVideo
	err := db.WithContext(ctx).
		Where("status IN ?", statusStrings(statuses)).
		Order("created_at asc, video_id asc").
		Find(&out).Error
	return out, err
}

// ListRetryableVideos returns pending rows plus failed rows with fewer than
// maxAttempts attempts, oldest first.
func ListRetryableVideos(ctx context.Context, db *gorm.DB, maxAttempts int) ([]domain.ProcessedVideo, error) {
	var out []domain.ProcessedVideo
	err := db.WithContext(ctx).
		Where("status = ? OR (status = ? AND attempts < ?)",
			string(domain.StatusPending), string(domain.StatusFailed), maxAttempts).
		Order("created_at asc, video_id asc").
		Find(&out).Error
	return out, err
}

// CountVideos returns the number of rows, optionally filtered by status
// (empty status means all rows).
func CountVideos(ctx context.Context, db *gorm.DB, status domain.Status) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.ProcessedVideo{})
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	err := q.Count(&total).Error
	return total, err
}

// ListVideosPage returns a page of rows ordered by most recently updated.
// Use CountVideos with the same status for pagination metadata.
func ListVideosPage(ctx context.Context, db *gorm.DB, status domain.Status, offset, limit int) ([]domain.ProcessedVideo, error) {
	var out []domain.ProcessedVideo
	q := db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	err := q.Order("updated_at desc, video_id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListRollbackCandidates returns completed rows whose applied title differs
// from the stored original, most recently updated first.
func ListRollbackCandidates(ctx context.Context, db *gorm.DB) ([]domain.ProcessedVideo, error) {
	var out []domain.ProcessedVideo
	err := db.WithContext(ctx).
		Where("status = ? AND new_title <> '' AND new_title <> original_title", string(domain.StatusCompleted)).
		Order("updated_at desc, video_id asc").
		Find(&out).Error
	return out, err
}
