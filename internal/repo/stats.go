// Package repo implements the data persistence layer for the processing
// ledger and identification cache, backed by GORM. This file provides small
// aggregate queries used by the pre-run report and the status server.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// CountVideosByStatus returns the number of ledger rows per status. Every
// known status is present in the result, with zero when no rows match.
func CountVideosByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.ProcessedVideo{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		out[s] = 0
	}
	for _, r := range rows {
		out[domain.Status(r.Status)] = r.N
	}
	return out, nil
}

// GamesSummary groups ledger rows by game with total and completed counts,
// ordered by total descending then name.
func GamesSummary(ctx context.Context, db *gorm.DB) ([]domain.GameSummary, error) {
	var out []domain.GameSummary
	err := db.WithContext(ctx).
		Model(&domain.ProcessedVideo{}).
		Select("game_name, COUNT(*) AS total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed",
			string(domain.StatusCompleted)).
		Where("game_name <> ''").
		Group("game_name").
		Order("total desc, game_name asc").
		Scan(&out).Error
	return out, err
}
