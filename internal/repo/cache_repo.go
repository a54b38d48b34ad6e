package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// CacheAge is the projection scanned by cache statistics.
type CacheAge struct {
	CacheKey    string
	CreatedAt   time.Time
	AccessCount int
}

// GetCacheEntry fetches a cache entry by key or returns ErrNotFound.
// Expiry is the caller's concern.
func GetCacheEntry(ctx context.Context, db *gorm.DB, key string) (*domain.BossCacheEntry, error) {
	var e domain.BossCacheEntry
	if err := db.WithContext(ctx).Where("cache_key = ?", key).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertCacheEntry inserts e or replaces the boss, source and creation time of
// an existing entry with the same key. The access counter restarts at zero.
func UpsertCacheEntry(ctx context.Context, db *gorm.DB, e *domain.BossCacheEntry) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"video_id", "game_name", "boss_name", "source", "created_at", "access_count", "last_accessed_at",
			}),
		}).
		Create(e).Error
}

// TouchCacheEntry increments the access counter of key and stamps the access
// time.
func TouchCacheEntry(ctx context.Context, db *gorm.DB, key string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.BossCacheEntry{}).
		Where("cache_key = ?", key).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": now,
		}).Error
}

// ListCacheAges returns key, creation time and access count for every entry.
func ListCacheAges(ctx context.Context, db *gorm.DB) ([]CacheAge, error) {
	var out []CacheAge
	err := db.WithContext(ctx).
		Model(&domain.BossCacheEntry{}).
		Select("cache_key, created_at, access_count").
		Scan(&out).Error
	return out, err
}

// DeleteCacheEntries removes the given keys and returns how many rows went.
func DeleteCacheEntries(ctx context.Context, db *gorm.DB, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("cache_key IN ?", keys).Delete(&domain.BossCacheEntry{})
	return res.RowsAffected, res.Error
}

// DeleteAllCacheEntries empties the cache table.
func DeleteAllCacheEntries(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.BossCacheEntry{})
	return res.RowsAffected, res.Error
}
