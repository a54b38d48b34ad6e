package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/repo"
)

// DefaultCacheExpiry is the identification cache window used when none is
// configured.
const DefaultCacheExpiry = 30 * 24 * time.Hour

// CacheKey is the deterministic fingerprint of (videoID, game).
func CacheKey(videoID, game string) string {
	sum := sha256.Sum256([]byte(videoID + ":" + strings.TrimSpace(game)))
	return hex.EncodeToString(sum[:])
}

// IdentificationCache memoizes boss identifications per (video, game).
//
// An entry is a hit only while now - created_at < Expiry. Expired rows are
// misses but stay in the table until PurgeExpired or ClearAll, so Stats can
// still count them.
type IdentificationCache struct {
	DB     *gorm.DB
	Expiry time.Duration
	// Disabled turns Lookup into a permanent miss and Store into a no-op.
	Disabled bool
	Now      func() time.Time
}

// NewIdentificationCache constructs a cache with the given expiry window.
func NewIdentificationCache(db *gorm.DB, expiry time.Duration) *IdentificationCache {
	if expiry <= 0 {
		expiry = DefaultCacheExpiry
	}
	return &IdentificationCache{DB: db, Expiry: expiry}
}

func (c *IdentificationCache) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *IdentificationCache) expired(createdAt, now time.Time) bool {
	return now.Sub(createdAt) >= c.Expiry
}

// Lookup returns the live entry for (videoID, game). A hit increments the
// entry's access counter; a failure to do so is logged and the hit still
// served.
func (c *IdentificationCache) Lookup(ctx context.Context, videoID, game string) (*domain.BossCacheEntry, bool, error) {
	e, ok, err := c.Peek(ctx, videoID, game)
	if err != nil || !ok {
		return nil, false, err
	}
	now := c.now()
	if err := repo.TouchCacheEntry(ctx, c.DB, e.CacheKey, now); err != nil {
		log.Warn().Err(err).Str("video_id", videoID).Msg("cache: access counter not updated")
	} else {
		e.AccessCount++
		e.LastAccessedAt = &now
	}
	return e, true, nil
}

// Peek is Lookup without the access bookkeeping, for dry runs.
func (c *IdentificationCache) Peek(ctx context.Context, videoID, game string) (*domain.BossCacheEntry, bool, error) {
	if c.Disabled {
		return nil, false, nil
	}
	e, err := repo.GetCacheEntry(ctx, c.DB, CacheKey(videoID, game))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if c.expired(e.CreatedAt, c.now()) {
		return nil, false, nil
	}
	return e, true, nil
}

// Store inserts or replaces the entry for (videoID, game), resetting its
// creation time.
func (c *IdentificationCache) Store(ctx context.Context, videoID, game, boss, source string) error {
	if c.Disabled {
		return nil
	}
	return repo.UpsertCacheEntry(ctx, c.DB, &domain.BossCacheEntry{
		CacheKey:  CacheKey(videoID, game),
		VideoID:   videoID,
		GameName:  strings.TrimSpace(game),
		BossName:  boss,
		Source:    source,
		CreatedAt: c.now(),
	})
}

// Stats computes total, active and expired counts in a single pass.
func (c *IdentificationCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	rows, err := repo.ListCacheAges(ctx, c.DB)
	if err != nil {
		return domain.CacheStats{}, err
	}
	now := c.now()
	var st domain.CacheStats
	for _, r := range rows {
		st.Total++
		if c.expired(r.CreatedAt, now) {
			st.Expired++
		} else {
			st.Active++
		}
		if r.AccessCount > st.MaxAccessed {
			st.MaxAccessed = r.AccessCount
		}
	}
	return st, nil
}

// ClearAll deletes every entry and reports how many were removed and how
// many of those had already expired.
func (c *IdentificationCache) ClearAll(ctx context.Context) (total, expired int64, err error) {
	st, err := c.Stats(ctx)
	if err != nil {
		return 0, 0, err
	}
	total, err = repo.DeleteAllCacheEntries(ctx, c.DB)
	if err != nil {
		return 0, 0, err
	}
	if st.Expired > total {
		st.Expired = total
	}
	return total, st.Expired, nil
}

// PurgeExpired is the explicit sweep that removes expired entries.
func (c *IdentificationCache) PurgeExpired(ctx context.Context) (int64, error) {
	rows, err := repo.ListCacheAges(ctx, c.DB)
	if err != nil {
		return 0, err
	}
	now := c.now()
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		if c.expired(r.CreatedAt, now) {
			keys = append(keys, r.CacheKey)
		}
	}
	return repo.DeleteCacheEntries(ctx, c.DB, keys)
}
