package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

func TestCacheEntry_UpsertTouchGet(t *testing.T) {
	db := newTestDB(t, &domain.BossCacheEntry{})
	ctx := context.Background()

	if _, err := GetCacheEntry(ctx, db, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty cache, got %v", err)
	}

	e := &domain.BossCacheEntry{CacheKey: "k", VideoID: "v", GameName: "Bloodborne", BossName: "Father Gascoigne", Source: domain.SourceThumbnail, CreatedAt: t0}
	if err := UpsertCacheEntry(ctx, db, e); err != nil {
		t.Fatalf("UpsertCacheEntry: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := TouchCacheEntry(ctx, db, "k", t0.Add(time.Minute)); err != nil {
			t.Fatalf("TouchCacheEntry: %v", err)
		}
	}
	got, err := GetCacheEntry(ctx, db, "k")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if got.AccessCount != 2 || got.LastAccessedAt == nil || got.BossName != "Father Gascoigne" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	// Overwrite resets creation time and counter.
	later := t0.Add(24 * time.Hour)
	e2 := &domain.BossCacheEntry{CacheKey: "k", VideoID: "v", GameName: "Bloodborne", BossName: "Vicar Amelia", Source: domain.SourceFrames, CreatedAt: later}
	if err := UpsertCacheEntry(ctx, db, e2); err != nil {
		t.Fatalf("UpsertCacheEntry overwrite: %v", err)
	}
	got, _ = GetCacheEntry(ctx, db, "k")
	if got.BossName != "Vicar Amelia" || got.Source != domain.SourceFrames || !got.CreatedAt.Equal(later) || got.AccessCount != 0 {
		t.Fatalf("overwrite not applied: %+v", got)
	}
}

func TestCacheEntry_AgesAndDeletes(t *testing.T) {
	db := newTestDB(t, &domain.BossCacheEntry{})
	ctx := context.Background()

	for i, k := range []string{"a", "b", "c"} {
		e := &domain.BossCacheEntry{CacheKey: k, VideoID: k, GameName: "g", BossName: "b", CreatedAt: t0.Add(time.Duration(i) * time.Hour)}
		if err := UpsertCacheEntry(ctx, db, e); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	ages, err := ListCacheAges(ctx, db)
	if err != nil || len(ages) != 3 {
		t.Fatalf("ListCacheAges: %v %+v", err, ages)
	}

	n, err := DeleteCacheEntries(ctx, db, []string{"a", "zzz"})
	if err != nil || n != 1 {
		t.Fatalf("DeleteCacheEntries: n=%d err=%v", n, err)
	}
	if n, err := DeleteCacheEntries(ctx, db, nil); err != nil || n != 0 {
		t.Fatalf("DeleteCacheEntries(nil): n=%d err=%v", n, err)
	}

	n, err = DeleteAllCacheEntries(ctx, db)
	if err != nil || n != 2 {
		t.Fatalf("DeleteAllCacheEntries: n=%d err=%v", n, err)
	}
}
