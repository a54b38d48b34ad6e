package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedVideo(t *testing.T, db *gorm.DB, v domain.ProcessedVideo) {
	t.Helper()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("seed %s: %v", v.VideoID, err)
	}
}

func TestCountVideosByStatus_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, err := CountVideosByStatus(context.Background(), db); err == nil {
		t.Fatalf("expected error due to missing table")
	}
}

func TestCountVideosByStatus_AllStatusesPresent(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedVideo{})

	seedVideo(t, db, domain.ProcessedVideo{VideoID: "a", OriginalTitle: "A", Status: domain.StatusPending})
	seedVideo(t, db, domain.ProcessedVideo{VideoID: "b", OriginalTitle: "B", Status: domain.StatusCompleted})
	seedVideo(t, db, domain.ProcessedVideo{VideoID: "c", OriginalTitle: "C", Status: domain.StatusCompleted})

	got, err := CountVideosByStatus(context.Background(), db)
	if err != nil {
		t.Fatalf("CountVideosByStatus: %v", err)
	}
	if len(got) != len(domain.AllStatuses) {
		t.Fatalf("expected %d keys, got %v", len(domain.AllStatuses), got)
	}
	if got[domain.StatusPending] != 1 || got[domain.StatusCompleted] != 2 || got[domain.StatusFailed] != 0 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestGamesSummary_GroupsAndOrders(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedVideo{})

	seedVideo(t, db, domain.ProcessedVideo{VideoID: "1", OriginalTitle: "x", GameName: "Bloodborne", Status: domain.StatusCompleted})
	seedVideo(t, db, domain.ProcessedVideo{VideoID: "2", OriginalTitle: "x", GameName: "Bloodborne", Status: domain.StatusFailed})
	seedVideo(t, db, domain.ProcessedVideo{VideoID: "3", OriginalTitle: "x", GameName: "Bloodborne", Status: domain.StatusCompleted})
	seedVideo(t, db, domain.ProcessedVideo{VideoID: "4", OriginalTitle: "x", GameName: "Astro Bot", Status: domain.StatusPending})
	seedVideo(t, db, domain.ProcessedVideo{VideoID: "5", OriginalTitle: "x", GameName: "", Status: domain.StatusPending})

	got, err := GamesSummary(context.Background(), db)
	if err != nil {
		t.Fatalf("GamesSummary: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 games (empty name skipped), got %+v", got)
	}
	if got[0].GameName != "Bloodborne" || got[0].Total != 3 || got[0].Completed != 2 {
		t.Fatalf("unexpected first row: %+v", got[0])
	}
	if got[1].GameName != "Astro Bot" || got[1].Total != 1 || got[1].Completed != 0 {
		t.Fatalf("unexpected second row: %+v", got[1])
	}
}
