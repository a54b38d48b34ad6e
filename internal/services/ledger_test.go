package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/observability"
	"github.com/tbourn/boss-title-updater/internal/repo"
)

// ---------- test helpers ----------

var t0 = time.Date(2025, 3, 21, 18, 47, 41, 0, time.UTC)

func newLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps the shared in-memory DB free of table locks when
	// the pipeline runs several workers.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T, maxAttempts int) *Ledger {
	t.Helper()
	l := NewLedger(newLedgerDB(t), maxAttempts)
	l.Now = func() time.Time { return t0 }
	return l
}

func video(id string) domain.Video {
	return domain.Video{ID: id, Title: "Bloodborne_20250321184741"}
}

func mustStatus(t *testing.T, l *Ledger, id string, want domain.Status) {
	t.Helper()
	got, ok, err := l.GetStatus(context.Background(), id)
	if err != nil || !ok || got != want {
		t.Fatalf("status(%s) = %q ok=%v err=%v; want %q", id, got, ok, err, want)
	}
}

func countRows(t *testing.T, l *Ledger) int64 {
	t.Helper()
	var n int64
	if err := l.DB.Model(&domain.ProcessedVideo{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

// ---------- tests ----------

func TestLedger_HappyPathTransitions(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	if _, ok, err := l.GetStatus(ctx, "V1"); ok || err != nil {
		t.Fatalf("absent video should report ok=false, err=nil (got ok=%v err=%v)", ok, err)
	}
	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", false); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	mustStatus(t, l, "V1", domain.StatusProcessing)

	if err := l.MarkCompleted(ctx, "V1", "Bloodborne: Father Gascoigne Melee PS5", "Bloodborne", "Father Gascoigne"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	row, _ := l.Get(ctx, "V1")
	if row.Status != domain.StatusCompleted || row.BossName != "Father Gascoigne" || row.OriginalTitle != "Bloodborne_20250321184741" {
		t.Fatalf("unexpected row: %+v", row)
	}

	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", false); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("completed video should not be reclaimed without force, got %v", err)
	}
	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", true); err != nil {
		t.Fatalf("force reclaim: %v", err)
	}
}

func TestLedger_TransitionsRequireProcessing(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	if err := l.MarkCompleted(ctx, "NOPE", "x", "g", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete unknown: %v", err)
	}
	if _, err := l.Register(ctx, video("V1"), "Bloodborne"); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkFailed(ctx, "V1", "boom", CategoryInternal); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fail pending row: %v", err)
	}
	mustStatus(t, l, "V1", domain.StatusPending)
}

func TestLedger_OriginalTitleWrittenOnce(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	_ = l.MarkProcessing(ctx, video("V1"), "Bloodborne", false)
	_ = l.MarkFailed(ctx, "V1", "boom", CategoryTransientExternal)

	renamed := domain.Video{ID: "V1", Title: "Something Else"}
	if err := l.MarkProcessing(ctx, renamed, "Bloodborne", false); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	row, _ := l.Get(ctx, "V1")
	if row.OriginalTitle != "Bloodborne_20250321184741" {
		t.Fatalf("original title overwritten: %q", row.OriginalTitle)
	}
}

func TestLedger_AttemptCap(t *testing.T) {
	l := newTestLedger(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", false); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if err := l.MarkFailed(ctx, "V1", "rate limited", CategoryTransientExternal); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", false); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	row, _ := l.Get(ctx, "V1")
	if row.Attempts != 2 || row.ErrorCategory != CategoryTransientExternal {
		t.Fatalf("unexpected row: %+v", row)
	}
	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", true); err != nil {
		t.Fatalf("force should lift the cap: %v", err)
	}
}

func TestLedger_ConcurrentClaimHasOneWinner(t *testing.T) {
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	l := NewLedger(db, 3)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.MarkProcessing(context.Background(), video("V1"), "Bloodborne", false)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyInFlight):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestLedger_ResumeCandidates(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	_ = l.MarkProcessing(ctx, video("DONE"), "Bloodborne", false)
	_ = l.MarkCompleted(ctx, "DONE", "Bloodborne: X PS5", "Bloodborne", "X")
	if _, err := l.Register(ctx, video("CRASHED"), "Bloodborne"); err != nil {
		t.Fatal(err)
	}
	if err := l.DB.Model(&domain.ProcessedVideo{}).Where("video_id = ?", "CRASHED").
		Update("status", domain.StatusProcessing).Error; err != nil {
		t.Fatal(err)
	}

	ids, err := l.ResumeCandidates(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "CRASHED" {
		t.Fatalf("ResumeCandidates = %v, %v", ids, err)
	}
	if n, err := l.Requeue(ctx, ids); err != nil || n != 1 {
		t.Fatalf("Requeue = %d, %v", n, err)
	}
	mustStatus(t, l, "CRASHED", domain.StatusPending)
}

func TestLedger_RollbackNotFoundLeavesLedgerUnchanged(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()
	_ = l.MarkProcessing(ctx, video("V1"), "Bloodborne", false)

	before := countRows(t, l)
	if _, err := l.Rollback(ctx, "NOT_IN_DB"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if after := countRows(t, l); after != before {
		t.Fatalf("row count changed: %d -> %d", before, after)
	}
}

func TestLedger_RollbackAndReprocess(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	_ = l.MarkProcessing(ctx, video("V1"), "Bloodborne", false)
	if _, err := l.Rollback(ctx, "V1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rollback of processing row: %v", err)
	}
	_ = l.MarkCompleted(ctx, "V1", "Bloodborne: Vicar Amelia Melee PS5", "Bloodborne", "Vicar Amelia")

	cands, err := l.ListRollbackCandidates(ctx)
	if err != nil || len(cands) != 1 || cands[0].CurrentTitle != "Bloodborne: Vicar Amelia Melee PS5" {
		t.Fatalf("ListRollbackCandidates = %+v, %v", cands, err)
	}

	original, err := l.Rollback(ctx, "V1")
	if err != nil || original != "Bloodborne_20250321184741" {
		t.Fatalf("Rollback = %q, %v", original, err)
	}
	mustStatus(t, l, "V1", domain.StatusRolledBack)
	if cands, _ := l.ListRollbackCandidates(ctx); len(cands) != 0 {
		t.Fatalf("rolled back video still a candidate: %+v", cands)
	}

	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", false); err != nil {
		t.Fatalf("reprocess after rollback: %v", err)
	}
	row, _ := l.Get(ctx, "V1")
	if row.Attempts != 0 || row.NewTitle != "" || countRows(t, l) != 1 {
		t.Fatalf("reprocess should reset the row in place: %+v", row)
	}
}

func TestLedger_ListPageAndStats(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := l.Register(ctx, video(fmt.Sprintf("V%d", i)), "Bloodborne"); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.MarkProcessing(ctx, video("V0"), "Bloodborne", false)

	items, total, err := l.ListPage(ctx, domain.StatusPending, 2, 3)
	if err != nil || total != 4 || len(items) != 1 {
		t.Fatalf("ListPage = %d items, total %d, %v", len(items), total, err)
	}
	stats, err := l.Stats(ctx)
	if err != nil || stats[domain.StatusPending] != 4 || stats[domain.StatusProcessing] != 1 || stats[domain.StatusFailed] != 0 {
		t.Fatalf("Stats = %v, %v", stats, err)
	}
}

func TestLedger_SpansJoinRunTrace(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	l := newTestLedger(t, 3)
	ctx, run := observability.StartRun(context.Background(), "run-1", 1, false)
	if err := l.MarkProcessing(ctx, video("V1"), "Bloodborne", false); err != nil {
		t.Fatal(err)
	}
	observability.EndRun(run, 0, 0, 0, 0)

	var found bool
	for _, s := range rec.Ended() {
		if s.Name() != "MarkProcessing" {
			continue
		}
		found = true
		if s.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Fatal("MarkProcessing span is not a child of the run span")
		}
		if !strings.HasSuffix(s.InstrumentationScope().Name, "services/ledger") {
			t.Fatalf("scope = %q", s.InstrumentationScope().Name)
		}
	}
	if !found {
		t.Fatal("no MarkProcessing span recorded")
	}
}
