package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

func completedLedger(t *testing.T, ids ...string) *Ledger {
	t.Helper()
	l := newTestLedger(t, 3)
	ctx := context.Background()
	for _, id := range ids {
		if err := l.MarkProcessing(ctx, video(id), "Bloodborne", false); err != nil {
			t.Fatal(err)
		}
		if err := l.MarkCompleted(ctx, id, "Bloodborne: Cleric Beast Melee PS5", "Bloodborne", "Cleric Beast"); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func TestRollback_RestoresOriginalTitle(t *testing.T) {
	l := completedLedger(t, "V1")
	upd := &fakeUpdater{}
	sink := &recordingAudit{}
	svc := &RollbackService{Ledger: l, Updater: upd, Audit: sink}
	ctx := context.Background()

	original, err := svc.Rollback(ctx, "V1")
	if err != nil || original != "Bloodborne_20250321184741" {
		t.Fatalf("Rollback = %q, %v", original, err)
	}
	if upd.titles["V1"] != "Bloodborne_20250321184741" {
		t.Fatalf("title not restored: %v", upd.titles)
	}
	mustStatus(t, l, "V1", domain.StatusRolledBack)
	if len(sink.events) != 1 || sink.events[0].Action != domain.AuditRolledBack || sink.events[0].NewTitle == "" {
		t.Fatalf("audit: %+v", sink.events)
	}

	if _, err := svc.Rollback(ctx, "V1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second rollback: %v", err)
	}
	if upd.calls != 1 {
		t.Fatalf("updater called %d times", upd.calls)
	}
}

func TestRollback_UnknownVideo(t *testing.T) {
	l := completedLedger(t, "V1")
	upd := &fakeUpdater{}
	svc := &RollbackService{Ledger: l, Updater: upd}

	if _, err := svc.Rollback(context.Background(), "NOT_IN_DB"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if upd.calls != 0 || countRows(t, l) != 1 {
		t.Fatal("unknown video rollback had side effects")
	}
}

func TestRollback_UpdateFailureKeepsCompleted(t *testing.T) {
	l := completedLedger(t, "V1")
	svc := &RollbackService{Ledger: l, Updater: &fakeUpdater{err: errors.New("quota")}}

	if _, err := svc.Rollback(context.Background(), "V1"); err == nil {
		t.Fatal("expected error")
	}
	mustStatus(t, l, "V1", domain.StatusCompleted)
}

func TestRollbackAll_RestoresEveryCandidate(t *testing.T) {
	l := completedLedger(t, "V1", "V2", "V3")
	upd := &fakeUpdater{}
	svc := &RollbackService{Ledger: l, Updater: upd}
	ctx := context.Background()

	restored, failed, err := svc.RollbackAll(ctx)
	if err != nil || restored != 3 || failed != 0 {
		t.Fatalf("RollbackAll = %d, %d, %v", restored, failed, err)
	}
	if cands, _ := l.ListRollbackCandidates(ctx); len(cands) != 0 {
		t.Fatalf("candidates left: %+v", cands)
	}

	restored, failed, err = svc.RollbackAll(ctx)
	if err != nil || restored != 0 || failed != 0 {
		t.Fatalf("nothing left to roll back: %d, %d, %v", restored, failed, err)
	}
}

func TestRollbackAll_StopsOnCancel(t *testing.T) {
	l := completedLedger(t, "V1", "V2")
	svc := &RollbackService{Ledger: l, Updater: &fakeUpdater{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := svc.RollbackAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
