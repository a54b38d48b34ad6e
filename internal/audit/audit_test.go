package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/retry"
)

func TestRow_TabsAndTruncation(t *testing.T) {
	at := time.Date(2025, 3, 21, 18, 47, 41, 0, time.Local)

	tab, row := Row(domain.AuditEvent{
		Action: domain.AuditCompleted, At: at, VideoID: "V1",
		OriginalTitle: "Bloodborne_20250321184741", NewTitle: "Bloodborne: Father Gascoigne Melee PS5",
		PlaylistName: "Bloodborne", PlaylistID: "PL1",
	})
	if tab != TabProcessed || row[0] != "2025-03-21 18:47:41" || row[5] != "https://www.youtube.com/playlist?list=PL1" {
		t.Fatalf("completed row: %s %v", tab, row)
	}

	long := strings.Repeat("x", 600)
	tab, row = Row(domain.AuditEvent{Action: domain.AuditFailed, At: at, VideoID: "V2", Category: "unidentified", Message: long, Attempts: 3})
	if tab != TabErrors || row[4] != "unidentified" || row[6] != 3 {
		t.Fatalf("failed row: %s %v", tab, row)
	}
	if msg := row[5].(string); len(msg) != MaxMessageLen+3 || !strings.HasSuffix(msg, "...") {
		t.Fatalf("message not truncated: %d chars", len(msg))
	}

	_, row = Row(domain.AuditEvent{Action: domain.AuditRolledBack, At: at, VideoID: "V1", NewTitle: "x", OriginalTitle: "y"})
	if row[3] != "ROLLBACK" {
		t.Fatalf("rollback row: %v", row)
	}
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, domain.AuditEvent) error { return f.err }

func TestMulti_TriesEverySink(t *testing.T) {
	mem := &Memory{}
	boom := errors.New("boom")
	err := Multi{failingSink{boom}, nil, mem}.Append(context.Background(), domain.AuditEvent{Action: domain.AuditCompleted, VideoID: "V1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(mem.Events) != 1 || mem.Events[0].ID == "" || mem.Events[0].At.IsZero() {
		t.Fatalf("event not normalized/delivered: %+v", mem.Events)
	}
}

func TestLogSink_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	s := &LogSink{Logger: zerolog.New(&buf)}
	if err := s.Append(context.Background(), domain.AuditEvent{Action: domain.AuditFailed, VideoID: "V9", Category: "permanent_external"}); err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if line["level"] != "warn" || line["video_id"] != "V9" || line["category"] != "permanent_external" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

type fakeSheets struct {
	mu      sync.Mutex
	appends []string
	adds    int
	fail    int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(r.URL.Path, ":append"):
		if f.fail > 0 {
			f.fail--
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"unavailable"}}`))
			return
		}
		if r.URL.Query().Get("valueInputOption") != "USER_ENTERED" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(r.Body)
		f.appends = append(f.appends, r.URL.Path+" "+string(b))
		_, _ = w.Write([]byte(`{}`))
	case strings.Contains(r.URL.Path, ":batchUpdate"):
		f.adds++
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost:
		_, _ = w.Write([]byte(`{"spreadsheetId":"NEW","spreadsheetUrl":"https://sheets/NEW"}`))
	default:
		_, _ = w.Write([]byte(`{"sheets":[{"properties":{"title":"Processed Videos"}}]}`))
	}
}

func newTestSink(t *testing.T, f *fakeSheets, id string) *SheetsSink {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := NewSheetsSink(context.Background(), id, "Boss Titles", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	s.Retry = retry.Config{MaxAttempts: 3}
	return s
}

func TestSheetsSink_EnsureAddsMissingTab(t *testing.T) {
	f := &fakeSheets{}
	s := newTestSink(t, f, "SHEET")
	id, err := s.Ensure(context.Background())
	if err != nil || id != "SHEET" {
		t.Fatalf("Ensure = %q, %v", id, err)
	}
	if f.adds != 1 || len(f.appends) != 1 || !strings.Contains(f.appends[0], "Error Message") {
		t.Fatalf("expected Errors tab with header, adds=%d appends=%v", f.adds, f.appends)
	}
}

func TestSheetsSink_EnsureCreatesSpreadsheet(t *testing.T) {
	f := &fakeSheets{}
	s := newTestSink(t, f, "")
	id, err := s.Ensure(context.Background())
	if err != nil || id != "NEW" {
		t.Fatalf("Ensure = %q, %v", id, err)
	}
	if len(f.appends) != 2 {
		t.Fatalf("expected two header rows, got %d", len(f.appends))
	}
}

func TestSheetsSink_AppendRetriesTransient(t *testing.T) {
	f := &fakeSheets{fail: 1}
	s := newTestSink(t, f, "SHEET")
	err := s.Append(context.Background(), domain.AuditEvent{Action: domain.AuditCompleted, VideoID: "V1", NewTitle: "Bloodborne: X PS5"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(f.appends) != 1 || !strings.Contains(f.appends[0], "Bloodborne: X PS5") {
		t.Fatalf("row not appended: %v", f.appends)
	}
}
