package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/tbourn/boss-title-updater/internal/config"
	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/media"
	"github.com/tbourn/boss-title-updater/internal/repo"
	"github.com/tbourn/boss-title-updater/internal/services"
	"github.com/tbourn/boss-title-updater/internal/youtube"
)

func TestMain(m *testing.M) {
	for _, k := range []string{"CONFIG_FILE", "OPENAI_API_KEY", "GEMINI_API_KEY", "IDENTIFY_PROVIDER", "OTEL_ENABLED", "DB_PATH"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	o, err := parseFlags([]string{"--dry-run", "--game", "blood", "--limit", "5", "--workers", "3", "-v"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if !o.DryRun || o.Game != "blood" || o.Limit != 5 || o.Workers != 3 || !o.Verbose {
		t.Fatalf("unexpected options: %+v", o)
	}
	if o.logLevel("info") != "debug" {
		t.Fatal("--verbose should force debug")
	}
	if (options{Quiet: true}).logLevel("info") != "warn" || (options{}).logLevel("error") != "error" {
		t.Fatal("logLevel mapping")
	}

	bad := [][]string{
		{"--limit", "-1"},
		{"--workers", "-2"},
		{"--verbose", "--quiet"},
		{"--rollback", "V1", "--rollback-all"},
		{"stray"},
		{"--nope"},
	}
	for _, args := range bad {
		if _, err := parseFlags(args, &stderr); err == nil {
			t.Errorf("parseFlags(%v) should fail", args)
		}
	}
	if _, err := parseFlags([]string{"-h"}, &stderr); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("-h: %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{withCode(codeSheetsAPI, youtube.ErrQuotaExceeded), codeSheetsAPI},
		{fmt.Errorf("x: %w", youtube.ErrClientSecretMissing), codeClientSecret},
		{youtube.ErrAuthorization, codeAuthFailed},
		{fmt.Errorf("%w: set OPENAI_API_KEY", config.ErrMissingAPIKey), codeConfigInvalid},
		{youtube.ErrQuotaExceeded, codeRateLimit},
		{services.ErrUnidentified, codeUnidentified},
		{youtube.ErrVideoNotFound, codeVideoNotFound},
		{services.ErrNotFound, codeVideoNotFound},
		{fmt.Errorf("yt-dlp: %w", media.ErrBinaryNotFound), codeFrameExtraction},
		{&googleapi.Error{Code: 500}, codeYouTubeAPI},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, codeNetwork},
		{errors.New("boom"), codeProcessing},
	}
	for _, c := range cases {
		if got := diagnose(c.err); got != c.want {
			t.Errorf("diagnose(%v) = %s, want %s", c.err, got, c.want)
		}
	}
	if withCode(codeNetwork, nil) != nil {
		t.Fatal("withCode(nil) must be nil")
	}
}

func TestFormatError(t *testing.T) {
	out := formatError(codeClientSecret, errors.New("client_secret.json missing"))
	for _, want := range []string{"[E004]", "Details: client_secret.json missing", "Hint:", "Docs: https://console.cloud.google.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if out := formatError(codeProcessing, nil); strings.Contains(out, "Details") || strings.Contains(out, "Docs") {
		t.Fatalf("unexpected sections:\n%s", out)
	}
	for code := range errorCatalog {
		if !strings.HasPrefix(code, "E0") || errorCatalog[code].Message == "" {
			t.Errorf("bad catalog entry %s", code)
		}
	}
	if len(errorCatalog) != 15 {
		t.Fatalf("catalog has %d codes", len(errorCatalog))
	}
}

func TestConfigCode(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yml"))
	if got := configCode(err); got != codeConfigNotFound {
		t.Fatalf("missing file -> %s", got)
	}
	if got := configCode(errors.New("WORKERS must be >= 1")); got != codeConfigInvalid {
		t.Fatalf("invalid -> %s", got)
	}
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	a := &app{stdin: strings.NewReader("yes\n"), stdout: &out}
	if !a.confirm("Go?") || !strings.Contains(out.String(), "Go? [y/N]") {
		t.Fatalf("yes not accepted: %q", out.String())
	}
	a.stdin = strings.NewReader("n\n")
	if a.confirm("Go?") {
		t.Fatal("n accepted")
	}
	a.stdin = strings.NewReader("")
	if a.confirm("Go?") {
		t.Fatal("EOF accepted")
	}
	a.opts.Yes = true
	if !a.confirm("Go?") {
		t.Fatal("--yes should skip the prompt")
	}
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	a := &app{stderr: &stderr}
	ctx := context.Background()

	if a.exitCode(ctx, nil) != exitOK {
		t.Fatal("nil error")
	}
	if a.exitCode(ctx, errPartial) != exitError || stderr.Len() != 0 {
		t.Fatal("partial failure should exit 1 quietly")
	}
	if a.exitCode(ctx, youtube.ErrQuotaExceeded) != exitError || !strings.Contains(stderr.String(), "[E005]") {
		t.Fatalf("quota: %s", stderr.String())
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if a.exitCode(cctx, context.Canceled) != exitInterrupted {
		t.Fatal("interrupt should exit 130")
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &services.Summary{
		RunID: "run-1", Total: 2, Completed: 1, Failed: 1, Duration: 1500 * time.Millisecond,
		Results: []services.Result{
			{VideoID: "V1", Game: "Bloodborne", Outcome: services.OutcomeCompleted},
			{VideoID: "V2", Game: "Astro Bot", Outcome: services.OutcomeFailed, Category: services.CategoryUnidentified, Err: services.ErrUnidentified},
		},
	})
	s := out.String()
	for _, want := range []string{"Completed 1, failed 1", "V2", "E006", "unidentified"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}

	out.Reset()
	printSummary(&out, &services.Summary{DryRun: true, Planned: 1, Results: []services.Result{
		{VideoID: "V1", Game: "Bloodborne", Outcome: services.OutcomePlanned},
	}})
	if !strings.Contains(out.String(), "(needs identification)") {
		t.Fatalf("dry run table:\n%s", out.String())
	}
}

func TestPrintPreRunAndGames(t *testing.T) {
	var out bytes.Buffer
	printPreRun(&out, map[domain.Status]int64{domain.StatusCompleted: 4}, domain.CacheStats{Active: 2, Expired: 1}, services.EstimateCost(10))
	s := out.String()
	for _, want := range []string{"completed", "4", "2 active, 1 expired", "10 videos", "$0.070"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}

	out.Reset()
	printGames(&out, []services.GameCount{{Game: "Bloodborne", Count: 3, Melee: true}, {Game: "Astro Bot", Count: 1}})
	if !strings.Contains(out.String(), "2 games, 4 videos") {
		t.Fatalf("games:\n%s", out.String())
	}
}

// seedDB creates a database file with one completed video and one cache
// entry.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	l := services.NewLedger(db, 3)
	if err := l.MarkProcessing(ctx, domain.Video{ID: "V1", Title: "Bloodborne_20250321184741"}, "Bloodborne", false); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkCompleted(ctx, "V1", "Bloodborne: Cleric Beast Melee PS5", "Bloodborne", "Cleric Beast"); err != nil {
		t.Fatal(err)
	}
	if err := services.NewIdentificationCache(db, services.DefaultCacheExpiry).Store(ctx, "V1", "Bloodborne", "Cleric Beast", domain.SourceThumbnail); err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(db); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_LocalCommands(t *testing.T) {
	t.Setenv("DB_PATH", seedDB(t))
	var stdout, stderr bytes.Buffer

	if code := run([]string{"--list-rollback-candidates"}, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("list exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Bloodborne: Cleric Beast Melee PS5") {
		t.Fatalf("candidates:\n%s", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"--clear-cache", "-q"}, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("clear exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Cleared 1 cache entries (0 were expired)") {
		t.Fatalf("clear output: %q", stdout.String())
	}
}

func TestRun_StartupFailures(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	var stdout, stderr bytes.Buffer

	if code := run([]string{"--version"}, nil, &stdout, &stderr); code != exitOK || !strings.Contains(stdout.String(), "bosstitles") {
		t.Fatalf("--version: %d %q", code, stdout.String())
	}
	if code := run([]string{"--limit", "-3"}, nil, &stdout, &stderr); code != exitError {
		t.Fatalf("bad flag exit %d", code)
	}

	stderr.Reset()
	if code := run([]string{"--config", filepath.Join(t.TempDir(), "nope.yml")}, nil, &stdout, &stderr); code != exitError {
		t.Fatalf("missing config exit %d", code)
	}
	if !strings.Contains(stderr.String(), "[E002]") {
		t.Fatalf("expected E002, got:\n%s", stderr.String())
	}

	// A processing run without a vision key stops before any network call.
	stderr.Reset()
	if code := run([]string{"-q"}, nil, &stdout, &stderr); code != exitError {
		t.Fatalf("no key exit %d", code)
	}
	if !strings.Contains(stderr.String(), "[E003]") || !strings.Contains(stderr.String(), "OPENAI_API_KEY") {
		t.Fatalf("expected E003, got:\n%s", stderr.String())
	}
}

func TestRun_RollbackUnknownVideoNeedsNoCredentials(t *testing.T) {
	t.Setenv("DB_PATH", seedDB(t))
	t.Setenv("YOUTUBE_CLIENT_SECRET", filepath.Join(t.TempDir(), "absent.json"))
	var stdout, stderr bytes.Buffer

	if code := run([]string{"--rollback", "NOT_IN_DB", "--yes", "-q"}, strings.NewReader(""), &stdout, &stderr); code != exitError {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stderr.String(), "[E007]") || strings.Contains(stderr.String(), "[E004]") {
		t.Fatalf("expected not-found, got:\n%s", stderr.String())
	}
}
