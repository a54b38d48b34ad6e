// Command bosstitles renames default-titled PS5 boss-fight uploads on a
// YouTube channel to "<Game>: <Boss> PS5", identifying the boss with a vision
// model, recording every change in a local SQLite ledger so runs can resume
// and titles can be rolled back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/boss-title-updater/internal/config"
	"github.com/tbourn/boss-title-updater/internal/observability"
	"github.com/tbourn/boss-title-updater/internal/repo"
	"github.com/tbourn/boss-title-updater/internal/services"
	"github.com/tbourn/boss-title-updater/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

type options struct {
	ConfigPath string

	DryRun  bool
	Force   bool
	Resume  bool
	VideoID string
	Game    string
	Limit   int
	Workers int

	ListGames              bool
	ListRollbackCandidates bool
	Rollback               string
	RollbackAll            bool
	Yes                    bool
	ClearCache             bool
	Serve                  bool

	Verbose bool
	Quiet   bool
	Version bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("bosstitles", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.ConfigPath, "config", "", "YAML config file (default: CONFIG_FILE, then built-in defaults)")
	fs.BoolVar(&o.DryRun, "dry-run", false, "preview what would be done without making changes")
	fs.BoolVar(&o.Force, "force", false, "reprocess videos that were already processed")
	fs.BoolVar(&o.Resume, "resume", false, "resume interrupted, pending and failed videos from the ledger")
	fs.StringVar(&o.VideoID, "video-id", "", "process only this video ID")
	fs.StringVar(&o.Game, "game", "", "only videos whose game contains this text (case-insensitive)")
	fs.IntVar(&o.Limit, "limit", 0, "process at most N videos after filtering (0 = all)")
	fs.IntVar(&o.Workers, "workers", 0, "parallel workers (default: WORKERS or 1)")
	fs.BoolVar(&o.ListGames, "list-games", false, "list detected games with video counts and exit")
	fs.BoolVar(&o.ListRollbackCandidates, "list-rollback-candidates", false, "list videos whose title can be restored and exit")
	fs.StringVar(&o.Rollback, "rollback", "", "restore the original title of this video ID")
	fs.BoolVar(&o.RollbackAll, "rollback-all", false, "restore the original title of every updated video")
	fs.BoolVar(&o.Yes, "yes", false, "do not ask for confirmation")
	fs.BoolVar(&o.ClearCache, "clear-cache", false, "clear the boss identification cache and exit")
	fs.BoolVar(&o.Serve, "serve", false, "run only the read-only status server")
	fs.BoolVar(&o.Verbose, "verbose", false, "debug logging")
	fs.BoolVar(&o.Verbose, "v", false, "shorthand for --verbose")
	fs.BoolVar(&o.Quiet, "quiet", false, "warnings and errors only")
	fs.BoolVar(&o.Quiet, "q", false, "shorthand for --quiet")
	fs.BoolVar(&o.Version, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.Limit < 0 {
		return o, errors.New("--limit must be >= 0")
	}
	if o.Workers < 0 {
		return o, errors.New("--workers must be >= 1")
	}
	if o.Verbose && o.Quiet {
		return o, errors.New("--verbose and --quiet are mutually exclusive")
	}
	if o.Rollback != "" && o.RollbackAll {
		return o, errors.New("--rollback and --rollback-all are mutually exclusive")
	}
	return o, nil
}

// logLevel applies --verbose and --quiet over the configured level.
func (o options) logLevel(configured string) string {
	switch {
	case o.Verbose:
		return "debug"
	case o.Quiet:
		return "warn"
	}
	return configured
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	if opts.Version {
		fmt.Fprintln(stdout, "bosstitles", version)
		return exitOK
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(stderr, formatError(configCode(err), err))
		return exitError
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	sysutil.SetupLogger(stderr, opts.logLevel(cfg.LogLevel), cfg.LogPretty)
	gin.SetMode(cfg.Server.GinMode)
	log.Info().Str("version", version).Msg("bosstitles starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(stderr, formatError(codeConfigInvalid, fmt.Errorf("open database %s: %w", cfg.DBPath, err)))
		return exitError
	}
	defer repo.Close(db)
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("database tracing disabled")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		fmt.Fprintln(stderr, formatError(codeProcessing, fmt.Errorf("migrate database: %w", err)))
		return exitError
	}

	cache := services.NewIdentificationCache(db, cfg.Cache.Expiry)
	cache.Disabled = !cfg.Cache.Enabled

	a := &app{
		cfg:    cfg,
		opts:   opts,
		ledger: services.NewLedger(db, cfg.MaxVideoAttempts),
		cache:  cache,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	return a.exitCode(ctx, a.dispatch(ctx))
}
