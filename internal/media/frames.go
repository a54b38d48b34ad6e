// Package media extracts still frames from uploaded videos with yt-dlp and
// ffmpeg so the vision model can look at the fight itself when the
// thumbnail is not enough.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/boss-title-updater/internal/retry"
)

const (
	defaultYtdlpPath     = "yt-dlp"
	defaultFFmpegPath    = "ffmpeg"
	defaultQuality       = "worst[ext=mp4]"
	defaultSection       = "*0-90"
	defaultDownloadLimit = 5 * time.Minute
	defaultFrameTimeout  = 10 * time.Second
)

// ErrBinaryNotFound means yt-dlp or ffmpeg is not installed.
var ErrBinaryNotFound = errors.New("required binary not found")

// Runner executes a command and returns its combined stderr on failure.
// Tests replace it.
type Runner func(ctx context.Context, name string, args ...string) (stderr string, err error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// FrameExtractor downloads the start of a video and grabs JPEG frames at
// fixed offsets.
type FrameExtractor struct {
	YtdlpPath  string
	FFmpegPath string
	// Quality is the yt-dlp format selector.
	Quality string
	// Timestamps are frame offsets into the video.
	Timestamps []time.Duration
	// DownloadTimeout bounds the yt-dlp call; FrameTimeout bounds each ffmpeg call.
	DownloadTimeout time.Duration
	FrameTimeout    time.Duration
	// TempDir is where the working directory is created (os.TempDir when empty).
	TempDir string

	Run      Runner
	LookPath func(string) (string, error)
}

// NewFrameExtractor returns an extractor with the default binaries and
// limits.
func NewFrameExtractor(timestamps []time.Duration) *FrameExtractor {
	return &FrameExtractor{
		YtdlpPath:       defaultYtdlpPath,
		FFmpegPath:      defaultFFmpegPath,
		Quality:         defaultQuality,
		Timestamps:      timestamps,
		DownloadTimeout: defaultDownloadLimit,
		FrameTimeout:    defaultFrameTimeout,
	}
}

// DefaultTimestamps are the frame offsets used when none are configured.
func DefaultTimestamps() []time.Duration {
	return []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 45 * time.Second, 60 * time.Second}
}

func (x *FrameExtractor) run() Runner {
	if x.Run != nil {
		return x.Run
	}
	return execRunner
}

func (x *FrameExtractor) lookPath(name string) error {
	lp := x.LookPath
	if lp == nil {
		lp = exec.LookPath
	}
	if _, err := lp(name); err != nil {
		return retry.Permanent(fmt.Errorf("%w: %s", ErrBinaryNotFound, name))
	}
	return nil
}

// CheckInstalled verifies both binaries are on PATH.
func (x *FrameExtractor) CheckInstalled() error {
	if err := x.lookPath(orDefault(x.YtdlpPath, defaultYtdlpPath)); err != nil {
		return err
	}
	return x.lookPath(orDefault(x.FFmpegPath, defaultFFmpegPath))
}

// Frames implements identify.FrameSource. Frames that fail to extract are
// skipped; an empty result with a nil error means none could be taken.
func (x *FrameExtractor) Frames(ctx context.Context, videoID string) ([]string, error) {
	if err := x.CheckInstalled(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(x.TempDir, "bosstitles-"+sanitize(videoID)+"-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	videoPath := filepath.Join(dir, "video.mp4")
	if err := x.download(ctx, videoID, videoPath); err != nil {
		return nil, err
	}

	timestamps := x.Timestamps
	if len(timestamps) == 0 {
		timestamps = DefaultTimestamps()
	}

	frames := make([]string, 0, len(timestamps))
	for i, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(dir, fmt.Sprintf("frame_%d.jpg", i))
		if err := x.extract(ctx, videoPath, ts, out); err != nil {
			log.Debug().Err(err).Str("video_id", videoID).Dur("at", ts).Msg("media: frame skipped")
			continue
		}
		data, err := os.ReadFile(out)
		if err != nil || len(data) == 0 {
			continue
		}
		frames = append(frames, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(data))
	}
	log.Debug().Str("video_id", videoID).Int("frames", len(frames)).Msg("media: frames extracted")
	return frames, nil
}

func (x *FrameExtractor) download(ctx context.Context, videoID, out string) error {
	timeout := x.DownloadTimeout
	if timeout <= 0 {
		timeout = defaultDownloadLimit
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := "https://www.youtube.com/watch?v=" + videoID
	stderr, err := x.run()(cmdCtx, orDefault(x.YtdlpPath, defaultYtdlpPath),
		"-f", orDefault(x.Quality, defaultQuality),
		"--download-sections", defaultSection,
		"--no-warnings",
		"--no-playlist",
		"-o", out,
		url,
	)
	if err == nil {
		if _, statErr := os.Stat(out); statErr != nil {
			return fmt.Errorf("yt-dlp produced no file: %w", statErr)
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cmdCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("yt-dlp timed out after %s", timeout)
	}
	return classifyYtdlp(err, stderr)
}

func (x *FrameExtractor) extract(ctx context.Context, videoPath string, at time.Duration, out string) error {
	timeout := x.FrameTimeout
	if timeout <= 0 {
		timeout = defaultFrameTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := x.run()(cmdCtx, orDefault(x.FFmpegPath, defaultFFmpegPath),
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', -1, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		out,
	)
	return err
}

// classifyYtdlp marks failures that will not go away on retry as permanent.
func classifyYtdlp(err error, stderr string) error {
	msg := strings.ToLower(stderr)
	wrapped := fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr))
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate"), strings.Contains(msg, "timed out"):
		return wrapped
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "requested format is not available"):
		return retry.Permanent(wrapped)
	}
	return wrapped
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
}
