// Package audit appends a human-readable record of every rename, failure
// and rollback. The ledger stays the source of truth; the audit log is
// append-only and best effort.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// Tab names in the audit spreadsheet.
const (
	TabProcessed = "Processed Videos"
	TabErrors    = "Errors"
)

// MaxMessageLen bounds error messages written to the audit log.
const MaxMessageLen = 500

const timeLayout = "2006-01-02 15:04:05"

var (
	processedHeader = []any{"Timestamp", "Original Title", "New Title", "Playlist Name", "Video Link", "Playlist Link"}
	errorsHeader    = []any{"Timestamp", "Video ID", "Video Title", "Game Name", "Error Type", "Error Message", "Attempts", "Video Link"}
)

// Sink receives audit events.
type Sink interface {
	Append(ctx context.Context, ev domain.AuditEvent) error
}

// Normalize fills the id and timestamp of ev when they are unset.
func Normalize(ev domain.AuditEvent) domain.AuditEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev
}

// Truncate shortens s to MaxMessageLen runes, marking the cut with "...".
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxMessageLen {
		return s
	}
	return string(r[:MaxMessageLen]) + "..."
}

// Row maps an event to its spreadsheet tab and row.
func Row(ev domain.AuditEvent) (string, []any) {
	ts := ev.At.Local().Format(timeLayout)
	videoLink := "https://www.youtube.com/watch?v=" + ev.VideoID
	switch ev.Action {
	case domain.AuditFailed:
		return TabErrors, []any{ts, ev.VideoID, ev.OriginalTitle, ev.GameName, ev.Category, Truncate(ev.Message), ev.Attempts, videoLink}
	case domain.AuditRolledBack:
		return TabProcessed, []any{ts, ev.NewTitle, ev.OriginalTitle, "ROLLBACK", videoLink, "N/A"}
	default:
		playlistLink := "N/A"
		if ev.PlaylistID != "" {
			playlistLink = "https://www.youtube.com/playlist?list=" + ev.PlaylistID
		}
		return TabProcessed, []any{ts, ev.OriginalTitle, ev.NewTitle, ev.PlaylistName, videoLink, playlistLink}
	}
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

// NewLogSink returns a sink on the global logger.
func NewLogSink() *LogSink {
	return &LogSink{Logger: log.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Append(_ context.Context, ev domain.AuditEvent) error {
	ev = Normalize(ev)
	e := s.Logger.Info()
	if ev.Action == domain.AuditFailed {
		e = s.Logger.Warn().Str("category", ev.Category).Str("error", Truncate(ev.Message)).Int("attempts", ev.Attempts)
	}
	e.Str("event_id", ev.ID).
		Str("action", ev.Action).
		Time("at", ev.At).
		Str("video_id", ev.VideoID).
		Str("game", ev.GameName).
		Str("boss", ev.BossName).
		Str("original_title", ev.OriginalTitle).
		Str("new_title", ev.NewTitle).
		Str("playlist", ev.PlaylistName).
		Msg("audit")
	return nil
}

// Multi fans an event out to every sink. All sinks are tried; their errors
// are joined.
type Multi []Sink

func (m Multi) Append(ctx context.Context, ev domain.AuditEvent) error {
	ev = Normalize(ev)
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in a slice. The dry-run report and tests use it.
type Memory struct {
	Events []domain.AuditEvent
}

func (m *Memory) Append(_ context.Context, ev domain.AuditEvent) error {
	m.Events = append(m.Events, Normalize(ev))
	return nil
}

func quoteTab(tab string) string {
	return fmt.Sprintf("'%s'", strings.ReplaceAll(tab, "'", "''"))
}
