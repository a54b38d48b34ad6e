// Package domain defines the persistence models for the processing ledger
// and the identification cache, plus the small value types passed between
// the pipeline and its external collaborators. The GORM models are shared
// across the repository and service layers.
package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Status is the ledger state of a single video.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// AllStatuses lists every ledger state in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRolledBack}

// Valid reports whether s is one of the known ledger states.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer so Status binds as a plain TEXT column.
func (s Status) Value() (driver.Value, error) { return string(s), nil }

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = Status(v)
	case []byte:
		*s = Status(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("domain: cannot scan %T into Status", src)
	}
	return nil
}

// ProcessedVideo is one ledger row per video ever attempted.
//
// Fields:
//   - VideoID: opaque YouTube identifier, primary key.
//   - OriginalTitle: written once on first insertion and never overwritten;
//     it is the reference point for rollback.
//   - NewTitle: the last title applied by the pipeline.
//   - GameName / BossName: derived values, empty until known.
//   - Status: see Status constants (enforced by a CHECK constraint).
//   - Attempts: failed attempts so far, bounded by the configured maximum.
//   - LastAttemptAt: when the video was last claimed for processing.
//   - ErrorMessage / ErrorCategory: last failure detail, empty otherwise.
type ProcessedVideo struct {
	VideoID       string     `json:"video_id"        gorm:"type:varchar(64);primaryKey"`
	OriginalTitle string     `json:"original_title"  gorm:"type:text;not null"`
	NewTitle      string     `json:"new_title"       gorm:"type:text;not null;default:''"`
	GameName      string     `json:"game_name"       gorm:"type:varchar(255);not null;default:'';index:idx_videos_game"`
	BossName      string     `json:"boss_name"       gorm:"type:varchar(255);not null;default:''"`
	Status        Status     `json:"status"          gorm:"type:varchar(16);not null;index:idx_videos_status;check:status IN ('pending','processing','completed','failed','rolled_back')"`
	Attempts      int        `json:"attempts"        gorm:"not null;default:0"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"  gorm:"type:text;not null;default:''"`
	ErrorCategory string     `json:"error_category,omitempty" gorm:"type:varchar(32);not null;default:''"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ProcessedVideo.
func (ProcessedVideo) TableName() string { return "processed_videos" }

// Video is a single item supplied by the video source.
type Video struct {
	ID           string
	Title        string
	ThumbnailURL string
	PublishedAt  time.Time
}

// RollbackCandidate is a completed video whose title can be restored.
type RollbackCandidate struct {
	VideoID       string    `json:"video_id"`
	GameName      string    `json:"game_name"`
	BossName      string    `json:"boss_name"`
	CurrentTitle  string    `json:"current_title"`
	OriginalTitle string    `json:"original_title"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GameSummary aggregates ledger rows per game.
type GameSummary struct {
	GameName  string `json:"game_name"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
}
