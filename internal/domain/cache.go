package domain

import "time"

// Identification sources recorded on cache entries.
const (
	SourceThumbnail = "thumbnail"
	SourceFrames    = "frames"
)

// BossCacheEntry memoizes one boss identification keyed by a fingerprint of
// (video_id, game_name). Entries older than the configured expiry window are
// never served; they stay in the table until an explicit sweep so that
// statistics can still count them as expired.
type BossCacheEntry struct {
	CacheKey       string     `json:"cache_key"   gorm:"type:char(64);primaryKey"`
	VideoID        string     `json:"video_id"    gorm:"type:varchar(64);not null;index:idx_cache_video"`
	GameName       string     `json:"game_name"   gorm:"type:varchar(255);not null"`
	BossName       string     `json:"boss_name"   gorm:"type:varchar(255);not null"`
	Source         string     `json:"source"      gorm:"type:varchar(16);not null;default:''"`
	CreatedAt      time.Time  `json:"created_at"  gorm:"not null;index:idx_cache_created"`
	AccessCount    int        `json:"access_count" gorm:"not null;default:0"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// TableName implements the GORM tabler interface.
func (BossCacheEntry) TableName() string { return "boss_cache" }

// CacheStats summarizes the identification cache.
type CacheStats struct {
	Total       int64 `json:"total"`
	Active      int64 `json:"active"`
	Expired     int64 `json:"expired"`
	MaxAccessed int   `json:"max_accessed"`
}

// Audit actions appended to the audit sink.
const (
	AuditCompleted  = "completed"
	AuditFailed     = "failed"
	AuditRolledBack = "rolled_back"
)

// AuditEvent is one append to the human-facing audit log.
type AuditEvent struct {
	ID            string
	Action        string
	At            time.Time
	VideoID       string
	GameName      string
	BossName      string
	OriginalTitle string
	NewTitle      string
	PlaylistName  string
	PlaylistID    string
	Category      string
	Message       string
	Attempts      int
}
