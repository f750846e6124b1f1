package models

import (
	"time"

	"gorm.io/gorm"
)

// Machine represents one reporting machine, identified by hostname.
// It is the parent of all per-day and per-model rows for that host.
type Machine struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Hostname  string    `gorm:"uniqueIndex;not null" json:"hostname"`
	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSync  time.Time `gorm:"not null" json:"last_sync"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyActivity holds per-day activity counters for one machine.
// Not broken down by model.
type DailyActivity struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Hostname      string    `gorm:"uniqueIndex:idx_activity_host_date;index;not null" json:"hostname"`
	Date          string    `gorm:"uniqueIndex:idx_activity_host_date;index;not null" json:"date"` // YYYY-MM-DD
	MessageCount  int64     `gorm:"not null;default:0" json:"message_count"`
	SessionCount  int64     `gorm:"not null;default:0" json:"session_count"`
	ToolCallCount int64     `gorm:"not null;default:0" json:"tool_call_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DailyModelTokens holds per-day, per-model token counters for one machine.
type DailyModelTokens struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Hostname            string    `gorm:"uniqueIndex:idx_tokens_host_date_model;index;not null" json:"hostname"`
	Date                string    `gorm:"uniqueIndex:idx_tokens_host_date_model;index;not null" json:"date"`
	Model               string    `gorm:"uniqueIndex:idx_tokens_host_date_model;not null" json:"model"`
	InputTokens         int64     `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens        int64     `gorm:"not null;default:0" json:"output_tokens"`
	CacheReadTokens     int64     `gorm:"not null;default:0" json:"cache_read_tokens"`
	CacheCreationTokens int64     `gorm:"not null;default:0" json:"cache_creation_tokens"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ModelUsage holds lifetime token totals per model, as reported by the
// source machine. The client always sends its full current snapshot, so
// each sync replaces these rows wholesale (never added as deltas).
type ModelUsage struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Hostname            string    `gorm:"uniqueIndex:idx_usage_host_model;index;not null" json:"hostname"`
	Model               string    `gorm:"uniqueIndex:idx_usage_host_model;not null" json:"model"`
	InputTokens         int64     `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens        int64     `gorm:"not null;default:0" json:"output_tokens"`
	CacheReadTokens     int64     `gorm:"not null;default:0" json:"cache_read_tokens"`
	CacheCreationTokens int64     `gorm:"not null;default:0" json:"cache_creation_tokens"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Machine{},
		&DailyActivity{},
		&DailyModelTokens{},
		&ModelUsage{},
		&ServerStatistics{},
		&SyncCounter{},
	)
}
