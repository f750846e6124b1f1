package models

import "time"

// ServerStatistics is operational metadata refreshed hourly. Usage
// aggregates are never served from here.
type ServerStatistics struct {
	ID             uint      `gorm:"primaryKey"`
	MachineCount   int       `gorm:"not null;default:0"`
	SyncsLast7Days int64     `gorm:"not null;default:0"`
	DatabaseSizeMB float64   `gorm:"not null;default:0"`
	LastUpdatedAt  time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// SyncCounter records one accepted sync submission.
type SyncCounter struct {
	ID        uint      `gorm:"primaryKey"`
	Hostname  string    `gorm:"index"`
	Timestamp time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
