package services

import (
	"path/filepath"
	"testing"
	"time"

	"forge-sync/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*StatisticsService, *gorm.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return NewStatisticsService(db, dbPath), db
}

func TestUpdateStatistics(t *testing.T) {
	svc, db := newTestService(t)

	now := time.Now()
	db.Create(&models.Machine{Hostname: "alpin", FirstSeen: now, LastSync: now, IsActive: true})
	// Create then deactivate: IsActive carries a DB default, so a zero
	// value on Create would be stored as true.
	fern := models.Machine{Hostname: "fern", FirstSeen: now, LastSync: now}
	db.Create(&fern)
	db.Model(&fern).Update("is_active", false)

	if err := svc.RecordSync("alpin"); err != nil {
		t.Fatal(err)
	}
	// An old counter outside the 7 day window gets pruned
	db.Create(&models.SyncCounter{Hostname: "alpin", Timestamp: now.AddDate(0, 0, -10)})

	svc.UpdateStatistics()

	var stats models.ServerStatistics
	if err := db.First(&stats).Error; err != nil {
		t.Fatalf("statistics row missing: %v", err)
	}
	if stats.MachineCount != 1 {
		t.Errorf("MachineCount = %d, want 1 (active only)", stats.MachineCount)
	}
	if stats.SyncsLast7Days != 1 {
		t.Errorf("SyncsLast7Days = %d, want 1", stats.SyncsLast7Days)
	}

	var counters int64
	db.Model(&models.SyncCounter{}).Count(&counters)
	if counters != 1 {
		t.Errorf("counters = %d, want 1 after pruning", counters)
	}

	// Second update rewrites the single row in place
	svc.UpdateStatistics()
	var rows int64
	db.Model(&models.ServerStatistics{}).Count(&rows)
	if rows != 1 {
		t.Errorf("statistics rows = %d, want 1", rows)
	}
}
