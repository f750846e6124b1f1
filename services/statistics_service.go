package services

import (
	"log"
	"os"
	"time"

	"forge-sync/models"

	"gorm.io/gorm"
)

// StatisticsService maintains the hourly server statistics row and the
// sync counter used to compute it.
type StatisticsService struct {
	db     *gorm.DB
	dbPath string
	ticker *time.Ticker
	done   chan bool
}

func NewStatisticsService(db *gorm.DB, dbPath string) *StatisticsService {
	return &StatisticsService{
		db:     db,
		dbPath: dbPath,
		done:   make(chan bool),
	}
}

// Start refreshes statistics immediately, then hourly.
func (s *StatisticsService) Start() {
	log.Println("Statistics service started - updating every hour")

	s.UpdateStatistics()

	s.ticker = time.NewTicker(1 * time.Hour)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.UpdateStatistics()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the hourly refresh.
func (s *StatisticsService) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.done <- true
	log.Println("Statistics service stopped")
}

// UpdateStatistics recomputes the single ServerStatistics row.
func (s *StatisticsService) UpdateStatistics() {
	var machineCount int64
	if err := s.db.Model(&models.Machine{}).Where("is_active = ?", true).Count(&machineCount).Error; err != nil {
		log.Printf("Error counting machines: %v", err)
		return
	}

	sevenDaysAgo := time.Now().AddDate(0, 0, -7)
	var syncCount int64
	if err := s.db.Model(&models.SyncCounter{}).
		Where("timestamp >= ?", sevenDaysAgo).
		Count(&syncCount).Error; err != nil {
		log.Printf("Error counting syncs: %v", err)
		return
	}

	var dbSizeMB float64
	if fileInfo, err := os.Stat(s.dbPath); err == nil {
		dbSizeMB = float64(fileInfo.Size()) / (1024 * 1024)
	}

	var stats models.ServerStatistics
	result := s.db.First(&stats)

	if result.Error == gorm.ErrRecordNotFound {
		stats = models.ServerStatistics{
			MachineCount:   int(machineCount),
			SyncsLast7Days: syncCount,
			DatabaseSizeMB: dbSizeMB,
			LastUpdatedAt:  time.Now(),
		}
		if err := s.db.Create(&stats).Error; err != nil {
			log.Printf("Error creating statistics: %v", err)
			return
		}
	} else if result.Error == nil {
		if err := s.db.Model(&stats).Updates(map[string]interface{}{
			"machine_count":    int(machineCount),
			"syncs_last7_days": syncCount,
			"database_size_mb": dbSizeMB,
			"last_updated_at":  time.Now(),
		}).Error; err != nil {
			log.Printf("Error updating statistics: %v", err)
			return
		}
	} else {
		log.Printf("Error querying statistics: %v", result.Error)
		return
	}

	// Prune counters older than the 7 day window
	if err := s.db.Where("timestamp < ?", sevenDaysAgo).Delete(&models.SyncCounter{}).Error; err != nil {
		log.Printf("Error cleaning old sync counters: %v", err)
	}
}

// RecordSync records one accepted sync submission.
func (s *StatisticsService) RecordSync(hostname string) error {
	counter := models.SyncCounter{
		Hostname:  hostname,
		Timestamp: time.Now(),
	}
	return s.db.Create(&counter).Error
}
