package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"forge-sync/models"
	"forge-sync/services"
	"forge-sync/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncHandler ingests client snapshots into the aggregation store.
type SyncHandler struct {
	DB    *gorm.DB
	Stats *services.StatisticsService

	mu       sync.Mutex
	machines map[string]*sync.Mutex
}

func NewSyncHandler(db *gorm.DB, stats *services.StatisticsService) *SyncHandler {
	return &SyncHandler{
		DB:       db,
		Stats:    stats,
		machines: make(map[string]*sync.Mutex),
	}
}

// machineLock returns the mutex serializing syncs for one hostname.
// Two machines never share a natural key, so cross-machine syncs run
// concurrently; a single machine syncing twice at once must not.
func (h *SyncHandler) machineLock(hostname string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.machines[hostname]
	if !ok {
		m = &sync.Mutex{}
		h.machines[hostname] = m
	}
	return m
}

// Sync handles POST /v1/sync. The whole submission is applied in one
// transaction: every row is an idempotent replace-by-natural-key
// upsert, so resubmitting the same snapshot changes nothing.
func (h *SyncHandler) Sync(c *gin.Context) {
	var req models.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		utils.BadRequestResponse(c, err.Error())
		return
	}

	lock := h.machineLock(req.Hostname)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	count := 0
	registered := false

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Machine{}).
			Where("hostname = ?", req.Hostname).
			Count(&existing).Error; err != nil {
			return err
		}
		registered = existing == 0

		machine := models.Machine{
			Hostname:  req.Hostname,
			FirstSeen: now,
			LastSync:  now,
			IsActive:  true,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "hostname"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_sync": now,
				"is_active": true,
			}),
		}).Create(&machine).Error; err != nil {
			return err
		}

		for _, rec := range req.DailyActivity {
			row := models.DailyActivity{
				Hostname:      req.Hostname,
				Date:          rec.Date,
				MessageCount:  rec.MessageCount,
				SessionCount:  rec.SessionCount,
				ToolCallCount: rec.ToolCallCount,
				UpdatedAt:     now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "hostname"}, {Name: "date"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"message_count", "session_count", "tool_call_count", "updated_at",
				}),
			}).Create(&row).Error; err != nil {
				return err
			}
			count++
		}

		for _, rec := range req.ModelTokens {
			row := models.DailyModelTokens{
				Hostname:            req.Hostname,
				Date:                rec.Date,
				Model:               rec.Model,
				InputTokens:         rec.InputTokens,
				OutputTokens:        rec.OutputTokens,
				CacheReadTokens:     rec.CacheReadTokens,
				CacheCreationTokens: rec.CacheCreationTokens,
				UpdatedAt:           now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "hostname"}, {Name: "date"}, {Name: "model"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"input_tokens", "output_tokens",
					"cache_read_tokens", "cache_creation_tokens", "updated_at",
				}),
			}).Create(&row).Error; err != nil {
				return err
			}
			count++
		}

		for _, rec := range req.ModelUsage {
			row := models.ModelUsage{
				Hostname:            req.Hostname,
				Model:               rec.Model,
				InputTokens:         rec.InputTokens,
				OutputTokens:        rec.OutputTokens,
				CacheReadTokens:     rec.CacheReadTokens,
				CacheCreationTokens: rec.CacheCreationTokens,
				UpdatedAt:           now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "hostname"}, {Name: "model"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"input_tokens", "output_tokens",
					"cache_read_tokens", "cache_creation_tokens", "updated_at",
				}),
			}).Create(&row).Error; err != nil {
				return err
			}
			count++
		}

		return nil
	})
	if err != nil {
		log.Printf("Sync transaction failed for %s: %v", req.Hostname, err)
		utils.InternalErrorResponse(c, "Failed to store sync data")
		return
	}

	if h.Stats != nil {
		if err := h.Stats.RecordSync(req.Hostname); err != nil {
			log.Printf("Error recording sync counter: %v", err)
		}
	}

	c.JSON(http.StatusOK, models.SyncResponse{
		Status:            "success",
		ProtocolVersion:   models.ProtocolVersion,
		RecordsUpserted:   count,
		MachineRegistered: registered,
		ServerTime:        now.Format(time.RFC3339),
	})
}
