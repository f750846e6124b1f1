package handlers

import (
	"net/http"

	"forge-sync/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MachineHandler manages machine lifecycle. Deletion is administrative,
// never part of the normal sync flow.
type MachineHandler struct {
	DB *gorm.DB
}

func NewMachineHandler(db *gorm.DB) *MachineHandler {
	return &MachineHandler{DB: db}
}

// Delete handles DELETE /v1/machines/:hostname. Soft delete by default
// (excluded from aggregates, data kept); hard=true removes the machine
// and all its rows. Idempotent: deleting an unknown hostname succeeds.
func (h *MachineHandler) Delete(c *gin.Context) {
	hostname := c.Param("hostname")
	hard := c.Query("hard") == "true"

	if !hard {
		if err := h.DB.Model(&models.Machine{}).
			Where("hostname = ?", hostname).
			Update("is_active", false).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate machine"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "hard": false})
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("hostname = ?", hostname).Delete(&models.DailyActivity{}).Error; err != nil {
			return err
		}
		if err := tx.Where("hostname = ?", hostname).Delete(&models.DailyModelTokens{}).Error; err != nil {
			return err
		}
		if err := tx.Where("hostname = ?", hostname).Delete(&models.ModelUsage{}).Error; err != nil {
			return err
		}
		return tx.Where("hostname = ?", hostname).Delete(&models.Machine{}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete machine"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "hard": true})
}

// Reactivate handles POST /v1/machines/:hostname/reactivate.
func (h *MachineHandler) Reactivate(c *gin.Context) {
	hostname := c.Param("hostname")

	result := h.DB.Model(&models.Machine{}).
		Where("hostname = ?", hostname).
		Update("is_active", true)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reactivate machine"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reactivated"})
}
