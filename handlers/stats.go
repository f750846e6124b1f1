package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"forge-sync/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StatsHandler answers aggregate queries. Every query sums the rows
// currently stored, never incrementally maintained running totals, so
// an idempotent resync can never double-count.
type StatsHandler struct {
	DB *gorm.DB
}

func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{DB: db}
}

// DailyStatsRecord is one date's aggregate across machines.
type DailyStatsRecord struct {
	Date                string           `json:"date"`
	Messages            int64            `json:"messages"`
	Sessions            int64            `json:"sessions"`
	ToolCalls           int64            `json:"tool_calls"`
	InputTokens         int64            `json:"input_tokens"`
	OutputTokens        int64            `json:"output_tokens"`
	CacheReadTokens     int64            `json:"cache_read_tokens"`
	CacheCreationTokens int64            `json:"cache_creation_tokens"`
	TotalTokens         int64            `json:"total_tokens"`
	TokensByModel       map[string]int64 `json:"tokens_by_model"`
	Machines            []string         `json:"machines"`
}

// ModelTotals is one model's summed token counters.
type ModelTotals struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
}

type activityRow struct {
	Date      string
	Messages  int64
	Sessions  int64
	ToolCalls int64
}

type tokensRow struct {
	Date                string
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

type machineDateRow struct {
	Date     string
	Hostname string
}

type usageRow struct {
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

func parseDays(c *gin.Context) int {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 {
		return 30
	}
	if days > models.MaxSyncDays {
		return models.MaxSyncDays
	}
	return days
}

// Daily handles GET /v1/stats/daily?days=N. One record per date in the
// trailing window, zero-filled for dates no machine reported.
func (h *StatsHandler) Daily(c *gin.Context) {
	days := parseDays(c)
	cutoff := time.Now().AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	var activity []activityRow
	err := h.DB.Model(&models.DailyActivity{}).
		Select("daily_activities.date AS date, "+
			"SUM(message_count) AS messages, "+
			"SUM(session_count) AS sessions, "+
			"SUM(tool_call_count) AS tool_calls").
		Joins("JOIN machines ON machines.hostname = daily_activities.hostname AND machines.is_active = ?", true).
		Where("daily_activities.date >= ?", cutoff).
		Group("daily_activities.date").
		Scan(&activity).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query daily activity"})
		return
	}

	var tokens []tokensRow
	err = h.DB.Model(&models.DailyModelTokens{}).
		Select("daily_model_tokens.date AS date, daily_model_tokens.model AS model, "+
			"SUM(input_tokens) AS input_tokens, "+
			"SUM(output_tokens) AS output_tokens, "+
			"SUM(cache_read_tokens) AS cache_read_tokens, "+
			"SUM(cache_creation_tokens) AS cache_creation_tokens").
		Joins("JOIN machines ON machines.hostname = daily_model_tokens.hostname AND machines.is_active = ?", true).
		Where("daily_model_tokens.date >= ?", cutoff).
		Group("daily_model_tokens.date, daily_model_tokens.model").
		Scan(&tokens).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query daily tokens"})
		return
	}

	// Hostnames per date come from distinct rows, not a concatenated
	// aggregate, so a hostname containing a comma stays one entry.
	var reporters []machineDateRow
	for _, src := range []struct {
		model interface{}
		table string
	}{
		{&models.DailyActivity{}, "daily_activities"},
		{&models.DailyModelTokens{}, "daily_model_tokens"},
	} {
		var rows []machineDateRow
		err = h.DB.Model(src.model).
			Distinct(src.table+".date", src.table+".hostname").
			Joins("JOIN machines ON machines.hostname = "+src.table+".hostname AND machines.is_active = ?", true).
			Where(src.table+".date >= ?", cutoff).
			Scan(&rows).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query reporting machines"})
			return
		}
		reporters = append(reporters, rows...)
	}

	byDate := make(map[string]*DailyStatsRecord)
	machinesByDate := make(map[string]map[string]bool)
	record := func(date string) *DailyStatsRecord {
		rec, ok := byDate[date]
		if !ok {
			rec = &DailyStatsRecord{
				Date:          date,
				TokensByModel: make(map[string]int64),
				Machines:      []string{},
			}
			byDate[date] = rec
			machinesByDate[date] = make(map[string]bool)
		}
		return rec
	}

	for _, row := range activity {
		rec := record(row.Date)
		rec.Messages = row.Messages
		rec.Sessions = row.Sessions
		rec.ToolCalls = row.ToolCalls
	}
	for _, row := range tokens {
		rec := record(row.Date)
		rec.InputTokens += row.InputTokens
		rec.OutputTokens += row.OutputTokens
		rec.CacheReadTokens += row.CacheReadTokens
		rec.CacheCreationTokens += row.CacheCreationTokens
		modelTotal := row.InputTokens + row.OutputTokens + row.CacheReadTokens + row.CacheCreationTokens
		rec.TotalTokens += modelTotal
		rec.TokensByModel[row.Model] += modelTotal
	}
	for _, row := range reporters {
		record(row.Date)
		machinesByDate[row.Date][row.Hostname] = true
	}

	// Zero-fill the whole trailing window in date order
	result := make([]DailyStatsRecord, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := time.Now().AddDate(0, 0, -i).Format("2006-01-02")
		rec, ok := byDate[date]
		if !ok {
			result = append(result, DailyStatsRecord{
				Date:          date,
				TokensByModel: map[string]int64{},
				Machines:      []string{},
			})
			continue
		}
		for m := range machinesByDate[date] {
			rec.Machines = append(rec.Machines, m)
		}
		sort.Strings(rec.Machines)
		result = append(result, *rec)
	}

	c.JSON(http.StatusOK, gin.H{"days": result})
}

// Totals handles GET /v1/stats/totals. Token totals come from the
// lifetime per-model counters; activity totals from the daily rows.
func (h *StatsHandler) Totals(c *gin.Context) {
	var usage []usageRow
	err := h.DB.Model(&models.ModelUsage{}).
		Select("model_usages.model AS model, "+
			"SUM(input_tokens) AS input_tokens, "+
			"SUM(output_tokens) AS output_tokens, "+
			"SUM(cache_read_tokens) AS cache_read_tokens, "+
			"SUM(cache_creation_tokens) AS cache_creation_tokens").
		Joins("JOIN machines ON machines.hostname = model_usages.hostname AND machines.is_active = ?", true).
		Group("model_usages.model").
		Scan(&usage).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query model usage"})
		return
	}

	byModel := make(map[string]ModelTotals, len(usage))
	var input, output, cacheRead, cacheCreation int64
	for _, row := range usage {
		total := row.InputTokens + row.OutputTokens + row.CacheReadTokens + row.CacheCreationTokens
		byModel[row.Model] = ModelTotals{
			InputTokens:         row.InputTokens,
			OutputTokens:        row.OutputTokens,
			CacheReadTokens:     row.CacheReadTokens,
			CacheCreationTokens: row.CacheCreationTokens,
			TotalTokens:         total,
		}
		input += row.InputTokens
		output += row.OutputTokens
		cacheRead += row.CacheReadTokens
		cacheCreation += row.CacheCreationTokens
	}

	type activityTotals struct {
		Messages int64
		Sessions int64
	}
	var act activityTotals
	err = h.DB.Model(&models.DailyActivity{}).
		Select("COALESCE(SUM(message_count), 0) AS messages, "+
			"COALESCE(SUM(session_count), 0) AS sessions").
		Joins("JOIN machines ON machines.hostname = daily_activities.hostname AND machines.is_active = ?", true).
		Scan(&act).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query activity totals"})
		return
	}

	var machineCount int64
	h.DB.Model(&models.Machine{}).Where("is_active = ?", true).Count(&machineCount)

	type dateRange struct {
		First *string
		Last  *string
	}
	var dates dateRange
	h.DB.Model(&models.DailyActivity{}).
		Select("MIN(daily_activities.date) AS first, MAX(daily_activities.date) AS last").
		Joins("JOIN machines ON machines.hostname = daily_activities.hostname AND machines.is_active = ?", true).
		Scan(&dates)

	c.JSON(http.StatusOK, gin.H{
		"total_input_tokens":  input,
		"total_output_tokens": output,
		"total_cache_tokens":  cacheRead + cacheCreation,
		"total_tokens":        input + output + cacheRead + cacheCreation,
		"total_messages":      act.Messages,
		"total_sessions":      act.Sessions,
		"machine_count":       machineCount,
		"first_activity":      dates.First,
		"last_activity":       dates.Last,
		"by_model":            byModel,
	})
}

// Machines handles GET /v1/stats/machines. Deleted machines are gone
// from the listing; pass all=true to also see deactivated ones, e.g.
// to find a hostname to reactivate.
func (h *StatsHandler) Machines(c *gin.Context) {
	q := h.DB.Order("last_sync DESC")
	if c.Query("all") != "true" {
		q = q.Where("is_active = ?", true)
	}
	var machines []models.Machine
	if err := q.Find(&machines).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query machines"})
		return
	}

	type machineInfo struct {
		Hostname  string    `json:"hostname"`
		FirstSeen time.Time `json:"first_seen"`
		LastSync  time.Time `json:"last_sync"`
		IsActive  bool      `json:"is_active"`
	}
	out := make([]machineInfo, 0, len(machines))
	for _, m := range machines {
		out = append(out, machineInfo{
			Hostname:  m.Hostname,
			FirstSeen: m.FirstSeen,
			LastSync:  m.LastSync,
			IsActive:  m.IsActive,
		})
	}
	c.JSON(http.StatusOK, gin.H{"machines": out})
}

// Models handles GET /v1/stats/models: model name to summed token
// totals across all active machines.
func (h *StatsHandler) Models(c *gin.Context) {
	var usage []usageRow
	err := h.DB.Model(&models.ModelUsage{}).
		Select("model_usages.model AS model, "+
			"SUM(input_tokens) AS input_tokens, "+
			"SUM(output_tokens) AS output_tokens, "+
			"SUM(cache_read_tokens) AS cache_read_tokens, "+
			"SUM(cache_creation_tokens) AS cache_creation_tokens").
		Joins("JOIN machines ON machines.hostname = model_usages.hostname AND machines.is_active = ?", true).
		Group("model_usages.model").
		Scan(&usage).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query model usage"})
		return
	}

	out := make(map[string]ModelTotals, len(usage))
	for _, row := range usage {
		out[row.Model] = ModelTotals{
			InputTokens:         row.InputTokens,
			OutputTokens:        row.OutputTokens,
			CacheReadTokens:     row.CacheReadTokens,
			CacheCreationTokens: row.CacheCreationTokens,
			TotalTokens:         row.InputTokens + row.OutputTokens + row.CacheReadTokens + row.CacheCreationTokens,
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Machine handles GET /v1/stats/machine/:hostname, daily stats for a
// single machine regardless of its active flag.
func (h *StatsHandler) Machine(c *gin.Context) {
	hostname := c.Param("hostname")
	days := parseDays(c)
	cutoff := time.Now().AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	var activity []models.DailyActivity
	if err := h.DB.Where("hostname = ? AND date >= ?", hostname, cutoff).
		Order("date ASC").Find(&activity).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query daily activity"})
		return
	}
	var tokens []models.DailyModelTokens
	if err := h.DB.Where("hostname = ? AND date >= ?", hostname, cutoff).
		Order("date ASC").Find(&tokens).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query daily tokens"})
		return
	}

	byDate := make(map[string]*DailyStatsRecord)
	order := []string{}
	record := func(date string) *DailyStatsRecord {
		rec, ok := byDate[date]
		if !ok {
			rec = &DailyStatsRecord{
				Date:          date,
				TokensByModel: make(map[string]int64),
				Machines:      []string{hostname},
			}
			byDate[date] = rec
			order = append(order, date)
		}
		return rec
	}
	for _, row := range activity {
		rec := record(row.Date)
		rec.Messages = row.MessageCount
		rec.Sessions = row.SessionCount
		rec.ToolCalls = row.ToolCallCount
	}
	for _, row := range tokens {
		rec := record(row.Date)
		rec.InputTokens += row.InputTokens
		rec.OutputTokens += row.OutputTokens
		rec.CacheReadTokens += row.CacheReadTokens
		rec.CacheCreationTokens += row.CacheCreationTokens
		total := row.InputTokens + row.OutputTokens + row.CacheReadTokens + row.CacheCreationTokens
		rec.TotalTokens += total
		rec.TokensByModel[row.Model] += total
	}

	sort.Strings(order)
	result := make([]DailyStatsRecord, 0, len(order))
	for _, date := range order {
		result = append(result, *byDate[date])
	}
	c.JSON(http.StatusOK, gin.H{"days": result})
}

// Server handles GET /v1/stats/server, the hourly operational snapshot.
func (h *StatsHandler) Server(c *gin.Context) {
	var stats models.ServerStatistics
	if err := h.DB.First(&stats).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusOK, gin.H{
				"machine_count":    0,
				"syncs_last_7days": 0,
				"database_size_mb": 0.0,
				"last_updated_at":  nil,
				"message":          "Statistics not yet available",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"machine_count":    stats.MachineCount,
		"syncs_last_7days": stats.SyncsLast7Days,
		"database_size_mb": stats.DatabaseSizeMB,
		"last_updated_at":  stats.LastUpdatedAt,
	})
}
