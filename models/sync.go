package models

import (
	"fmt"
	"time"
)

// ProtocolVersion is the current sync wire protocol version.
const ProtocolVersion = 1

// MaxSyncDays bounds how far back a submission may reach.
const MaxSyncDays = 365

// DailyActivityRecord is one per-day activity row on the wire.
type DailyActivityRecord struct {
	Date          string `json:"date" binding:"required"`
	MessageCount  int64  `json:"message_count"`
	SessionCount  int64  `json:"session_count"`
	ToolCallCount int64  `json:"tool_call_count"`
}

// ModelTokensRecord is one per-day, per-model token row on the wire.
type ModelTokensRecord struct {
	Date                string `json:"date" binding:"required"`
	Model               string `json:"model" binding:"required"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
}

// ModelUsageRecord is one lifetime per-model cumulative row on the wire.
type ModelUsageRecord struct {
	Model               string `json:"model" binding:"required"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
}

// SyncRequest is the full snapshot a client submits. Each submission
// is complete and cumulative, never a delta.
type SyncRequest struct {
	ProtocolVersion int                   `json:"protocol_version" binding:"required"`
	Hostname        string                `json:"hostname" binding:"required,max=255"`
	DailyActivity   []DailyActivityRecord `json:"daily_activity"`
	ModelTokens     []ModelTokensRecord   `json:"model_tokens"`
	ModelUsage      []ModelUsageRecord    `json:"model_usage"`
}

// SyncResponse acknowledges a stored submission.
type SyncResponse struct {
	Status            string `json:"status"`
	ProtocolVersion   int    `json:"protocol_version"`
	RecordsUpserted   int    `json:"records_upserted"`
	MachineRegistered bool   `json:"machine_registered"`
	ServerTime        string `json:"server_time"`
}

// Validate checks everything gin's binding tags cannot express: date
// formats, the history window, and non-negative counters.
func (r *SyncRequest) Validate() error {
	if r.ProtocolVersion < 1 || r.ProtocolVersion > ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d", r.ProtocolVersion)
	}
	if len(r.DailyActivity) > MaxSyncDays || len(r.ModelTokens) > MaxSyncDays*16 {
		return fmt.Errorf("submission exceeds %d day history window", MaxSyncDays)
	}
	for _, rec := range r.DailyActivity {
		if err := validateDate(rec.Date); err != nil {
			return err
		}
		if rec.MessageCount < 0 || rec.SessionCount < 0 || rec.ToolCallCount < 0 {
			return fmt.Errorf("negative activity counter for %s", rec.Date)
		}
	}
	for _, rec := range r.ModelTokens {
		if err := validateDate(rec.Date); err != nil {
			return err
		}
		if rec.Model == "" {
			return fmt.Errorf("missing model name for %s", rec.Date)
		}
		if rec.InputTokens < 0 || rec.OutputTokens < 0 ||
			rec.CacheReadTokens < 0 || rec.CacheCreationTokens < 0 {
			return fmt.Errorf("negative token counter for %s/%s", rec.Date, rec.Model)
		}
	}
	for _, rec := range r.ModelUsage {
		if rec.Model == "" {
			return fmt.Errorf("missing model name in model usage")
		}
		if rec.InputTokens < 0 || rec.OutputTokens < 0 ||
			rec.CacheReadTokens < 0 || rec.CacheCreationTokens < 0 {
			return fmt.Errorf("negative token counter for model %s", rec.Model)
		}
	}
	return nil
}

func validateDate(date string) error {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	now := time.Now()
	if parsed.After(now) {
		return fmt.Errorf("future date %s not allowed", date)
	}
	if now.Sub(parsed) > MaxSyncDays*24*time.Hour {
		return fmt.Errorf("date %s too old (max %d days)", date, MaxSyncDays)
	}
	return nil
}
