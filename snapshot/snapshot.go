// Package snapshot reads the external usage tracker's local stats
// cache into a typed snapshot. The cache file is owned by another
// process; this package only ever reads it.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"forge-sync/models"
)

// Read failures callers treat as "nothing to sync right now".
var (
	ErrSourceUnavailable = errors.New("usage source unavailable")
	ErrSourceMalformed   = errors.New("usage source malformed")
)

// Snapshot is the full current state of one machine's usage data at
// read time. Rows reuse the wire record types so a snapshot maps
// directly onto a sync submission.
type Snapshot struct {
	Hostname      string
	DailyActivity []models.DailyActivityRecord
	ModelTokens   []models.ModelTokensRecord
	ModelUsage    []models.ModelUsageRecord
}

// statsCache mirrors the external file's JSON shape. Anything not
// matching it is rejected as malformed rather than carried loosely.
type statsCache struct {
	DailyActivity []struct {
		Date          string `json:"date"`
		MessageCount  int64  `json:"messageCount"`
		SessionCount  int64  `json:"sessionCount"`
		ToolCallCount int64  `json:"toolCallCount"`
	} `json:"dailyActivity"`
	DailyModelTokens []struct {
		Date          string                 `json:"date"`
		TokensByModel map[string]tokenCounts `json:"tokensByModel"`
	} `json:"dailyModelTokens"`
	ModelUsage map[string]tokenCounts `json:"modelUsage"`
}

type tokenCounts struct {
	InputTokens              int64 `json:"inputTokens"`
	OutputTokens             int64 `json:"outputTokens"`
	CacheReadInputTokens     int64 `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int64 `json:"cacheCreationInputTokens"`
}

func (t tokenCounts) negative() bool {
	return t.InputTokens < 0 || t.OutputTokens < 0 ||
		t.CacheReadInputTokens < 0 || t.CacheCreationInputTokens < 0
}

// Read parses the stats cache at path into a Snapshot for hostname.
// Missing file yields ErrSourceUnavailable, unparseable contents
// ErrSourceMalformed. Days older than the sync window are dropped;
// future dates and negative counters are malformed. No side effects.
func Read(path, hostname string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var cache statsCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceMalformed, err)
	}

	now := time.Now()
	cutoff := now.AddDate(0, 0, -models.MaxSyncDays).Format("2006-01-02")
	today := now.Format("2006-01-02")

	snap := &Snapshot{Hostname: hostname}

	for _, entry := range cache.DailyActivity {
		if err := checkDate(entry.Date, cutoff, today); err != nil {
			if errors.Is(err, errSkipDate) {
				continue
			}
			return nil, err
		}
		if entry.MessageCount < 0 || entry.SessionCount < 0 || entry.ToolCallCount < 0 {
			return nil, fmt.Errorf("%w: negative activity counter for %s", ErrSourceMalformed, entry.Date)
		}
		snap.DailyActivity = append(snap.DailyActivity, models.DailyActivityRecord{
			Date:          entry.Date,
			MessageCount:  entry.MessageCount,
			SessionCount:  entry.SessionCount,
			ToolCallCount: entry.ToolCallCount,
		})
	}

	for _, entry := range cache.DailyModelTokens {
		if err := checkDate(entry.Date, cutoff, today); err != nil {
			if errors.Is(err, errSkipDate) {
				continue
			}
			return nil, err
		}
		names := make([]string, 0, len(entry.TokensByModel))
		for model := range entry.TokensByModel {
			names = append(names, model)
		}
		sort.Strings(names)
		for _, model := range names {
			tokens := entry.TokensByModel[model]
			if tokens.negative() {
				return nil, fmt.Errorf("%w: negative token counter for %s/%s", ErrSourceMalformed, entry.Date, model)
			}
			snap.ModelTokens = append(snap.ModelTokens, models.ModelTokensRecord{
				Date:                entry.Date,
				Model:               model,
				InputTokens:         tokens.InputTokens,
				OutputTokens:        tokens.OutputTokens,
				CacheReadTokens:     tokens.CacheReadInputTokens,
				CacheCreationTokens: tokens.CacheCreationInputTokens,
			})
		}
	}

	names := make([]string, 0, len(cache.ModelUsage))
	for model := range cache.ModelUsage {
		names = append(names, model)
	}
	sort.Strings(names)
	for _, model := range names {
		usage := cache.ModelUsage[model]
		if usage.negative() {
			return nil, fmt.Errorf("%w: negative token counter for model %s", ErrSourceMalformed, model)
		}
		snap.ModelUsage = append(snap.ModelUsage, models.ModelUsageRecord{
			Model:               model,
			InputTokens:         usage.InputTokens,
			OutputTokens:        usage.OutputTokens,
			CacheReadTokens:     usage.CacheReadInputTokens,
			CacheCreationTokens: usage.CacheCreationInputTokens,
		})
	}

	return snap, nil
}

var errSkipDate = errors.New("date outside sync window")

func checkDate(date, cutoff, today string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: invalid date %q", ErrSourceMalformed, date)
	}
	if date > today {
		return fmt.Errorf("%w: future date %s", ErrSourceMalformed, date)
	}
	if date < cutoff {
		return errSkipDate
	}
	return nil
}

// Request converts the snapshot into a sync submission.
func (s *Snapshot) Request() *models.SyncRequest {
	return &models.SyncRequest{
		ProtocolVersion: models.ProtocolVersion,
		Hostname:        s.Hostname,
		DailyActivity:   s.DailyActivity,
		ModelTokens:     s.ModelTokens,
		ModelUsage:      s.ModelUsage,
	}
}
