package handlers

import (
	"net/http"
	"testing"

	"forge-sync/models"
)

type dailyResponse struct {
	Days []DailyStatsRecord `json:"days"`
}

func findDay(t *testing.T, days []DailyStatsRecord, date string) DailyStatsRecord {
	t.Helper()
	for _, d := range days {
		if d.Date == date {
			return d
		}
	}
	t.Fatalf("date %s not in response", date)
	return DailyStatsRecord{}
}

func TestDailyStatsMultiMachine(t *testing.T) {
	router, _ := newTestEnv(t)

	mustSync(t, router, syncPayload("alpin", 10, 0))
	mustSync(t, router, syncPayload("fern", 5, 0))

	var resp dailyResponse
	getJSON(t, router, "/v1/stats/daily?days=7", &resp)

	today := findDay(t, resp.Days, date(0))
	if today.Messages != 15 {
		t.Errorf("messages = %d, want 15 (10 + 5)", today.Messages)
	}
	if today.InputTokens != 150 {
		t.Errorf("input_tokens = %d, want 150", today.InputTokens)
	}
	if len(today.Machines) != 2 {
		t.Errorf("machines = %v, want [alpin fern]", today.Machines)
	}

	// Resubmitting one machine must not change the total
	mustSync(t, router, syncPayload("alpin", 10, 0))
	getJSON(t, router, "/v1/stats/daily?days=7", &resp)
	today = findDay(t, resp.Days, date(0))
	if today.Messages != 15 {
		t.Errorf("messages after resync = %d, want 15, not 25", today.Messages)
	}
}

func TestDailyStatsZeroFill(t *testing.T) {
	router, _ := newTestEnv(t)
	mustSync(t, router, syncPayload("alpin", 10, 0))

	var resp dailyResponse
	getJSON(t, router, "/v1/stats/daily?days=7", &resp)

	if len(resp.Days) != 7 {
		t.Fatalf("len(days) = %d, want 7 with zero-filled gaps", len(resp.Days))
	}
	for i := 1; i < len(resp.Days); i++ {
		if resp.Days[i-1].Date >= resp.Days[i].Date {
			t.Fatalf("dates out of order: %s before %s", resp.Days[i-1].Date, resp.Days[i].Date)
		}
	}
	gap := findDay(t, resp.Days, date(-3))
	if gap.Messages != 0 || gap.TotalTokens != 0 || len(gap.Machines) != 0 {
		t.Errorf("gap date not zero-filled: %+v", gap)
	}
	if resp.Days[len(resp.Days)-1].Date != date(0) {
		t.Errorf("last date = %s, want today", resp.Days[len(resp.Days)-1].Date)
	}
}

func TestTotalsAcrossMachines(t *testing.T) {
	router, _ := newTestEnv(t)

	// base 10: usage 1000 in / 500 out / 200 cache read
	// base 4: usage 400 in / 200 out / 80 cache read
	mustSync(t, router, syncPayload("alpin", 10, 0))
	mustSync(t, router, syncPayload("fern", 4, 0))

	var resp struct {
		TotalInputTokens  int64                  `json:"total_input_tokens"`
		TotalOutputTokens int64                  `json:"total_output_tokens"`
		TotalCacheTokens  int64                  `json:"total_cache_tokens"`
		MachineCount      int64                  `json:"machine_count"`
		ByModel           map[string]ModelTotals `json:"by_model"`
	}
	getJSON(t, router, "/v1/stats/totals", &resp)

	if resp.TotalInputTokens != 1400 {
		t.Errorf("total_input_tokens = %d, want 1400", resp.TotalInputTokens)
	}
	if resp.TotalOutputTokens != 700 {
		t.Errorf("total_output_tokens = %d, want 700", resp.TotalOutputTokens)
	}
	if resp.TotalCacheTokens != 280 {
		t.Errorf("total_cache_tokens = %d, want 280", resp.TotalCacheTokens)
	}
	if resp.MachineCount != 2 {
		t.Errorf("machine_count = %d, want 2", resp.MachineCount)
	}
	sonnet, ok := resp.ByModel["claude-sonnet"]
	if !ok {
		t.Fatal("by_model missing claude-sonnet")
	}
	if sonnet.InputTokens != 1400 {
		t.Errorf("by_model input = %d, want 1400", sonnet.InputTokens)
	}

	// Cumulative counters replace, never accumulate
	mustSync(t, router, syncPayload("alpin", 10, 0))
	getJSON(t, router, "/v1/stats/totals", &resp)
	if resp.TotalInputTokens != 1400 {
		t.Errorf("total_input_tokens after resync = %d, want 1400", resp.TotalInputTokens)
	}
}

func TestModelsEndpoint(t *testing.T) {
	router, _ := newTestEnv(t)

	payload := syncPayload("alpin", 10, 0)
	payload.ModelUsage = append(payload.ModelUsage, models.ModelUsageRecord{
		Model: "claude-opus", InputTokens: 30, OutputTokens: 20,
	})
	mustSync(t, router, payload)

	var resp struct {
		Models map[string]ModelTotals `json:"models"`
	}
	getJSON(t, router, "/v1/stats/models", &resp)

	if len(resp.Models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(resp.Models))
	}
	if got := resp.Models["claude-opus"].TotalTokens; got != 50 {
		t.Errorf("claude-opus total = %d, want 50", got)
	}
}

func TestMachinesEndpoint(t *testing.T) {
	router, _ := newTestEnv(t)
	mustSync(t, router, syncPayload("alpin", 10, 0))
	mustSync(t, router, syncPayload("fern", 5, 0))

	var resp struct {
		Machines []struct {
			Hostname string `json:"hostname"`
			IsActive bool   `json:"is_active"`
		} `json:"machines"`
	}
	getJSON(t, router, "/v1/stats/machines", &resp)

	if len(resp.Machines) != 2 {
		t.Fatalf("len(machines) = %d, want 2", len(resp.Machines))
	}
	for _, m := range resp.Machines {
		if !m.IsActive {
			t.Errorf("machine %s not active", m.Hostname)
		}
	}
}

func TestDeletedMachineNotListed(t *testing.T) {
	router, _ := newTestEnv(t)
	mustSync(t, router, syncPayload("alpin", 10, 0))
	mustSync(t, router, syncPayload("fern", 5, 0))

	w := doRequest(t, router, http.MethodDelete, "/v1/machines/alpin", nil, testAPIKey)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d", w.Code)
	}

	var resp struct {
		Machines []struct {
			Hostname string `json:"hostname"`
			IsActive bool   `json:"is_active"`
		} `json:"machines"`
	}
	getJSON(t, router, "/v1/stats/machines", &resp)
	if len(resp.Machines) != 1 {
		t.Fatalf("machines after delete = %d, want 1", len(resp.Machines))
	}
	if resp.Machines[0].Hostname != "fern" {
		t.Errorf("remaining machine = %s, want fern", resp.Machines[0].Hostname)
	}

	// all=true surfaces the deactivated machine for reactivation
	getJSON(t, router, "/v1/stats/machines?all=true", &resp)
	if len(resp.Machines) != 2 {
		t.Fatalf("machines with all=true = %d, want 2", len(resp.Machines))
	}
	for _, m := range resp.Machines {
		if m.Hostname == "alpin" && m.IsActive {
			t.Error("deleted machine still marked active")
		}
	}
}

func TestDailyMachineNameWithComma(t *testing.T) {
	router, _ := newTestEnv(t)
	mustSync(t, router, syncPayload("alp,in", 10, 0))
	mustSync(t, router, syncPayload("fern", 5, 0))

	var resp dailyResponse
	getJSON(t, router, "/v1/stats/daily?days=7", &resp)

	today := findDay(t, resp.Days, date(0))
	if len(today.Machines) != 2 {
		t.Fatalf("machines = %v, want exactly 2 entries", today.Machines)
	}
	if today.Machines[0] != "alp,in" || today.Machines[1] != "fern" {
		t.Errorf("machines = %v, want [alp,in fern]", today.Machines)
	}
}

func TestMachineStats(t *testing.T) {
	router, _ := newTestEnv(t)
	mustSync(t, router, syncPayload("alpin", 10, 0, -1))
	mustSync(t, router, syncPayload("fern", 5, 0))

	var resp dailyResponse
	getJSON(t, router, "/v1/stats/machine/alpin?days=7", &resp)

	if len(resp.Days) != 2 {
		t.Fatalf("len(days) = %d, want 2", len(resp.Days))
	}
	today := findDay(t, resp.Days, date(0))
	if today.Messages != 10 {
		t.Errorf("messages = %d, want 10 (alpin only)", today.Messages)
	}
}

func TestDeleteMachine(t *testing.T) {
	router, db := newTestEnv(t)
	mustSync(t, router, syncPayload("alpin", 10, 0))
	mustSync(t, router, syncPayload("fern", 5, 0))

	w := doRequest(t, router, http.MethodDelete, "/v1/machines/alpin", nil, testAPIKey)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d", w.Code)
	}

	// Soft delete: excluded from aggregates, data kept
	var totals struct {
		TotalInputTokens int64 `json:"total_input_tokens"`
		MachineCount     int64 `json:"machine_count"`
	}
	getJSON(t, router, "/v1/stats/totals", &totals)
	if totals.TotalInputTokens != 500 {
		t.Errorf("totals after soft delete = %d, want 500 (fern only)", totals.TotalInputTokens)
	}
	if totals.MachineCount != 1 {
		t.Errorf("machine_count = %d, want 1", totals.MachineCount)
	}
	var kept int64
	db.Model(&models.DailyActivity{}).Where("hostname = ?", "alpin").Count(&kept)
	if kept == 0 {
		t.Error("soft delete must keep the machine's rows")
	}

	// Reactivate restores its contribution
	w = doRequest(t, router, http.MethodPost, "/v1/machines/alpin/reactivate", nil, testAPIKey)
	if w.Code != http.StatusOK {
		t.Fatalf("reactivate returned %d", w.Code)
	}
	getJSON(t, router, "/v1/stats/totals", &totals)
	if totals.TotalInputTokens != 1500 {
		t.Errorf("totals after reactivate = %d, want 1500", totals.TotalInputTokens)
	}

	// Hard delete cascades
	w = doRequest(t, router, http.MethodDelete, "/v1/machines/alpin?hard=true", nil, testAPIKey)
	if w.Code != http.StatusOK {
		t.Fatalf("hard delete returned %d", w.Code)
	}
	for _, model := range []interface{}{
		&models.Machine{}, &models.DailyActivity{}, &models.DailyModelTokens{}, &models.ModelUsage{},
	} {
		var count int64
		db.Model(model).Where("hostname = ?", "alpin").Count(&count)
		if count != 0 {
			t.Errorf("%T rows remain after hard delete", model)
		}
	}
}

func TestDeleteUnknownMachineIsIdempotent(t *testing.T) {
	router, _ := newTestEnv(t)

	for _, path := range []string{"/v1/machines/never-seen", "/v1/machines/never-seen?hard=true"} {
		w := doRequest(t, router, http.MethodDelete, path, nil, testAPIKey)
		if w.Code != http.StatusOK {
			t.Errorf("DELETE %s = %d, want 200 (idempotent no-op)", path, w.Code)
		}
	}
}
