package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"forge-sync/middleware"
	"forge-sync/models"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testAPIKey = "test-api-key-0123456789"

func newTestEnv(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	syncHandler := NewSyncHandler(db, nil)
	statsHandler := NewStatsHandler(db)
	machineHandler := NewMachineHandler(db)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(testAPIKey))
	v1.POST("/sync", syncHandler.Sync)
	v1.GET("/stats/daily", statsHandler.Daily)
	v1.GET("/stats/totals", statsHandler.Totals)
	v1.GET("/stats/machines", statsHandler.Machines)
	v1.GET("/stats/models", statsHandler.Models)
	v1.GET("/stats/machine/:hostname", statsHandler.Machine)
	v1.DELETE("/machines/:hostname", machineHandler.Delete)
	v1.POST("/machines/:hostname/reactivate", machineHandler.Reactivate)

	return router, db
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func date(offsetDays int) string {
	return time.Now().AddDate(0, 0, offsetDays).Format("2006-01-02")
}

// syncPayload builds a submission for hostname covering the given day
// offsets (0 = today, -1 = yesterday...), with counters derived from
// base so different submissions are distinguishable.
func syncPayload(hostname string, base int64, offsets ...int) models.SyncRequest {
	req := models.SyncRequest{
		ProtocolVersion: models.ProtocolVersion,
		Hostname:        hostname,
	}
	for _, off := range offsets {
		d := date(off)
		req.DailyActivity = append(req.DailyActivity, models.DailyActivityRecord{
			Date:          d,
			MessageCount:  base,
			SessionCount:  base / 2,
			ToolCallCount: base * 2,
		})
		req.ModelTokens = append(req.ModelTokens, models.ModelTokensRecord{
			Date:         d,
			Model:        "claude-sonnet",
			InputTokens:  base * 10,
			OutputTokens: base * 5,
		})
	}
	req.ModelUsage = []models.ModelUsageRecord{
		{Model: "claude-sonnet", InputTokens: base * 100, OutputTokens: base * 50, CacheReadTokens: base * 20},
	}
	return req
}

func mustSync(t *testing.T, router *gin.Engine, req models.SyncRequest) models.SyncResponse {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/v1/sync", req, testAPIKey)
	if w.Code != http.StatusOK {
		t.Fatalf("sync returned %d: %s", w.Code, w.Body.String())
	}
	var resp models.SyncResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal sync response: %v", err)
	}
	return resp
}

func getJSON(t *testing.T, router *gin.Engine, path string, out interface{}) {
	t.Helper()
	w := doRequest(t, router, http.MethodGet, path, nil, testAPIKey)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s returned %d: %s", path, w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("unmarshal %s: %v", path, err)
	}
}
