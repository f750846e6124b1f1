package syncclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// syncState is the client's record of its last sync attempt, kept
// separately from the externally owned configuration store.
type syncState struct {
	LastSync        time.Time `json:"last_sync"`
	LastSyncSuccess bool      `json:"last_sync_success"`
	LastError       string    `json:"last_error,omitempty"`
}

func loadState(path string) syncState {
	var state syncState
	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	// A corrupt state file means the gate opens and the next sync runs
	_ = json.Unmarshal(data, &state)
	return state
}

func saveState(path string, state syncState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
