package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// State is what the agent remembers across restarts: its stable device
// identity and, when paired, the room to rejoin.
type State struct {
	DeviceID string `json:"deviceId"`
	RoomID   string `json:"roomId,omitempty"`
}

const stateFileName = "agent.json"

// StateStore persists agent state as JSON under the state directory.
type StateStore struct {
	path string
}

func NewStateStore(dir string) *StateStore {
	return &StateStore{path: filepath.Join(dir, stateFileName)}
}

// Load reads persisted state, minting a fresh device id on first run
// or when the file is unreadable.
func (s *StateStore) Load() State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return State{DeviceID: uuid.NewString()}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil || st.DeviceID == "" {
		return State{DeviceID: uuid.NewString()}
	}
	return st
}

// Save writes state atomically via a sibling temp file.
func (s *StateStore) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}
