package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionState remembers the last cleanup run between CLI sessions, so
// "cleanup status" works without pasting the correlation id back in.
type SessionState struct {
	LastCorrelationID string    `json:"last_correlation_id"`
	LastSourceName    string    `json:"last_source_name"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func Load(path string) (SessionState, error) {
	var st SessionState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read session state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse session state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st SessionState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session state failed: %w", err)
	}
	return nil
}
