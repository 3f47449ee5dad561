package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Computer is the per-computer configuration snapshot. It is loaded when the
// instance is constructed and persisted when the instance is destroyed.
type Computer struct {
	Label           string `json:"label,omitempty"`
	IsColor         bool   `json:"isColor"`
	StartFullscreen bool   `json:"startFullscreen,omitempty"`
}

// DefaultComputer returns the snapshot used for a computer with no saved
// configuration.
func DefaultComputer() Computer {
	return Computer{IsColor: true}
}

func snapshotPath(root string, id int) string {
	return filepath.Join(root, "config", fmt.Sprintf("%d.json", id))
}

// LoadComputer reads the snapshot for id, returning defaults when none has
// been saved yet.
func LoadComputer(root string, id int) (Computer, error) {
	conf := DefaultComputer()
	data, err := os.ReadFile(snapshotPath(root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return conf, fmt.Errorf("read computer config: %w", err)
	}
	if err := json.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("parse computer config: %w", err)
	}
	return conf, nil
}

// SaveComputer persists the snapshot for id, creating the config directory
// if needed.
func SaveComputer(root string, id int, conf Computer) error {
	path := snapshotPath(root, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode computer config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
