package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cccc-dev/cccc/pkg/types"
)

// LoadGlobalConfig reads <home>/config.json over the defaults. A missing
// file is created with the defaults so the user has something to edit;
// fields absent from the file keep their default values.
func LoadGlobalConfig(home string) (types.GlobalConfig, error) {
	cfg := types.DefaultGlobalConfig()
	path := filepath.Join(home, "config.json")

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := SaveGlobalConfig(home, cfg); werr != nil {
			return cfg, werr
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveGlobalConfig writes <home>/config.json atomically. Mode 0600: the
// file may carry the TCP auth token.
func SaveGlobalConfig(home string, cfg types.GlobalConfig) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("failed to create home: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := filepath.Join(home, "config.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
