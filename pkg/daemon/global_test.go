package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cccc-dev/cccc/pkg/types"
)

func TestLoadGlobalConfigCreatesDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := LoadGlobalConfig(home)
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	want := types.DefaultGlobalConfig()
	if cfg != want {
		t.Errorf("config = %+v, want defaults %+v", cfg, want)
	}

	// First load writes the file so the user has something to edit.
	if _, err := os.Stat(filepath.Join(home, "config.json")); err != nil {
		t.Errorf("config.json not written: %v", err)
	}
}

func TestLoadGlobalConfigMergesOverDefaults(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.json")
	if err := os.WriteFile(path, []byte(`{"log_level":"DEBUG","developer_mode":true}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobalConfig(home)
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if cfg.LogLevel != "DEBUG" || !cfg.DeveloperMode {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.TranscriptPerActorBytes != types.DefaultGlobalConfig().TranscriptPerActorBytes {
		t.Errorf("absent field lost its default: %+v", cfg)
	}
}

func TestLoadGlobalConfigRejectsMalformed(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadGlobalConfig(home); err == nil {
		t.Error("LoadGlobalConfig() accepted malformed JSON")
	}
}
