package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig(t *testing.T) {
	home := t.TempDir()
	xdg := filepath.Join(home, "xdg")
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOLD_CONFIG", "")

	if _, err := FindConfig(""); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("FindConfig() with nothing = %v, want ErrNoConfig", err)
	}

	dotHold := filepath.Join(home, ".hold", "config.toml")
	writeFile(t, dotHold, "")
	if got, _ := FindConfig(""); got != dotHold {
		t.Errorf("FindConfig() = %s, want %s", got, dotHold)
	}

	xdgConfig := filepath.Join(xdg, "hold", "config.yaml")
	writeFile(t, xdgConfig, "")
	if got, _ := FindConfig(""); got != xdgConfig {
		t.Errorf("FindConfig() = %s, want XDG location %s", got, xdgConfig)
	}

	env := filepath.Join(home, "elsewhere.json")
	writeFile(t, env, "{}")
	t.Setenv("HOLD_CONFIG", env)
	if got, _ := FindConfig(""); got != env {
		t.Errorf("FindConfig() = %s, want HOLD_CONFIG %s", got, env)
	}

	if _, err := FindConfig(filepath.Join(home, "missing.yaml")); err == nil {
		t.Error("FindConfig() with a missing explicit path should fail")
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", filepath.Join(t.TempDir(), "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(t.TempDir(), "state"))

	path := filepath.Join(t.TempDir(), "config")
	writeFile(t, path, `
log:
  level: warn
cargos:
  - game=https://cdn.example.com/game/cargo.json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if filepath.Base(cfg.CacheDir) != "hold" {
		t.Errorf("CacheDir = %s, want the XDG default", cfg.CacheDir)
	}
	c, err := cfg.GetCargo("game")
	if err != nil || c.ManifestURL != "https://cdn.example.com/game/cargo.json" {
		t.Errorf("GetCargo() = %+v, %v", c, err)
	}
	if _, err := cfg.GetCargo("chess"); err == nil {
		t.Error("GetCargo() of an unknown cargo should fail")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "state:\n  driver: postgres\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() should reject an unknown state driver")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
