package config

import (
	"os"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		expected Format
	}{
		{"yaml extension", "config.yaml", "", FormatYAML},
		{"yml extension", "config.yml", "", FormatYAML},
		{"toml extension", "config.toml", "", FormatTOML},
		{"json extension", "config.json", "", FormatJSON},
		{"json content", "config", `{"cache_dir": "/tmp"}`, FormatJSON},
		{"yaml content", "config", `cache_dir: /tmp`, FormatYAML},
		{"toml content", "config", `cache_dir = "/tmp"`, FormatTOML},
		{"toml table", "config", "# hold\n[state]\ndriver = \"file\"", FormatTOML},
		{"empty", "config", "", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectFormat(tt.path, []byte(tt.content))
			if got != tt.expected {
				t.Errorf("detectFormat() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "test_value")
	os.Setenv("EMPTY_VAR", "")
	defer os.Unsetenv("TEST_VAR")
	defer os.Unsetenv("EMPTY_VAR")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "${TEST_VAR}", "test_value"},
		{"var with default", "${MISSING_VAR:-default_value}", "default_value"},
		{"existing var ignores default", "${TEST_VAR:-default_value}", "test_value"},
		{"empty var uses default", "${EMPTY_VAR:-default_value}", "default_value"},
		{"no var", "plain text", "plain text"},
		{"mixed content", "prefix ${TEST_VAR} suffix", "prefix test_value suffix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(expandEnvVars([]byte(tt.input)))
			if got != tt.expected {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	content := []byte(`
cache_dir: /var/cache/hold
state:
  driver: file
  dsn: /var/lib/hold
transport:
  timeout: 10s
  retries: 5
  user_agent: hold-test
quota: 2GiB
disallow_reserved: true
log:
  level: debug
  format: json
cargos:
  - id: game-of-life
    name: Game of Life
    manifest_url: https://cdn.example.com/game/cargo.json
  - chess=https://cdn.example.com/chess/cargo.json
`)

	cfg, err := parse(content, FormatYAML)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.CacheDir != "/var/cache/hold" {
		t.Errorf("CacheDir = %s", cfg.CacheDir)
	}
	if cfg.State.Driver != DriverFile || cfg.State.DSN != "/var/lib/hold" {
		t.Errorf("State = %+v", cfg.State)
	}
	if cfg.Retries() != 5 || cfg.Transport.UserAgent != "hold-test" {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.QuotaBytes() != 2<<30 {
		t.Errorf("QuotaBytes() = %d, want %d", cfg.QuotaBytes(), int64(2<<30))
	}
	if !cfg.DisallowReserved {
		t.Error("DisallowReserved should be true")
	}

	if len(cfg.Cargos) != 2 {
		t.Fatalf("Cargos count = %d, want 2", len(cfg.Cargos))
	}
	if cfg.Cargos[0].Name != "Game of Life" {
		t.Errorf("Cargos[0].Name = %s", cfg.Cargos[0].Name)
	}

	// Check simple string cargo
	if cfg.Cargos[1].ID != "chess" || cfg.Cargos[1].ManifestURL != "https://cdn.example.com/chess/cargo.json" {
		t.Errorf("Cargos[1] = %+v", cfg.Cargos[1])
	}
}

func TestParseTOML(t *testing.T) {
	content := []byte(`
quota = 1048576

[state]
driver = "libsql"
dsn = "libsql://hold.example.turso.io"

[[cargos]]
id = "game-of-life"
manifest_url = "https://cdn.example.com/game/cargo.json"
`)

	cfg, err := parse(content, FormatTOML)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.State.Driver != DriverLibSQL {
		t.Errorf("State.Driver = %s, want libsql", cfg.State.Driver)
	}
	if cfg.QuotaBytes() != 1048576 {
		t.Errorf("QuotaBytes() = %d, want 1048576", cfg.QuotaBytes())
	}
	if len(cfg.Cargos) != 1 {
		t.Errorf("Cargos count = %d, want 1", len(cfg.Cargos))
	}
}

func TestParseJSON(t *testing.T) {
	content := []byte(`{
  "metrics_textfile": "/var/lib/node_exporter/hold.prom",
  "cargos": [
    {"id": "game-of-life", "manifest_url": "https://cdn.example.com/game/cargo.json"},
    "chess=https://cdn.example.com/chess/cargo.json"
  ]
}`)

	cfg, err := parse(content, FormatJSON)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.MetricsTextfile != "/var/lib/node_exporter/hold.prom" {
		t.Errorf("MetricsTextfile = %s", cfg.MetricsTextfile)
	}
	if len(cfg.Cargos) != 2 {
		t.Errorf("Cargos count = %d, want 2", len(cfg.Cargos))
	}
}

func TestParseCargoErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"string without url", "cargos:\n  - game-of-life\n"},
		{"object without id", "cargos:\n  - manifest_url: https://x.test/cargo.json\n"},
		{"number", "cargos:\n  - 42\n"},
		{"bad quota type", "quota: [1]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse([]byte(tt.content), FormatYAML); err == nil {
				t.Error("parse() should fail")
			}
		})
	}
}

func TestParseEnvVarExpansion(t *testing.T) {
	os.Setenv("HOLD_TEST_CDN", "https://cdn.internal")
	defer os.Unsetenv("HOLD_TEST_CDN")

	content := []byte(`
cargos:
  - id: game
    manifest_url: ${HOLD_TEST_CDN}/game/cargo.json
  - id: chess
    manifest_url: ${HOLD_TEST_MISSING:-https://fallback.test}/chess/cargo.json
`)

	cfg, err := parse(content, FormatYAML)
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.Cargos[0].ManifestURL != "https://cdn.internal/game/cargo.json" {
		t.Errorf("Cargos[0].ManifestURL = %s", cfg.Cargos[0].ManifestURL)
	}
	if cfg.Cargos[1].ManifestURL != "https://fallback.test/chess/cargo.json" {
		t.Errorf("Cargos[1].ManifestURL = %s", cfg.Cargos[1].ManifestURL)
	}
}
