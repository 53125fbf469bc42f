package config

import (
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	cfg.Cargos = []Cargo{{ID: "game-of-life", ManifestURL: "https://cdn.example.com/game/cargo.json"}}
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig(t)
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() unexpected error = %v", err)
	}
	if cfg.State.Driver != DriverSQLite || !strings.HasSuffix(cfg.State.DSN, "state.db") {
		t.Errorf("State = %+v, want the sqlite default", cfg.State)
	}
	if cfg.Retries() != DefaultRetries || cfg.Timeout().String() != "30s" {
		t.Errorf("transport defaults = %d retries, %s timeout", cfg.Retries(), cfg.Timeout())
	}
}

func TestValidateCargo(t *testing.T) {
	tests := []struct {
		name    string
		cargo   Cargo
		wantErr string
	}{
		{"valid", Cargo{ID: "game", ManifestURL: "http://localhost:8080/cargo.json"}, ""},
		{"missing id", Cargo{ManifestURL: "https://x.test/cargo.json"}, "id is required"},
		{"id with separator", Cargo{ID: "a/b", ManifestURL: "https://x.test/cargo.json"}, "invalid cargo id"},
		{"relative url", Cargo{ID: "game", ManifestURL: "/cargo.json"}, "must be an http(s) URL"},
		{"ftp url", Cargo{ID: "game", ManifestURL: "ftp://x.test/cargo.json"}, "must be an http(s) URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCargo(0, tt.cargo)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateCargo() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateCargo() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateState(t *testing.T) {
	if err := validateState(StateConfig{Driver: "postgres"}); err == nil {
		t.Error("unknown driver should fail")
	}
	if err := validateState(StateConfig{Driver: DriverLibSQL}); err == nil {
		t.Error("libsql without a dsn should fail")
	}
	if err := validateState(StateConfig{Driver: DriverLibSQL, DSN: "libsql://db.test"}); err != nil {
		t.Errorf("libsql with a dsn: %v", err)
	}
}

func TestValidateFull(t *testing.T) {
	cfg := validConfig(t)
	cfg.Transport.Timeout = "soon"
	negative := -1
	cfg.Transport.Retries = &negative
	cfg.Quota = "lots"
	cfg.Log.Level = "loud"
	cfg.Cargos = append(cfg.Cargos, cfg.Cargos[0])

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should return error for invalid config")
	}
	msg := err.Error()
	if !strings.Contains(msg, "validation errors") {
		t.Errorf("error should mention validation errors, got: %v", err)
	}
	for _, want := range []string{"transport.timeout", "transport.retries", "quota", "log.level", "duplicate cargo id"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}
