package templates

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/adamancini/hold/internal/config"
)

func TestList(t *testing.T) {
	want := []string{"full", "minimal", "shared"}
	if got := List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"minimal", false},
		{"shared", false},
		{"full", false},
		{"nonexistent", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Get(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Get(%s) expected error, got nil", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get(%s) unexpected error: %v", tt.name, err)
			}
			if tmpl.Name != tt.name || len(tmpl.Content) == 0 {
				t.Errorf("Get(%s) = %+v", tt.name, tmpl)
			}
			if tmpl.Description == "Custom template" {
				t.Errorf("Get(%s) has no description", tt.name)
			}
		})
	}
}

// Every template must load as a valid config.
func TestTemplatesAreValidConfigs(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	for _, name := range List() {
		t.Run(name, func(t *testing.T) {
			tmpl, err := Get(name)
			if err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, tmpl.Content, 0644); err != nil {
				t.Fatal(err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("template %s does not load: %v", name, err)
			}
			if len(cfg.Cargos) == 0 {
				t.Errorf("template %s has no cargos", name)
			}
		})
	}
}

func TestGetDescription(t *testing.T) {
	if got := GetDescription("unknown"); got != "Custom template" {
		t.Errorf("GetDescription(unknown) = %q", got)
	}
}
