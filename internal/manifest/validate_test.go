package manifest

import (
	"encoding/json"
	"strings"
	"testing"
)

const testUUID = "a1b2c3d4e5f6g7h8i9j0k1"

func validRaw() map[string]any {
	return map[string]any{
		"uuid":         testUUID,
		"crateVersion": "0.1.0",
		"name":         "game-of-life",
		"version":      "1.2.3",
		"entry":        "index.html",
		"files": []any{
			map[string]any{"name": "index.html", "bytes": float64(10)},
			map[string]any{"name": "app.js", "bytes": float64(20)},
		},
		"description": "a cellular automaton",
		"authors": []any{
			map[string]any{"name": "ada", "email": "ada@example.com"},
		},
		"keywords":    []any{"game", "simulation"},
		"license":     "MIT",
		"repo":        map[string]any{"type": "git", "url": "https://example.com/repo.git"},
		"homepageUrl": "https://example.com",
	}
}

func hasError(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidManifest(t *testing.T) {
	cargo, errs := Validate(validRaw(), true)
	if len(errs) != 0 {
		t.Fatalf("Validate() errors = %v, want none", errs)
	}

	if cargo.UUID != testUUID {
		t.Errorf("UUID = %q, want %q", cargo.UUID, testUUID)
	}
	if cargo.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", cargo.Version)
	}
	if len(cargo.Files) != 2 || cargo.Files[1].Bytes != 20 {
		t.Errorf("Files = %+v, want two entries", cargo.Files)
	}
	if cargo.CrateLogoURL != NullField {
		t.Errorf("CrateLogoURL = %q, want %q", cargo.CrateLogoURL, NullField)
	}
	if cargo.Authors[0].URL != NullField {
		t.Errorf("author URL = %q, want %q", cargo.Authors[0].URL, NullField)
	}
}

func TestValidate_MinimalManifestNeverHasEmptyOptionals(t *testing.T) {
	raw := map[string]any{
		"uuid":         testUUID,
		"crateVersion": "0.1.0",
		"name":         "minimal",
		"version":      "0.0.1",
		"files":        []any{},
	}

	cargo, errs := Validate(raw, false)
	if len(errs) != 0 {
		t.Fatalf("Validate() errors = %v, want none", errs)
	}

	for name, v := range map[string]string{
		"description":  cargo.Description,
		"crateLogoUrl": cargo.CrateLogoURL,
		"license":      cargo.License,
		"repo.type":    cargo.Repo.Type,
		"repo.url":     cargo.Repo.URL,
		"homepageUrl":  cargo.HomepageURL,
	} {
		if v != NullField {
			t.Errorf("%s = %q, want %q", name, v, NullField)
		}
	}
	if cargo.Authors == nil || cargo.Keywords == nil || cargo.Files == nil {
		t.Error("slices should be empty, not nil")
	}
	if cargo.Entry != "" {
		t.Errorf("Entry = %q, want empty", cargo.Entry)
	}
}

func TestValidate_NotAnObject(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"array", []any{}, `got "array"`},
		{"string", "manifest", `got "string"`},
		{"number", float64(3), `got "number"`},
		{"nil", nil, `got "undefined"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cargo, errs := Validate(tt.raw, false)
			if len(errs) != 1 || !strings.Contains(errs[0], tt.want) {
				t.Errorf("Validate() errors = %v, want one containing %s", errs, tt.want)
			}
			if cargo.UUID != NullField || cargo.Files == nil {
				t.Errorf("Validate() should return the default record, got %+v", cargo)
			}
		})
	}
}

func TestValidate_UUID(t *testing.T) {
	tests := []struct {
		name     string
		uuid     any
		reserved bool
		wantErr  string
	}{
		{"missing", nil, false, "uuid should be a string"},
		{"too short", "abc", false, "uuid should be 20 characters got 3 characters"},
		{"reserved disallowed", ReservedIDs["std"], true, "uuid can not be one of reserved ids"},
		{"raw space", "abcdefghij klmnopqrstu", false, "url safe"},
		{"slash", "abcdefghij/klmnopqrstu", false, "url safe"},
		{"bad escape", "abcdefghij%zzklmnopqrstu", false, "url safe"},
		{"percent encoded", "abcdefghij%20klmnopqrstu", false, ""},
		{"reserved allowed", ReservedIDs["std"], false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			if tt.uuid == nil {
				delete(raw, "uuid")
			} else {
				raw["uuid"] = tt.uuid
			}

			cargo, errs := Validate(raw, tt.reserved)
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Fatalf("Validate() errors = %v, want none", errs)
				}
				if cargo.UUID != tt.uuid {
					t.Errorf("UUID = %q, want %q", cargo.UUID, tt.uuid)
				}
				return
			}
			if !hasError(errs, tt.wantErr) {
				t.Errorf("Validate() errors = %v, want one containing %q", errs, tt.wantErr)
			}
			if cargo.UUID != NullField {
				t.Errorf("UUID = %q, want %q", cargo.UUID, NullField)
			}
		})
	}
}

func TestValidate_CrateVersionDefaultsToLatest(t *testing.T) {
	raw := validRaw()
	raw["crateVersion"] = "9.9.9"

	cargo, errs := Validate(raw, false)
	if !hasError(errs, `crate version is invalid, got "9.9.9", valid=0.1.0`) {
		t.Errorf("Validate() errors = %v", errs)
	}
	if cargo.CrateVersion != LatestCrateVersion {
		t.Errorf("CrateVersion = %q, want %q", cargo.CrateVersion, LatestCrateVersion)
	}
}

func TestValidate_ReservedName(t *testing.T) {
	raw := validRaw()
	raw["name"] = "std"

	cargo, errs := Validate(raw, true)
	if !hasError(errs, "name cannot be reserved names") {
		t.Errorf("Validate() errors = %v", errs)
	}
	if cargo.Name != NullField {
		t.Errorf("Name = %q, want %q", cargo.Name, NullField)
	}

	if _, errs := Validate(raw, false); len(errs) != 0 {
		t.Errorf("reserved names should pass when allowed, got %v", errs)
	}
}

func TestValidate_Version(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
	}{
		{"1.2.3", true},
		{"1.2.3-beta", true},
		{"0.0.0-rc.1", true},
		{"10.20.30", true},
		{"1.2", false},
		{"a.b.c", false},
		{"1.2.3.4", false},
		{"1..3", false},
		{"", false},
		{"-1.2.3", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			raw := validRaw()
			raw["version"] = tt.version

			cargo, errs := Validate(raw, false)
			if tt.valid {
				if len(errs) != 0 {
					t.Errorf("Validate() errors = %v, want none", errs)
				}
				if cargo.Version != tt.version {
					t.Errorf("Version = %q, want %q", cargo.Version, tt.version)
				}
				return
			}
			if !hasError(errs, "is not a valid version") {
				t.Errorf("Validate() errors = %v, want version error", errs)
			}
			if cargo.Version != NullField {
				t.Errorf("Version = %q, want %q", cargo.Version, NullField)
			}
		})
	}
}

func TestValidate_FilesStopAtFirstBadEntry(t *testing.T) {
	raw := validRaw()
	raw["files"] = []any{
		map[string]any{"name": "a.js", "bytes": float64(1)},
		map[string]any{"name": "b.js", "bytes": "2"},
		map[string]any{"name": 3, "bytes": float64(3)},
	}

	cargo, errs := Validate(raw, false)
	if !hasError(errs, "file 1 is not a valid file format") {
		t.Errorf("Validate() errors = %v", errs)
	}
	if hasError(errs, "file 2") {
		t.Errorf("scan should stop at the first bad entry, got %v", errs)
	}
	if len(cargo.Files) != 0 {
		t.Errorf("Files = %+v, want empty", cargo.Files)
	}
}

func TestValidate_FilesRejectBadSizes(t *testing.T) {
	tests := []struct {
		name string
		size any
	}{
		{"negative", float64(-1)},
		{"fractional", float64(2.5)},
		{"negative number", json.Number("-4")},
		{"fractional number", json.Number("1.5")},
		{"negative int", -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw["files"] = []any{
				map[string]any{"name": "a.js", "bytes": float64(1)},
				map[string]any{"name": "b.js", "bytes": tt.size},
				map[string]any{"name": "c.js", "bytes": "3"},
			}

			cargo, errs := Validate(raw, false)
			if !hasError(errs, "file 1 is not a valid file format") {
				t.Errorf("Validate() errors = %v", errs)
			}
			if hasError(errs, "file 2") {
				t.Errorf("scan should stop at the first bad entry, got %v", errs)
			}
			if len(cargo.Files) != 0 {
				t.Errorf("Files = %+v, want empty", cargo.Files)
			}
		})
	}
}

func TestValidate_FilesAcceptWholeSizes(t *testing.T) {
	raw := validRaw()
	raw["files"] = []any{
		map[string]any{"name": "a.js", "bytes": float64(0)},
		map[string]any{"name": "b.js", "bytes": json.Number("2.0")},
		map[string]any{"name": "c.js", "bytes": json.Number("1e3")},
	}

	cargo, errs := Validate(raw, false)
	if len(errs) != 0 {
		t.Fatalf("Validate() errors = %v, want none", errs)
	}
	if got := cargo.TotalBytes(); got != 1002 {
		t.Errorf("TotalBytes() = %d, want 1002", got)
	}
}

func TestValidate_FilesNotArray(t *testing.T) {
	raw := validRaw()
	raw["files"] = "index.html"

	cargo, errs := Validate(raw, false)
	if !hasError(errs, `files should be an array, got "string"`) {
		t.Errorf("Validate() errors = %v", errs)
	}
	if len(cargo.Files) != 0 {
		t.Errorf("Files = %+v, want empty", cargo.Files)
	}
}

func TestCheck_FiltersAuthorsAndKeywords(t *testing.T) {
	raw := validRaw()
	raw["authors"] = []any{
		map[string]any{"name": "ada"},
		map[string]any{"name": 7},
		"not an object",
	}
	raw["keywords"] = []any{"game", float64(4), true, "life"}

	res := Check(raw, false)
	if !res.Valid() {
		t.Fatalf("Check() errors = %v, want none", res.Errors)
	}
	if len(res.Cargo.Authors) != 1 || res.DroppedAuthors != 2 {
		t.Errorf("Authors = %+v dropped %d, want 1 kept and 2 dropped", res.Cargo.Authors, res.DroppedAuthors)
	}
	if len(res.Cargo.Keywords) != 2 || res.DroppedKeywords != 2 {
		t.Errorf("Keywords = %v dropped %d, want 2 kept and 2 dropped", res.Cargo.Keywords, res.DroppedKeywords)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	raw := map[string]any{
		"uuid":         "short",
		"crateVersion": "0.0.0",
		"name":         float64(1),
		"version":      "x",
		"files":        []any{},
	}

	_, errs := Validate(raw, false)
	if len(errs) != 4 {
		t.Errorf("Validate() returned %d errors, want 4: %v", len(errs), errs)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`{
		"uuid": "` + testUUID + `",
		"crateVersion": "0.1.0",
		"name": "parsed",
		"version": "2.0.0",
		"files": [{"name": "big.bin", "bytes": 9007199254740993}]
	}`)

	res := Parse(data, false)
	if !res.Valid() {
		t.Fatalf("Parse() errors = %v", res.Errors)
	}
	if res.Cargo.Files[0].Bytes != 9007199254740993 {
		t.Errorf("Bytes = %d, want exact integer", res.Cargo.Files[0].Bytes)
	}

	bad := Parse([]byte(`{not json`), false)
	if bad.Valid() || bad.Cargo == nil {
		t.Errorf("Parse() of invalid json = %+v, want errors and a default record", bad)
	}
}

func TestCargoHelpers(t *testing.T) {
	c := &Cargo{Files: []File{{Name: "a", Bytes: 10}, {Name: "b", Bytes: 20}}}
	if got := c.TotalBytes(); got != 30 {
		t.Errorf("TotalBytes() = %d, want 30", got)
	}
}
