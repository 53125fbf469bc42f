package budget

import (
	"reflect"
	"testing"

	"github.com/adamancini/hold/internal/manifest"
)

func files(pairs ...any) []manifest.File {
	var out []manifest.File
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, manifest.File{Name: pairs[i].(string), Bytes: int64(pairs[i+1].(int))})
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		previous map[string]int64
		target   []manifest.File
		want     []string
	}{
		{
			name:     "new file only",
			previous: map[string]int64{"a": 10},
			target:   files("a", 10, "b", 20),
			want:     []string{"b"},
		},
		{
			name:     "changed size",
			previous: map[string]int64{"a": 10, "b": 20},
			target:   files("a", 11, "b", 20),
			want:     []string{"a"},
		},
		{
			name:     "nothing previous",
			previous: nil,
			target:   files("a", 1, "b", 2),
			want:     []string{"a", "b"},
		},
		{
			name:     "identical",
			previous: map[string]int64{"a": 1},
			target:   files("a", 1),
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []string{}
			for _, f := range Diff(tt.previous, tt.target) {
				got = append(got, f.Name)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Diff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnchangedAndObsolete(t *testing.T) {
	previous := map[string]int64{"a": 10, "b": 20, "old": 5}
	target := files("a", 10, "b", 21, "c", 3)

	unchanged := Unchanged(previous, target)
	if len(unchanged) != 1 || unchanged[0].Name != "a" {
		t.Errorf("Unchanged() = %+v, want [a]", unchanged)
	}

	if got := Obsolete(previous, target); !reflect.DeepEqual(got, []string{"old"}) {
		t.Errorf("Obsolete() = %v, want [old]", got)
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name       string
		previous   map[string]int64
		target     []manifest.File
		quota      Quota
		wantBytes  int64
		wantEnough bool
		wantString string
	}{
		{
			name:       "only new file counted",
			previous:   map[string]int64{"a": 10},
			target:     files("a", 10, "b", 20),
			quota:      Quota{Total: 100, Used: 50},
			wantBytes:  20,
			wantEnough: true,
			wantString: "20 B",
		},
		{
			name:       "exactly enough",
			previous:   nil,
			target:     files("a", 50),
			quota:      Quota{Total: 100, Used: 50},
			wantBytes:  50,
			wantEnough: true,
			wantString: "50 B",
		},
		{
			name:       "not enough",
			previous:   nil,
			target:     files("a", 2048),
			quota:      Quota{Total: 2000, Used: 0},
			wantBytes:  2048,
			wantEnough: false,
			wantString: "2.0 KiB",
		},
		{
			name:       "over quota host",
			previous:   map[string]int64{"a": 1},
			target:     files("a", 1),
			quota:      Quota{Total: 10, Used: 20},
			wantBytes:  0,
			wantEnough: false,
			wantString: "0 B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(tt.previous, tt.target, tt.quota)
			if got.BytesNeeded != tt.wantBytes {
				t.Errorf("BytesNeeded = %d, want %d", got.BytesNeeded, tt.wantBytes)
			}
			if got.EnoughSpace != tt.wantEnough {
				t.Errorf("EnoughSpace = %v, want %v", got.EnoughSpace, tt.wantEnough)
			}
			if got.BytesNeededFriendly != tt.wantString {
				t.Errorf("BytesNeededFriendly = %q, want %q", got.BytesNeededFriendly, tt.wantString)
			}
			if got.QuotaTotal != tt.quota.Total || got.QuotaUsed != tt.quota.Used {
				t.Errorf("quota not carried into report: %+v", got)
			}
		})
	}
}

func TestQuotaAvailable(t *testing.T) {
	if got := (Quota{Total: 10, Used: 4}).Available(); got != 6 {
		t.Errorf("Available() = %d, want 6", got)
	}
	if got := (Quota{Total: 10, Used: 40}).Available(); got != 0 {
		t.Errorf("Available() = %d, want 0", got)
	}
}
