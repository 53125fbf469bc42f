package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/adamancini/hold/internal/manifest"
	"github.com/adamancini/hold/internal/types"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	file, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	sqlite, err := NewSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQL() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": sqlite,
	}
}

func updatingRecord() *Record {
	target := manifest.Default()
	target.Version = "2.0.0"
	target.Files = []manifest.File{{Name: "a.js", Bytes: 10}, {Name: "b.js", Bytes: 20}}

	return &Record{
		ID:             "cargo-1",
		CurrentVersion: "1.0.0",
		Lifecycle:      types.LifecycleUpdating,
		ManifestURL:    "https://example.com/cargo.json",
		Pending: &Pending{
			AttemptID:       "attempt",
			PreviousVersion: "1.0.0",
			TargetVersion:   "2.0.0",
			TargetManifest:  *target,
			ManifestURL:     "https://example.com/cargo.json",
			StagingTag:      "2.0.0",
			BytesTotal:      30,
			BytesDownloaded: 10,
		},
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(ctx, "cargo-1")
			if err != nil || got != nil {
				t.Fatalf("Get() of unknown id = %+v, %v; want nil, nil", got, err)
			}

			if err := s.Put(ctx, updatingRecord()); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err = s.Get(ctx, "cargo-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Lifecycle != types.LifecycleUpdating || got.CurrentVersion != "1.0.0" {
				t.Errorf("Get() = %+v", got)
			}
			if got.Pending == nil || got.Pending.BytesDownloaded != 10 {
				t.Fatalf("pending block not round tripped: %+v", got.Pending)
			}
			if len(got.Pending.TargetManifest.Files) != 2 {
				t.Errorf("target manifest files = %+v", got.Pending.TargetManifest.Files)
			}
			if got.UpdatedAt.IsZero() {
				t.Error("UpdatedAt should be set on write")
			}
		})
	}
}

func TestStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, updatingRecord()); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			committed := &Record{
				ID:             "cargo-1",
				CurrentVersion: "2.0.0",
				Lifecycle:      types.LifecycleCached,
			}
			if err := s.Put(ctx, committed); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := s.Get(ctx, "cargo-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Pending != nil {
				t.Errorf("Pending = %+v, want nil after commit", got.Pending)
			}
			if got.CurrentVersion != "2.0.0" || got.Lifecycle != types.LifecycleCached {
				t.Errorf("Get() = %+v", got)
			}
		})
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"b", "a", "c"} {
				if err := s.Put(ctx, NewRecord(id)); err != nil {
					t.Fatalf("Put(%s) error = %v", id, err)
				}
			}

			if err := s.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := s.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second Delete() error = %v, want ErrNotFound", err)
			}

			records, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(records) != 2 || records[0].ID != "a" || records[1].ID != "c" {
				t.Errorf("List() = %+v, want a and c", records)
			}
		})
	}
}

func TestStore_RejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			bad := updatingRecord()
			bad.Pending = nil
			if err := s.Put(ctx, bad); err == nil {
				t.Error("Put() of updating record without pending should fail")
			}

			bad = NewRecord("x")
			bad.Lifecycle = "installing"
			if err := s.Put(ctx, bad); err == nil {
				t.Error("Put() with unknown lifecycle should fail")
			}
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.Put(ctx, updatingRecord()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _ := s.Get(ctx, "cargo-1")
	got.Pending.BytesDownloaded = 999
	got.Pending.TargetManifest.Files[0].Bytes = 999

	again, _ := s.Get(ctx, "cargo-1")
	if again.Pending.BytesDownloaded != 10 || again.Pending.TargetManifest.Files[0].Bytes != 10 {
		t.Errorf("store shares memory with callers: %+v", again.Pending)
	}
}

func TestFile_SkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if err := s.Put(ctx, NewRecord("good")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "good" {
		t.Errorf("List() = %+v, want only good", records)
	}

	if _, err := s.Get(ctx, "../escape"); err == nil {
		t.Error("Get() with a path separator should fail")
	}
}

func TestRecordInstalled(t *testing.T) {
	if NewRecord("x").Installed() {
		t.Error("new record should not be installed")
	}
	r := NewRecord("x")
	r.CurrentVersion = "1.0.0"
	if !r.Installed() {
		t.Error("record with a version should be installed")
	}
}

func TestNewSQL_UnknownDriver(t *testing.T) {
	if _, err := NewSQL(context.Background(), "postgres", "x"); err == nil {
		t.Error("NewSQL() with unknown driver should fail")
	}
}
