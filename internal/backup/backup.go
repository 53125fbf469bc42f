// Package backup keeps JSON snapshots of install records. A snapshot is
// taken before records are removed so the previous state can be inspected.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adamancini/hold/internal/state"
)

// Backup represents a single snapshot.
type Backup struct {
	ID          string          `json:"id" yaml:"id"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	Note        string          `json:"note,omitempty" yaml:"note,omitempty"`
	HoldVersion string          `json:"hold_version" yaml:"hold_version"`
	Records     []*state.Record `json:"records" yaml:"records"`
}

// BackupInfo provides summary information about a backup for listing.
type BackupInfo struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	Records   int       `json:"records" yaml:"records"`
	Size      int64     `json:"size" yaml:"size"`
}

// Manager handles backup operations.
type Manager struct {
	backupDir   string
	holdVersion string
	now         func() time.Time
}

// NewManager creates a backup manager in the default directory.
func NewManager(version string) (*Manager, error) {
	dir, err := state.DefaultDir()
	if err != nil {
		return nil, err
	}
	return NewManagerWithDir(filepath.Join(dir, "backups"), version), nil
}

// NewManagerWithDir creates a backup manager with a custom directory.
func NewManagerWithDir(backupDir, version string) *Manager {
	return &Manager{
		backupDir:   backupDir,
		holdVersion: version,
		now:         time.Now,
	}
}

// Create snapshots every record in store.
func (m *Manager) Create(ctx context.Context, store state.Store, note string) (*Backup, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list install records: %w", err)
	}

	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := m.now().UTC()
	backup := &Backup{
		ID:          now.Format("2006-01-02-150405.000000"),
		CreatedAt:   now,
		Note:        note,
		HoldVersion: m.holdVersion,
		Records:     records,
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup: %w", err)
	}
	if err := os.WriteFile(m.path(backup.ID), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write backup file: %w", err)
	}

	return backup, nil
}

// List returns all backups sorted by creation time (newest first).
func (m *Manager) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		backup, err := m.loadBackup(filepath.Join(m.backupDir, entry.Name()))
		if err != nil {
			continue
		}

		backups = append(backups, BackupInfo{
			ID:        backup.ID,
			CreatedAt: backup.CreatedAt,
			Note:      backup.Note,
			Records:   len(backup.Records),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// Get retrieves a backup by ID. Use "latest" to get the most recent backup.
func (m *Manager) Get(id string) (*Backup, error) {
	if id == "latest" {
		backups, err := m.List()
		if err != nil {
			return nil, err
		}
		if len(backups) == 0 {
			return nil, fmt.Errorf("no backups found")
		}
		id = backups[0].ID
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	return m.loadBackup(m.path(id))
}

// Delete removes a backup by ID.
func (m *Manager) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	path := m.path(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("backup not found: %s", id)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}

// BackupDir returns the backup directory path.
func (m *Manager) BackupDir() string {
	return m.backupDir
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.backupDir, id+".json")
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid backup id %q", id)
	}
	return nil
}

func (m *Manager) loadBackup(path string) (*Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup not found: %s", strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	var backup Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("failed to parse backup file: %w", err)
	}
	return &backup, nil
}
