// Package state persists one install record per cargo id.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adamancini/hold/internal/manifest"
	"github.com/adamancini/hold/internal/types"
)

// NoPreviousInstallation stands in for a version string when a cargo has
// never been installed.
const NoPreviousInstallation = "none"

// ErrNotFound is returned when deleting a record that does not exist.
var ErrNotFound = errors.New("install record not found")

// Record is the durable state of one cargo.
type Record struct {
	ID             string          `json:"id" yaml:"id"`
	CurrentVersion string          `json:"currentVersion" yaml:"currentVersion"`
	Lifecycle      types.Lifecycle `json:"lifecycleState" yaml:"lifecycleState"`
	ManifestURL    string          `json:"manifestUrl,omitempty" yaml:"manifestUrl,omitempty"`
	Pending        *Pending        `json:"pending,omitempty" yaml:"pending,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt" yaml:"updatedAt"`
}

// Pending describes an update that has been queued but not committed.
type Pending struct {
	AttemptID       string         `json:"attemptId" yaml:"attemptId"`
	PreviousVersion string         `json:"previousVersion" yaml:"previousVersion"`
	TargetVersion   string         `json:"targetVersion" yaml:"targetVersion"`
	TargetManifest  manifest.Cargo `json:"targetManifest" yaml:"targetManifest"`
	ManifestURL     string         `json:"manifestUrl" yaml:"manifestUrl"`
	StagingTag      string         `json:"stagingTag" yaml:"stagingTag"`
	BytesTotal      int64          `json:"bytesTotal" yaml:"bytesTotal"`
	BytesDownloaded int64          `json:"bytesDownloaded" yaml:"bytesDownloaded"`
	LastError       string         `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// NewRecord returns the record of a cargo that was never installed.
func NewRecord(id string) *Record {
	return &Record{
		ID:             id,
		CurrentVersion: NoPreviousInstallation,
		Lifecycle:      types.LifecycleCached,
	}
}

// Installed reports whether a committed version exists.
func (r *Record) Installed() bool {
	return r.CurrentVersion != "" && r.CurrentVersion != NoPreviousInstallation
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Pending != nil {
		p := *r.Pending
		p.TargetManifest.Files = append([]manifest.File(nil), r.Pending.TargetManifest.Files...)
		p.TargetManifest.Authors = append([]manifest.Author(nil), r.Pending.TargetManifest.Authors...)
		p.TargetManifest.Keywords = append([]string(nil), r.Pending.TargetManifest.Keywords...)
		c.Pending = &p
	}
	return &c
}

// Validate checks the record invariants before it is written.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if err := r.Lifecycle.Validate(); err != nil {
		return err
	}
	if r.Lifecycle == types.LifecycleUpdating && r.Pending == nil {
		return fmt.Errorf("record %s is updating without a pending block", r.ID)
	}
	return nil
}

// Store is the durable record store. Get returns nil, nil for unknown ids.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Record, error)
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id].Clone(), nil
}

func (m *Memory) Put(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c := r.Clone()
	c.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = c
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
