package update

import (
	"context"
	"fmt"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/manifest"
	"github.com/adamancini/hold/internal/types"
)

// Transport moves manifests and file bytes from the remote origin.
type Transport interface {
	FetchManifest(ctx context.Context, url string) ([]byte, error)
	// FetchFile returns the bytes of url starting at offset. size is the
	// declared length of the whole file and bounds what is read. onProgress
	// receives the number of bytes received so far in this call. On a
	// mid-stream failure the bytes received are returned in a *PartialError.
	FetchFile(ctx context.Context, url string, offset, size int64, onProgress func(int64)) ([]byte, error)
	QueryQuota(ctx context.Context) (budget.Quota, error)
}

// CheckResult describes the outcome of an update check.
type CheckResult struct {
	CargoID         string          `json:"cargoId" yaml:"cargoId"`
	ManifestURL     string          `json:"manifestUrl" yaml:"manifestUrl"`
	Outcome         types.Outcome   `json:"outcome" yaml:"outcome"`
	PreviousVersion string          `json:"previousVersion" yaml:"previousVersion"`
	TargetVersion   string          `json:"targetVersion,omitempty" yaml:"targetVersion,omitempty"`
	Comparison      Comparison      `json:"comparison" yaml:"comparison"`
	Budget          budget.Report   `json:"diskInfo" yaml:"diskInfo"`
	Manifest        *manifest.Cargo `json:"-" yaml:"-"`
	Errors          []string        `json:"errors,omitempty" yaml:"errors,omitempty"`
	Err             error           `json:"-" yaml:"-"`
}

// UpdateAvailable reports whether the remote version is ahead of the installed one.
func (r *CheckResult) UpdateAvailable() bool {
	return r.Outcome == types.OutcomeUpdateAvailable || r.Outcome == types.OutcomeUpdateInsufficientSpace
}

// String renders the result for text output.
func (r *CheckResult) String() string {
	switch r.Outcome {
	case types.OutcomeNoPreviousInstall:
		return fmt.Sprintf("%s: not installed, %s available (%s to download)", r.CargoID, r.TargetVersion, r.Budget.BytesNeededFriendly)
	case types.OutcomeUpToDate:
		return fmt.Sprintf("%s: up to date at %s", r.CargoID, r.PreviousVersion)
	case types.OutcomeUpdateAvailable:
		return fmt.Sprintf("%s: update %s -> %s available (%s to download)", r.CargoID, r.PreviousVersion, r.TargetVersion, r.Budget.BytesNeededFriendly)
	case types.OutcomeUpdateInsufficientSpace:
		return fmt.Sprintf("%s: update %s -> %s needs %s, not enough space", r.CargoID, r.PreviousVersion, r.TargetVersion, r.Budget.BytesNeededFriendly)
	case types.OutcomeResumeNeeded:
		return fmt.Sprintf("%s: download of %s was interrupted, %s left to fetch", r.CargoID, r.TargetVersion, r.Budget.BytesNeededFriendly)
	}
	return fmt.Sprintf("%s: check failed: %v", r.CargoID, r.Err)
}

// Progress is emitted while an update runs.
type Progress struct {
	CargoID    string      `json:"cargoId" yaml:"cargoId"`
	AttemptID  string      `json:"attemptId" yaml:"attemptId"`
	Phase      types.Phase `json:"phase" yaml:"phase"`
	Downloaded int64       `json:"downloaded" yaml:"downloaded"`
	Total      int64       `json:"total" yaml:"total"`
	Installing bool        `json:"installing" yaml:"installing"`
	Finished   bool        `json:"finished" yaml:"finished"`
	Failed     bool        `json:"failed" yaml:"failed"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Terminal reports whether this is the last event of the attempt.
func (p Progress) Terminal() bool {
	return p.Finished || p.Failed
}

// Listener receives progress events. Returned errors are logged and dropped.
type Listener func(Progress) error

// ListenerID identifies a registered listener.
type ListenerID uint64
