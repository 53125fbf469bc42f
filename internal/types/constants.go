// Package types provides type-safe constants shared by the update engine.
//
// Lifecycle values are persisted in install records, so their string forms
// are part of the on-disk format and must not change.
package types

import (
	"fmt"
	"strings"
)

// Lifecycle is the durable state of an installed cargo.
type Lifecycle string

const (
	// LifecycleCached means the current version is fully committed and servable.
	LifecycleCached Lifecycle = "cached"
	// LifecycleUpdating means an update attempt owns the pending block.
	LifecycleUpdating Lifecycle = "updating"
	// LifecycleUpdateFailed means the last attempt hit an unrecoverable error.
	LifecycleUpdateFailed Lifecycle = "update-failed"
	// LifecycleUpdateAborted means the last attempt was cancelled.
	LifecycleUpdateAborted Lifecycle = "update-aborted"
	// LifecycleArchived means the cargo was removed and must not be reinstalled automatically.
	LifecycleArchived Lifecycle = "archived"
)

// AllLifecycles returns all valid lifecycle states.
func AllLifecycles() []Lifecycle {
	return []Lifecycle{
		LifecycleCached,
		LifecycleUpdating,
		LifecycleUpdateFailed,
		LifecycleUpdateAborted,
		LifecycleArchived,
	}
}

// Validate checks if the Lifecycle is a valid value.
func (l Lifecycle) Validate() error {
	switch l {
	case LifecycleCached, LifecycleUpdating, LifecycleUpdateFailed, LifecycleUpdateAborted, LifecycleArchived:
		return nil
	case "":
		return fmt.Errorf("lifecycle state is required")
	default:
		return fmt.Errorf("invalid lifecycle state '%s'", l)
	}
}

// String returns the string representation of the Lifecycle.
func (l Lifecycle) String() string {
	return string(l)
}

// IsResumable reports whether a pending download in this state may be retried.
func (l Lifecycle) IsResumable() bool {
	return l == LifecycleUpdateFailed || l == LifecycleUpdateAborted
}

// ParseLifecycle parses a string into a Lifecycle.
func ParseLifecycle(s string) (Lifecycle, error) {
	l := Lifecycle(strings.ToLower(strings.TrimSpace(s)))
	if err := l.Validate(); err != nil {
		return "", err
	}
	return l, nil
}

// Phase is the in-memory position of a cargo in the update state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseChecking    Phase = "checking"
	PhaseQueued      Phase = "queued"
	PhaseDownloading Phase = "downloading"
	PhaseVerifying   Phase = "verifying"
	PhaseCommitting  Phase = "committing"
	PhaseCached      Phase = "cached"
	PhaseFailed      Phase = "failed"
	PhaseAborted     Phase = "aborted"
)

// String returns the string representation of the Phase.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal reports whether no further transitions follow in the current attempt.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCached, PhaseFailed, PhaseAborted:
		return true
	}
	return false
}

// Outcome discriminates the result of an update check.
type Outcome string

const (
	OutcomeNoPreviousInstall       Outcome = "no-previous-install"
	OutcomeUpToDate                Outcome = "up-to-date"
	OutcomeUpdateAvailable         Outcome = "update-available"
	OutcomeUpdateInsufficientSpace Outcome = "update-available-insufficient-space"
	OutcomeResumeNeeded            Outcome = "resume-needed"
	OutcomeCheckFailed             Outcome = "check-failed"
)

// AllOutcomes returns every check outcome.
func AllOutcomes() []Outcome {
	return []Outcome{
		OutcomeNoPreviousInstall,
		OutcomeUpToDate,
		OutcomeUpdateAvailable,
		OutcomeUpdateInsufficientSpace,
		OutcomeResumeNeeded,
		OutcomeCheckFailed,
	}
}

// String returns the string representation of the Outcome.
func (o Outcome) String() string {
	return string(o)
}

// Executable reports whether an update may be started from this outcome.
// Disk space is checked separately.
func (o Outcome) Executable() bool {
	switch o {
	case OutcomeNoPreviousInstall, OutcomeUpdateAvailable, OutcomeResumeNeeded:
		return true
	}
	return false
}
