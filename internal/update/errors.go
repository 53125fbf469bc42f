package update

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/adamancini/hold/internal/budget"
)

var (
	// ErrArchived is reported when checking a cargo that was explicitly archived.
	ErrArchived = errors.New("cargo is archived")
	// ErrNotExecutable is returned when a check result does not allow an update.
	ErrNotExecutable = errors.New("check result does not allow an update")
	// ErrNotResumable is returned when there is no failed or aborted download to retry.
	ErrNotResumable = errors.New("no resumable download")
	// ErrNoUpdateInFlight is returned by Abort when nothing is downloading.
	ErrNoUpdateInFlight = errors.New("no update in flight")
	// ErrAborted is the terminal error of an aborted update.
	ErrAborted = errors.New("update aborted")
	// ErrClosed is returned after the orchestrator has been closed.
	ErrClosed = errors.New("orchestrator is closed")
	// ErrRecordChanged ends an attempt whose install record was rewritten by
	// someone else while it ran.
	ErrRecordChanged = errors.New("install record was changed by another update")
)

// ValidationError reports a manifest that failed validation.
type ValidationError struct {
	URL    string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest %s failed validation:\n  - %s", e.URL, strings.Join(e.Errors, "\n  - "))
}

// NetworkError reports a failed manifest or file fetch.
type NetworkError struct {
	URL    string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request to %s failed: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *NetworkError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}

// PartialError carries the bytes received before a fetch failed.
type PartialError struct {
	Data []byte
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("fetch interrupted after %d bytes: %v", len(e.Data), e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// QuotaError reports insufficient storage for an update.
type QuotaError struct {
	Needed    int64
	Available int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("not enough space: need %s, %s available",
		budget.Friendly(e.Needed), budget.Friendly(e.Available))
}

// ConcurrencyError is returned when an update for the cargo is already in flight.
type ConcurrencyError struct {
	CargoID string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("an update for cargo %s is already in flight", e.CargoID)
}

// IntegrityError reports staged files that do not match the target manifest.
type IntegrityError struct {
	CargoID  string
	Problems []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("cargo %s failed verification:\n  - %s", e.CargoID, strings.Join(e.Problems, "\n  - "))
}
