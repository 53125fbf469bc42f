// Package cache stores cargo files in tagged namespaces with an atomically
// switched active tag.
//
// Every cargo id owns any number of tags (one per version). Exactly one tag
// is active at a time. Readers that go through the active tag only ever see a
// fully committed file set: new versions are written under a staging tag and
// become visible through a single pointer swap.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a file or namespace does not exist.
	ErrNotFound = errors.New("cache entry not found")
	// ErrSwapConflict is returned when the active tag is not the expected one.
	ErrSwapConflict = errors.New("active namespace changed concurrently")
	// ErrInvalidPath is returned for paths, tags or ids that escape their namespace.
	ErrInvalidPath = errors.New("invalid cache path")
	// ErrLocked is returned by TryLock while another holder has the cargo locked.
	ErrLocked = errors.New("cargo is locked by another update")
)

// Cache is a host backed persistent file store keyed by cargo id, tag and path.
type Cache interface {
	Put(ctx context.Context, cargoID, tag, path string, data []byte) error
	Get(ctx context.Context, cargoID, tag, path string) ([]byte, error)
	// List returns every file in the namespace with its size.
	List(ctx context.Context, cargoID, tag string) (map[string]int64, error)
	Delete(ctx context.Context, cargoID, tag, path string) error
	// DeleteAll removes every file of the namespace, continuing past failures.
	DeleteAll(ctx context.Context, cargoID, tag string) error

	// Active returns the active tag, or "" when none is set.
	Active(ctx context.Context, cargoID string) (string, error)
	// Tags lists every tag that holds files for the cargo.
	Tags(ctx context.Context, cargoID string) ([]string, error)
	// SwapNamespace makes to the active tag if from is currently active, then
	// removes the files of from. The pointer change is a single step.
	SwapNamespace(ctx context.Context, cargoID, from, to string) error
	// ClearActive drops the active pointer.
	ClearActive(ctx context.Context, cargoID string) error
}

// Locker is implemented by caches that can be shared between processes. A
// cargo's lock is held for the whole life of an update attempt and is dropped
// when its holder exits, so a crashed process never keeps a cargo locked.
type Locker interface {
	// TryLock takes the cargo's update lock without waiting. It returns
	// ErrLocked when the lock is held elsewhere.
	TryLock(cargoID string) (unlock func(), err error)
}

// GetActive reads a file through the cargo's active tag.
func GetActive(ctx context.Context, c Cache, cargoID, p string) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := c.Active(ctx, cargoID)
		if err != nil {
			return nil, err
		}
		if tag == "" {
			return nil, ErrNotFound
		}

		data, err := c.Get(ctx, cargoID, tag, p)
		if errors.Is(err, ErrNotFound) {
			// A swap may have retired the tag between the two reads.
			if now, aerr := c.Active(ctx, cargoID); aerr == nil && now != tag {
				continue
			}
		}
		return data, err
	}
	return nil, ErrNotFound
}

// ListActive lists the files of the cargo's active tag. A cargo with no
// active tag has no files.
func ListActive(ctx context.Context, c Cache, cargoID string) (string, map[string]int64, error) {
	tag, err := c.Active(ctx, cargoID)
	if err != nil {
		return "", nil, err
	}
	if tag == "" {
		return "", map[string]int64{}, nil
	}
	files, err := c.List(ctx, cargoID, tag)
	if err != nil {
		return "", nil, err
	}
	return tag, files, nil
}

// CleanPath normalizes a manifest file name into a cache key.
func CleanPath(p string) (string, error) {
	p = strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
	cleaned := path.Clean(p)
	if p == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// checkSegment rejects ids and tags that cannot be used as a single directory name.
func checkSegment(kind, s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %s %q", ErrInvalidPath, kind, s)
	}
	return nil
}
