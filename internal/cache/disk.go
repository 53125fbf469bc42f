package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	activeFile   = "active"
	namespaceDir = "ns"
	tempPrefix   = ".tmp-"
	lockDir      = ".locks"
)

// Disk is a Cache rooted in a directory:
//
//	<root>/<cargo id>/active           name of the active tag
//	<root>/<cargo id>/ns/<tag>/<path>  namespace files
//	<root>/.locks/<cargo id>.lock      update lock, see TryLock
//
// Files and the active pointer are written to a temporary file and renamed
// into place, so a crash never leaves a half written entry behind.
type Disk struct {
	root string
	log  *logrus.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	held  map[string]bool
}

// NewDisk creates a disk cache rooted at root.
func NewDisk(root string, log *logrus.Entry) (*Disk, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Disk{
		root:  root,
		log:   log.WithField("component", "cache"),
		locks: make(map[string]*sync.Mutex),
		held:  make(map[string]bool),
	}, nil
}

// Root returns the cache directory.
func (d *Disk) Root() string {
	return d.root
}

func (d *Disk) cargoLock(cargoID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[cargoID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[cargoID] = l
	}
	return l
}

func (d *Disk) tagDir(cargoID, tag string) string {
	return filepath.Join(d.root, cargoID, namespaceDir, tag)
}

func (d *Disk) Put(ctx context.Context, cargoID, tag, p string, data []byte) error {
	key, err := validateFile(cargoID, tag, p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(d.tagDir(cargoID, tag), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}
	return writeAtomic(dst, data)
}

func (d *Disk) Get(ctx context.Context, cargoID, tag, p string) ([]byte, error) {
	key, err := validateFile(cargoID, tag, p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(d.tagDir(cargoID, tag), filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached file: %w", err)
	}
	return data, nil
}

func (d *Disk) List(ctx context.Context, cargoID, tag string) (map[string]int64, error) {
	if err := validateNamespace(cargoID, tag); err != nil {
		return nil, err
	}

	dir := d.tagDir(cargoID, tag)
	out := make(map[string]int64)
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s/%s: %w", cargoID, tag, err)
	}
	return out, nil
}

func (d *Disk) Delete(ctx context.Context, cargoID, tag, p string) error {
	key, err := validateFile(cargoID, tag, p)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(d.tagDir(cargoID, tag), filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cached file: %w", err)
	}
	return nil
}

func (d *Disk) DeleteAll(ctx context.Context, cargoID, tag string) error {
	files, err := d.List(ctx, cargoID, tag)
	if err != nil {
		return err
	}

	var errs []error
	for p := range files {
		if err := d.Delete(ctx, cargoID, tag, p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := os.RemoveAll(d.tagDir(cargoID, tag)); err != nil {
		return fmt.Errorf("failed to remove namespace directory: %w", err)
	}
	return nil
}

func (d *Disk) Active(ctx context.Context, cargoID string) (string, error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(d.root, cargoID, activeFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (d *Disk) Tags(ctx context.Context, cargoID string) ([]string, error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(d.root, cargoID, namespaceDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read namespaces: %w", err)
	}

	var tags []string
	for _, e := range entries {
		if e.IsDir() {
			tags = append(tags, e.Name())
		}
	}
	sort.Strings(tags)
	return tags, nil
}

func (d *Disk) SwapNamespace(ctx context.Context, cargoID, from, to string) error {
	if err := validateNamespace(cargoID, to); err != nil {
		return err
	}
	if from == to {
		return ErrSwapConflict
	}

	l := d.cargoLock(cargoID)
	l.Lock()
	defer l.Unlock()

	current, err := d.Active(ctx, cargoID)
	if err != nil {
		return err
	}
	if current != from {
		return fmt.Errorf("%w: expected %q, found %q", ErrSwapConflict, from, current)
	}

	if err := os.MkdirAll(d.tagDir(cargoID, to), 0755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}
	if err := writeAtomic(filepath.Join(d.root, cargoID, activeFile), []byte(to+"\n")); err != nil {
		return fmt.Errorf("failed to switch active namespace: %w", err)
	}

	if from == "" {
		return nil
	}
	if err := d.DeleteAll(ctx, cargoID, from); err != nil {
		// The swap already happened; leftovers are removed on uninstall.
		d.log.WithFields(logrus.Fields{
			"cargo": cargoID,
			"tag":   from,
		}).WithError(err).Warn("failed to remove retired namespace")
	}
	return nil
}

func (d *Disk) ClearActive(ctx context.Context, cargoID string) error {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return err
	}

	l := d.cargoLock(cargoID)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(filepath.Join(d.root, cargoID, activeFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear active pointer: %w", err)
	}
	return nil
}

// writeAtomic writes data next to dst and renames it into place.
func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
