//go:build unix

package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// TryLock takes an exclusive flock on <root>/.locks/<cargo id>.lock. The
// kernel releases it when the process exits.
func (d *Disk) TryLock(cargoID string) (func(), error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return nil, err
	}
	dir := filepath.Join(d.root, lockDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, cargoID+".lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock %s: %w", cargoID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
				d.log.WithError(err).WithField("cargo", cargoID).Warn("Failed to release cargo lock")
			}
			f.Close()
		})
	}, nil
}
