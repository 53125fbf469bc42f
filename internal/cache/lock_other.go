//go:build !unix

package cache

import (
	"sync"
)

// TryLock only excludes other users of this Disk: there is no flock on this
// platform.
func (d *Disk) TryLock(cargoID string) (func(), error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held[cargoID] {
		return nil, ErrLocked
	}
	d.held[cargoID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.held, cargoID)
			d.mu.Unlock()
		})
	}, nil
}
