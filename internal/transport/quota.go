package transport

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adamancini/hold/internal/budget"
)

// DiskQuota reports the space of the volume holding Dir. With a Cap set the
// quota is Cap bytes and usage is what Dir itself occupies.
type DiskQuota struct {
	Dir string
	Cap int64
}

// NewDiskQuota creates a quota source for dir.
func NewDiskQuota(dir string, limit int64) *DiskQuota {
	return &DiskQuota{Dir: dir, Cap: limit}
}

func (d *DiskQuota) QueryQuota(ctx context.Context) (budget.Quota, error) {
	if d.Cap > 0 {
		used, err := dirSize(ctx, d.Dir)
		if err != nil {
			return budget.Quota{}, err
		}
		return budget.Quota{Total: d.Cap, Used: used}, nil
	}

	dir := d.Dir
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return volumeQuota(dir)
}

// dirSize adds up the sizes of regular files under dir. A missing dir is empty.
func dirSize(ctx context.Context, dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", dir, err)
	}
	return total, nil
}
