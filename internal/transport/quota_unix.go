//go:build unix

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/adamancini/hold/internal/budget"
)

func volumeQuota(dir string) (budget.Quota, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return budget.Quota{}, fmt.Errorf("failed to stat filesystem of %s: %w", dir, err)
	}
	bsize := int64(st.Bsize)
	total := int64(st.Blocks) * bsize
	avail := int64(st.Bavail) * bsize
	return budget.Quota{Total: total, Used: total - avail}, nil
}
