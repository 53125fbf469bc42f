//go:build !unix

package transport

import (
	"fmt"

	"github.com/adamancini/hold/internal/budget"
)

func volumeQuota(dir string) (budget.Quota, error) {
	return budget.Quota{}, fmt.Errorf("volume quota is not supported on this platform, set quota_bytes")
}
