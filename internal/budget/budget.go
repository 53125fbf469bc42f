// Package budget estimates the storage cost of moving a cargo between versions.
package budget

import (
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/adamancini/hold/internal/manifest"
)

// Quota is the host's reported storage capacity.
type Quota struct {
	Total int64 `json:"total" yaml:"total"`
	Used  int64 `json:"used" yaml:"used"`
}

// Available returns the free bytes, never negative.
func (q Quota) Available() int64 {
	if q.Used >= q.Total {
		return 0
	}
	return q.Total - q.Used
}

// Report is the derived disk budget for a proposed update.
type Report struct {
	BytesNeeded         int64  `json:"bytesNeededToDownload" yaml:"bytesNeededToDownload"`
	BytesNeededFriendly string `json:"bytesNeededToDownloadFriendly" yaml:"bytesNeededToDownloadFriendly"`
	EnoughSpace         bool   `json:"enoughSpaceForPackage" yaml:"enoughSpaceForPackage"`
	QuotaTotal          int64  `json:"quotaTotal" yaml:"quotaTotal"`
	QuotaUsed           int64  `json:"quotaUsed" yaml:"quotaUsed"`
}

// Diff returns the target files that are absent from previous or whose size
// changed. Changed files are fetched whole. The result keeps target order.
func Diff(previous map[string]int64, target []manifest.File) []manifest.File {
	out := make([]manifest.File, 0, len(target))
	for _, f := range target {
		size, ok := previous[f.Name]
		if ok && size == f.Bytes {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Unchanged returns the target files already present in previous with the same size.
func Unchanged(previous map[string]int64, target []manifest.File) []manifest.File {
	out := make([]manifest.File, 0, len(target))
	for _, f := range target {
		if size, ok := previous[f.Name]; ok && size == f.Bytes {
			out = append(out, f)
		}
	}
	return out
}

// Obsolete returns the previous paths the target no longer references, sorted.
func Obsolete(previous map[string]int64, target []manifest.File) []string {
	keep := make(map[string]bool, len(target))
	for _, f := range target {
		keep[f.Name] = true
	}
	var out []string
	for name := range previous {
		if !keep[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Sum adds up file sizes.
func Sum(files []manifest.File) int64 {
	var total int64
	for _, f := range files {
		total += f.Bytes
	}
	return total
}

// Estimate computes the bytes to download for target against previous and
// compares them with the free quota. Bytes freed by obsolete files are not
// credited.
func Estimate(previous map[string]int64, target []manifest.File, quota Quota) Report {
	return ForBytes(Sum(Diff(previous, target)), quota)
}

// ForBytes builds a report for a known download size.
func ForBytes(needed int64, quota Quota) Report {
	return Report{
		BytesNeeded:         needed,
		BytesNeededFriendly: Friendly(needed),
		EnoughSpace:         quota.Total-quota.Used >= needed,
		QuotaTotal:          quota.Total,
		QuotaUsed:           quota.Used,
	}
}

// Friendly formats a byte count in binary units.
func Friendly(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
