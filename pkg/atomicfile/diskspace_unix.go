//go:build !windows

package atomicfile

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace returns disk space information for the filesystem holding dir.
func CheckDiskSpace(dir string) (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		// Directory may not exist yet, check parent
		if err := unix.Statfs(filepath.Dir(dir), &stat); err != nil {
			return nil, fmt.Errorf("atomicfile: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(stat.Bsize) //nolint:gosec // block size is never negative
	total := stat.Blocks * bsize
	free := stat.Bfree * bsize
	available := stat.Bavail * bsize

	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}

	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: available,
		UsedPct:   usedPct,
	}, nil
}
