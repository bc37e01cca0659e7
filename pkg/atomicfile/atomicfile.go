// Package atomicfile writes files so that readers only ever observe the
// previous contents or the complete new contents.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeromicro/go-zero/core/logx"
)

// Permissions used for wallet data.
const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// Disk capacity thresholds
const (
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

// ErrInsufficientDisk is returned when the target filesystem is nearly full.
var ErrInsufficientDisk = errors.New("atomicfile: insufficient disk space")

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`
}

// Replaced in tests to simulate a crash before the rename lands.
var (
	rename    = os.Rename
	diskSpace = CheckDiskSpace
)

// WriteFile replaces path with data.
//
// The data goes to a temporary file in the same directory, is flushed to
// stable storage and is then renamed over path. On any failure the
// temporary file is removed and the original error is returned.
func WriteFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := checkDiskSpaceForWrite(dir, len(data)); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = f.Chmod(perm); err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = rename(tmp, path); err != nil {
		return err
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives power loss.
// Not every platform supports fsync on a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// EnsureDir creates dir and any missing parents with DirMode.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("atomicfile: failed to create directory: %w", err)
	}
	return nil
}

// checkDiskSpaceForWrite verifies sufficient disk space before write operations
func checkDiskSpaceForWrite(dir string, dataSize int) error {
	info, err := diskSpace(dir)
	if err != nil {
		// Log warning but don't block operation
		logx.Infow("failed to check disk space", logx.Field("dir", dir), logx.Field("error", err.Error()))
		return nil
	}

	// Need at least MinDiskSpaceBytes or 2x the data size, whichever is larger
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			info.Available/(1024*1024),
			required/(1024*1024))
	}

	if info.UsedPct >= DiskWarningPercent {
		logx.Infof("disk is %d%% full, consider freeing space", info.UsedPct)
	}

	return nil
}
