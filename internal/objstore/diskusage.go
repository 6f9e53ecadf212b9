package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"syscall"
)

const gigabyte = 1e9

// logDiskUsage logs how full the filesystem holding path is and how much
// of it the store directory takes.
func logDiskUsage(ctx context.Context, logger *slog.Logger, path string) error {
	var disk syscall.Statfs_t
	if err := syscall.Statfs(path, &disk); err != nil {
		return fmt.Errorf("disk usage stats for %s: %w", path, err)
	}
	blockSize := uint64(disk.Bsize)

	var storeBytes int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		storeBytes += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk store directory %s: %w", path, err)
	}

	gb := func(n float64) string { return fmt.Sprintf("%.2f", n/gigabyte) }
	logger.InfoContext(ctx, "disk usage",
		logKeyPath, path,
		"totalGB", gb(float64(disk.Blocks*blockSize)),
		"usedGB", gb(float64((disk.Blocks-disk.Bfree)*blockSize)),
		"freeGB", gb(float64(disk.Bfree*blockSize)),
		"storeGB", gb(float64(storeBytes)))
	return nil
}
