package preflight

import (
	"fmt"
	"syscall"
)

// The data directory holds the chunk database, the bleve index, and HNSW
// snapshots, all of which grow with the corpus. Below MinDiskSpaceBytes the
// service refuses to start; below WarnDiskSpaceBytes it starts with a warning.
const (
	MinDiskSpaceBytes  = 100 * 1024 * 1024
	WarnDiskSpaceBytes = 1024 * 1024 * 1024
)

// CheckDiskSpace checks free disk space under the data directory.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)

	switch {
	case availableBytes < MinDiskSpaceBytes:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(availableBytes), formatBytes(MinDiskSpaceBytes))
	case availableBytes < WarnDiskSpaceBytes:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s free, indexes may outgrow this volume", formatBytes(availableBytes))
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s free", formatBytes(availableBytes))
	}
	return result
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
