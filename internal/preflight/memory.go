package preflight

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the minimum recommended available memory (1GB). The
// HNSW graphs are held fully in memory, so running below this makes vector
// search swap-bound long before the corpus gets interesting.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory checks if there's sufficient memory available.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	available, ok := readAvailableMemory()
	if !ok {
		// No reliable reading on this platform. Pass with a note rather
		// than fail on an unknown.
		result.Status = StatusPass
		result.Message = "available memory unknown, skipping"
		return result
	}

	if available < MinMemoryBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s available (minimum: %s)", formatBytes(available), formatBytes(MinMemoryBytes))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available", formatBytes(available))
	return result
}

// readAvailableMemory reads MemAvailable from /proc/meminfo. Returns false
// on platforms without it.
func readAvailableMemory() (uint64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
