package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile is the name of the file that indicates preflight checks have passed.
const MarkerFile = ".preflight-passed"

// MarkerMaxAge is how long a passed check stays valid. Disk and backend
// conditions drift, so the checks rerun after a week even without
// changes to the data directory.
const MarkerMaxAge = 7 * 24 * time.Hour

// NeedsCheck returns true if preflight checks should be run: the marker
// file is missing, unreadable, or older than MarkerMaxAge.
func NeedsCheck(dataDir string) bool {
	age, ok := markerAge(dataDir)
	if !ok {
		return true
	}
	return age > MarkerMaxAge
}

// MarkPassed creates the marker file to indicate preflight checks passed.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	markerPath := filepath.Join(dataDir, MarkerFile)
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(markerPath, content, 0644)
}

// ClearMarker removes the marker file, forcing a re-check on next run.
func ClearMarker(dataDir string) error {
	markerPath := filepath.Join(dataDir, MarkerFile)
	err := os.Remove(markerPath)
	if os.IsNotExist(err) {
		return nil // already gone
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the preflight check passed.
// Returns zero if the marker doesn't exist or can't be parsed.
func MarkerAge(dataDir string) time.Duration {
	age, ok := markerAge(dataDir)
	if !ok {
		return 0
	}
	return age
}

func markerAge(dataDir string) (time.Duration, bool) {
	markerPath := filepath.Join(dataDir, MarkerFile)
	content, err := os.ReadFile(markerPath)
	if err != nil {
		return 0, false
	}

	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0, false
	}

	return time.Since(t), true
}
