package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the minimum required file descriptor limit. The
// bleve index alone keeps dozens of segment files open per tenant, on top
// of SQLite and the HTTP listener.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks whether the soft NOFILE limit is sufficient,
// downgrading to a warning when the hard limit would allow raising it.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	if rLimit.Cur < MinFileDescriptors {
		if rLimit.Max >= MinFileDescriptors {
			result.Status = StatusWarn
			result.Message = fmt.Sprintf("soft limit %d is low (minimum: %d)", rLimit.Cur, MinFileDescriptors)
			result.Details = fmt.Sprintf("Run 'ulimit -n %d' to raise it", rLimit.Max)
			return result
		}
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
		result.Details = "Raise the NOFILE hard limit for the service user"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	return result
}
