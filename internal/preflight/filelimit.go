package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors covers the SQLite WAL files, the index artifacts and
// the broker and model server sockets with room to spare.
const MinFileDescriptors = 256

// CheckFileDescriptors checks the open file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: false,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "Run 'ulimit -n 1024' to increase the limit"
		return result
	}
	result.Status = StatusPass
	return result
}
