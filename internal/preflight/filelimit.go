package preflight

import (
	"fmt"
	"syscall"
)

// Descriptor budget. A category holds its fsnotify instance (inotify fd
// plus wake pipe) and, while a file moves through the pipeline, the
// inbox source, the processed target and whatever the extractor opens.
// The base covers stdio, the log file, the lock file, the control
// listener and the index store's own files.
const (
	baseFileDescriptors        = 64
	watchFileDescriptors       = 3
	pipelineFileDescriptors    = 4
	fileDescriptorHeadroomMult = 4
)

// RequiredFileDescriptors is the smallest RLIMIT_NOFILE the daemon can run
// with when watching the given number of categories.
func RequiredFileDescriptors(categories int) uint64 {
	if categories < 1 {
		categories = 1
	}
	return baseFileDescriptors + uint64(categories)*(watchFileDescriptors+pipelineFileDescriptors)
}

// CheckFileDescriptors compares the soft descriptor limit with what the
// given number of category watchers needs.
func (c *Checker) CheckFileDescriptors(categories int) CheckResult {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return CheckResult{
			Name:     "file_descriptors",
			Required: true,
			Status:   StatusFail,
			Message:  fmt.Sprintf("failed to read descriptor limit: %v", err),
		}
	}
	return evaluateFileLimit(uint64(rLimit.Cur), categories)
}

// evaluateFileLimit fails below the requirement and warns below the
// headroom that burst drops and index compaction can use up.
func evaluateFileLimit(limit uint64, categories int) CheckResult {
	required := RequiredFileDescriptors(categories)
	comfortable := required * fileDescriptorHeadroomMult
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
		Message:  fmt.Sprintf("%d (need %d for %d categories)", limit, required, max(categories, 1)),
	}

	switch {
	case limit < required:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("raise the limit with 'ulimit -n %d' before starting the daemon", comfortable)
	case limit < comfortable:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("bursts of drops may exhaust it; %d is recommended", comfortable)
	default:
		result.Status = StatusPass
	}
	return result
}
