package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/dropwatch/internal/output"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Targets names the directories a daemon run depends on.
type Targets struct {
	Root          string
	ProcessedRoot string
	DataDir       string
	Inboxes       []string
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks and returns the results.
func (c *Checker) RunAll(ctx context.Context, t Targets) []CheckResult {
	var results []CheckResult

	results = append(results, c.CheckDiskSpace(existingAncestor(t.ProcessedRoot)))

	for _, dir := range []string{t.Root, t.ProcessedRoot, t.DataDir} {
		if dir == "" || ctx.Err() != nil {
			continue
		}
		results = append(results, c.CheckWritePermissions(dir))
	}

	results = append(results, c.CheckFileDescriptors(len(t.Inboxes)))
	results = append(results, c.CheckInboxes(t.Inboxes))

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	w := output.New(c.output)
	w.Header("dropwatch system check")
	w.Newline()

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	w.Newline()
	status := c.SummaryStatus(results)
	switch status {
	case "failed":
		w.Errorf("Status: %s", strings.ToUpper(status))
	case "ready_with_warnings":
		w.Warningf("Status: %s", strings.ToUpper(status))
	default:
		w.Successf("Status: %s", strings.ToUpper(status))
	}

	for _, r := range results {
		if r.IsCritical() {
			w.Status("", "- "+r.Name+": "+r.Message)
		}
	}
}

// CheckWritePermissions checks that path, or its nearest existing parent
// when path does not exist yet, is writable.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	dir := existingAncestor(path)
	f, err := os.CreateTemp(dir, ".dropwatch-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s: permission denied: %v", path, err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = path
	return result
}

// CheckInboxes warns about missing inbox directories. They are created on
// startup, so this is never critical; a non-directory in the way is.
func (c *Checker) CheckInboxes(inboxes []string) CheckResult {
	result := CheckResult{
		Name:   "inboxes",
		Status: StatusPass,
	}

	var missing, blocked []string
	for _, inbox := range inboxes {
		info, err := os.Stat(inbox)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, filepath.Base(inbox))
		case err != nil:
			blocked = append(blocked, fmt.Sprintf("%s (%v)", filepath.Base(inbox), err))
		case !info.IsDir():
			blocked = append(blocked, filepath.Base(inbox)+" (not a directory)")
		}
	}

	switch {
	case len(blocked) > 0:
		result.Status = StatusFail
		result.Required = true
		result.Message = "unusable: " + strings.Join(blocked, ", ")
	case len(missing) > 0:
		result.Status = StatusWarn
		result.Message = "will be created: " + strings.Join(missing, ", ")
	default:
		result.Message = fmt.Sprintf("%d present", len(inboxes))
	}
	return result
}

// existingAncestor returns path or the closest parent that exists.
func existingAncestor(path string) string {
	if path == "" {
		return "."
	}
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
