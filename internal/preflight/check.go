// Package preflight runs system checks before docqa starts working: data
// directories must be writable with free space, and the embedder, store,
// vector index and queue must answer.
//
//	checker := preflight.New(preflight.WithDataDirs(dir), preflight.WithProbe(p))
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds each probe.
const DefaultProbeTimeout = 10 * time.Second

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
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
	return []byte(strings.ToLower(s.String())), nil
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

// Probe checks one collaborator. Check returns a short status message.
type Probe struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) (string, error)
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
	dirs    []string
	probes  []Probe
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
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

// WithDataDirs adds directories that must be writable with free space.
func WithDataDirs(dirs ...string) Option {
	return func(c *Checker) {
		c.dirs = append(c.dirs, dirs...)
	}
}

// WithProbe adds a collaborator probe.
func WithProbe(p Probe) Option {
	return func(c *Checker) {
		c.probes = append(c.probes, p)
	}
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.timeout = d
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:  os.Stdout,
		timeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs directory checks, the file descriptor check, then every probe
// in the order added.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	var results []CheckResult

	seen := make(map[string]bool)
	for _, dir := range c.dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		results = append(results, c.CheckWritePermissions(dir), c.CheckDiskSpace(dir))
	}

	results = append(results, c.CheckFileDescriptors())

	for _, p := range c.probes {
		results = append(results, c.runProbe(ctx, p))
	}
	return results
}

func (c *Checker) runProbe(ctx context.Context, p Probe) CheckResult {
	result := CheckResult{Name: p.Name, Required: p.Required}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := p.Check(ctx)
	if err != nil {
		result.Status = StatusWarn
		if p.Required {
			result.Status = StatusFail
		}
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = msg
	return result
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

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "docqa system check")
	_, _ = fmt.Fprintln(c.output, "==================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckWritePermissions creates dir if needed and writes a probe file in it.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
		Details:  dir,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	testFile := filepath.Join(dir, ".docqa-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
