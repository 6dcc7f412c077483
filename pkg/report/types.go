// Package report provides JSON-based test reporting with real-time updates.
//
// Architecture:
//   - report.json: Main index file (small, frequently updated, mutex-protected)
//   - flows/flow-XXX.json: Per-flow detail files (no lock needed)
//   - assets/flow-XXX/: Per-flow artifacts (screenshots, page sources)
//
// The index file serves as single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed flow details as needed.
package report

import (
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusWarned  Status = "warned" // an optional command failed
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusWarned || s == StatusFailed || s == StatusSkipped
}

// FromStepStatus maps an execution status onto the report vocabulary.
// Errored steps are reported as failed; the error type keeps the category.
func FromStepStatus(s core.StepStatus) Status {
	switch s {
	case core.StatusRunning:
		return StatusRunning
	case core.StatusPassed:
		return StatusPassed
	case core.StatusWarned:
		return StatusWarned
	case core.StatusFailed, core.StatusErrored:
		return StatusFailed
	case core.StatusSkipped:
		return StatusSkipped
	default:
		return StatusPending
	}
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
// It contains minimal info for efficient polling and change detection.
type Index struct {
	Version     string           `json:"version"`
	RunID       string           `json:"runId"`
	UpdateSeq   uint64           `json:"updateSeq"`
	Status      Status           `json:"status"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated"`
	Browser     core.BrowserInfo `json:"browser"`
	CI          *CI              `json:"ci,omitempty"`
	Runner      RunnerInfo       `json:"runner"`
	Summary     Summary          `json:"summary"`
	Flows       []FlowEntry      `json:"flows"`
}

// CI contains CI/CD build information.
type CI struct {
	Provider string `json:"provider,omitempty"`
	BuildID  string `json:"buildId,omitempty"`
	BuildURL string `json:"buildUrl,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
}

// RunnerInfo contains browser-runner information.
type RunnerInfo struct {
	Version string `json:"version"`
	Backend string `json:"backend"` // webdriver, playwright, cdp
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// FlowEntry is the index entry for a flow (minimal info).
type FlowEntry struct {
	Index       int            `json:"index"`      // Original position
	ID          string         `json:"id"`         // Unique flow ID
	Name        string         `json:"name"`       // Display name
	SourceFile  string         `json:"sourceFile"` // Path to YAML file
	DataFile    string         `json:"dataFile"`   // Path to flow detail JSON
	AssetsDir   string         `json:"assetsDir"`  // Path to assets directory
	Status      Status         `json:"status"`
	UpdateSeq   uint64         `json:"updateSeq"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Duration    *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time     `json:"lastUpdated,omitempty"`
	Commands    CommandSummary `json:"commands"`
	Error       *string        `json:"error,omitempty"`
}

// CommandSummary contains command counts for a flow.
type CommandSummary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Running int  `json:"running"`
	Pending int  `json:"pending"`
	Current *int `json:"current,omitempty"` // Currently running command index
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full flow execution details.
type FlowDetail struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceFile string     `json:"sourceFile"`
	URL        string     `json:"url,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   *int64     `json:"duration,omitempty"` // milliseconds
	Commands   []Command  `json:"commands"`
}

// Command represents a single command execution.
type Command struct {
	ID          string           `json:"id"`
	Index       int              `json:"index"`
	Type        string           `json:"type"`
	Label       string           `json:"label,omitempty"` // Human-readable description from YAML label field
	YAML        string           `json:"yaml,omitempty"`
	Status      Status           `json:"status"`
	StartTime   *time.Time       `json:"startTime,omitempty"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Duration    *int64           `json:"duration,omitempty"` // milliseconds
	Params      *CommandParams   `json:"params,omitempty"`
	Message     string           `json:"message,omitempty"`
	Error       *Error           `json:"error,omitempty"`
	Artifacts   CommandArtifacts `json:"artifacts"`
	SubCommands []Command        `json:"subCommands,omitempty"` // runFlow and repeat bodies
}

// CommandParams contains command-specific parameters.
type CommandParams struct {
	Locator string   `json:"locator,omitempty"` // strategy=selector form
	Args    []string `json:"args,omitempty"`    // xpath template args
	Text    string   `json:"text,omitempty"`
	Timeout int      `json:"timeout,omitempty"`
}

// Error contains error details.
type Error struct {
	Type    string `json:"type"` // assertion, timeout, connection, page, config
	Message string `json:"message"`
}

// ============================================================================
// ARTIFACTS (paths only, never inline data)
// ============================================================================

// CommandArtifacts contains command-level artifact paths.
type CommandArtifacts struct {
	ScreenshotBefore string `json:"screenshotBefore,omitempty"`
	ScreenshotAfter  string `json:"screenshotAfter,omitempty"`
	PageSource       string `json:"pageSource,omitempty"`
	Screenshot       string `json:"screenshot,omitempty"` // takeScreenshot output
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// FlowUpdate contains the fields to update in index for a flow.
type FlowUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Commands  CommandSummary
	Error     *string
}
