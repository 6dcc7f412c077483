package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

// FlowWriter writes updates for a single flow.
// Flows run one at a time, so a FlowWriter is never shared.
type FlowWriter struct {
	flow      *FlowDetail
	path      string
	assetsDir string
	assetsErr error // set when assetsDir could not be created
	index     *IndexWriter
}

// NewFlowWriter creates a new FlowWriter for a flow.
func NewFlowWriter(flowDetail *FlowDetail, outputDir string, index *IndexWriter) *FlowWriter {
	flowPath := filepath.Join(outputDir, "flows", flowDetail.ID+".json")
	assetsDir := filepath.Join(outputDir, "assets", flowDetail.ID)

	w := &FlowWriter{
		flow:      flowDetail,
		path:      flowPath,
		assetsDir: assetsDir,
		index:     index,
	}
	if err := ensureDir(assetsDir); err != nil {
		w.assetsErr = fmt.Errorf("create assets directory %s: %w", assetsDir, err)
		logger.Warn("flow %s: %v", flowDetail.ID, w.assetsErr)
	}
	return w
}

// Start marks the flow as started.
func (w *FlowWriter) Start() {
	now := time.Now()
	w.flow.StartTime = now

	w.flush()
	w.updateIndex(StatusRunning, &now, nil, nil, nil)
}

// CommandStart marks a command as started.
func (w *FlowWriter) CommandStart(cmdIndex int) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = StatusRunning
	cmd.StartTime = &now

	w.flush()
	w.updateIndexProgress()
}

// CommandEnd marks a command as complete.
func (w *FlowWriter) CommandEnd(cmdIndex int, status Status, message string, err *Error, artifacts CommandArtifacts) {
	w.CommandEndWithSubs(cmdIndex, status, message, err, artifacts, nil)
}

// CommandEndWithSubs marks a command as complete with the commands it ran.
func (w *FlowWriter) CommandEndWithSubs(cmdIndex int, status Status, message string, err *Error, artifacts CommandArtifacts, subCommands []Command) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = status
	cmd.EndTime = &now

	if cmd.StartTime != nil {
		duration := now.Sub(*cmd.StartTime).Milliseconds()
		cmd.Duration = &duration
	}

	cmd.Message = message
	cmd.Error = err
	cmd.Artifacts = artifacts
	cmd.SubCommands = subCommands

	w.flush()
	w.updateIndexProgress()
}

// End marks the flow as complete. A failed flow carries the first command
// error into the index, or errMsg when no command failed (a broken hook).
func (w *FlowWriter) End(status Status, errMsg string) {
	now := time.Now()
	w.flow.EndTime = &now

	var duration int64
	if !w.flow.StartTime.IsZero() {
		duration = now.Sub(w.flow.StartTime).Milliseconds()
		w.flow.Duration = &duration
	}

	w.flush()

	var flowErr *string
	if status == StatusFailed {
		for _, cmd := range w.flow.Commands {
			if cmd.Error != nil {
				flowErr = &cmd.Error.Message
				break
			}
		}
		if flowErr == nil && errMsg != "" {
			flowErr = &errMsg
		}
	}

	w.updateIndex(status, nil, &now, &duration, flowErr)
}

// SaveScreenshot saves a screenshot and returns the relative path.
func (w *FlowWriter) SaveScreenshot(cmdIndex int, timing string, data []byte) (string, error) {
	return w.save(fmt.Sprintf("cmd-%03d-%s.png", cmdIndex, timing), data)
}

// SavePageSource saves the DOM at failure time and returns the relative path.
func (w *FlowWriter) SavePageSource(cmdIndex int, data []byte) (string, error) {
	return w.save(fmt.Sprintf("cmd-%03d-page.html", cmdIndex), data)
}

// SaveAttachment saves a named artifact (takeScreenshot output) and returns
// the relative path.
func (w *FlowWriter) SaveAttachment(name string, data []byte) (string, error) {
	return w.save(filepath.Base(name), data)
}

func (w *FlowWriter) save(filename string, data []byte) (string, error) {
	if w.assetsErr != nil {
		return "", w.assetsErr
	}
	absPath := filepath.Join(w.assetsDir, filename)
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return "", err
	}
	// Relative path for JSON
	return filepath.Join("assets", w.flow.ID, filename), nil
}

// GetFlowDetail returns the current flow detail (for reading).
func (w *FlowWriter) GetFlowDetail() *FlowDetail {
	return w.flow
}

// flush writes the flow detail to disk.
func (w *FlowWriter) flush() {
	if err := atomicWriteJSON(w.path, w.flow); err != nil {
		logger.Warn("write flow report %s: %v", w.path, err)
	}
}

// updateIndex updates the index with current flow state.
func (w *FlowWriter) updateIndex(status Status, startTime, endTime *time.Time, duration *int64, errMsg *string) {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:    status,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Commands:  w.commandSummary(),
		Error:     errMsg,
	})
}

// updateIndexProgress updates the index with progress only.
func (w *FlowWriter) updateIndexProgress() {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:   StatusRunning,
		Commands: w.commandSummary(),
	})
}

// commandSummary computes command summary. Warned commands count as passed.
func (w *FlowWriter) commandSummary() CommandSummary {
	var s CommandSummary
	s.Total = len(w.flow.Commands)

	for i, cmd := range w.flow.Commands {
		switch cmd.Status {
		case StatusPassed, StatusWarned:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
			idx := i
			s.Current = &idx
		case StatusPending:
			s.Pending++
		}
	}

	return s
}

// SkipRemainingCommands marks all pending commands as skipped.
// Called when a command fails and we need to skip the rest.
func (w *FlowWriter) SkipRemainingCommands(fromIndex int) {
	for i := fromIndex; i < len(w.flow.Commands); i++ {
		if w.flow.Commands[i].Status == StatusPending {
			w.flow.Commands[i].Status = StatusSkipped
		}
	}
	w.flush()
}
