package report

import (
	"path/filepath"
	"sync"
	"time"
)

// progressDebounce bounds how often progress-only updates hit the disk.
const progressDebounce = 100 * time.Millisecond

// IndexWriter provides thread-safe updates to the report index.
type IndexWriter struct {
	mu    sync.Mutex
	path  string
	index *Index

	// Debouncing for progress updates
	pending map[string]*FlowUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates a new IndexWriter.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		path:    filepath.Join(outputDir, "report.json"),
		index:   index,
		pending: make(map[string]*FlowUpdate),
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now
	w.index.LastUpdated = now

	w.flushLocked()
}

// UpdateFlow updates a flow entry in the index.
// Terminal states flush immediately; progress updates are debounced.
func (w *IndexWriter) UpdateFlow(flowID string, update *FlowUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[flowID] = merge(w.pending[flowID], update)

	if update.Status.IsTerminal() || w.closed {
		w.flushLocked()
		return
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(progressDebounce, w.flush)
	}
}

// merge keeps fields of an older pending update that a newer progress-only
// update leaves unset (the start time, most importantly).
func merge(prev, next *FlowUpdate) *FlowUpdate {
	if prev == nil {
		return next
	}
	merged := *next
	if merged.StartTime == nil {
		merged.StartTime = prev.StartTime
	}
	if merged.EndTime == nil {
		merged.EndTime = prev.EndTime
	}
	if merged.Duration == nil {
		merged.Duration = prev.Duration
	}
	if merged.Error == nil {
		merged.Error = prev.Error
	}
	return &merged
}

// End marks the run as complete.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Apply pending updates before computing the run status
	w.applyPendingLocked()

	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()

	w.flushLocked()
}

// Close stops the debounce timer and flushes any pending updates.
// Safe to call multiple times.
func (w *IndexWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.flushLocked()
}

// GetIndex returns the current index (for reading).
func (w *IndexWriter) GetIndex() *Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyPendingLocked()
	return w.index
}

// flush applies pending updates and writes to disk.
func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *IndexWriter) applyPendingLocked() {
	for flowID, update := range w.pending {
		w.applyUpdate(flowID, update)
	}
	w.pending = make(map[string]*FlowUpdate)
}

// flushLocked flushes while holding the lock.
func (w *IndexWriter) flushLocked() {
	w.applyPendingLocked()

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	_ = atomicWriteJSON(w.path, w.index)
}

// applyUpdate applies a FlowUpdate to the index.
func (w *IndexWriter) applyUpdate(flowID string, update *FlowUpdate) {
	for i := range w.index.Flows {
		if w.index.Flows[i].ID != flowID {
			continue
		}
		f := &w.index.Flows[i]
		f.Status = update.Status
		if update.StartTime != nil {
			f.StartTime = update.StartTime
		}
		if update.EndTime != nil {
			f.EndTime = update.EndTime
		}
		if update.Duration != nil {
			f.Duration = update.Duration
		}
		f.Commands = update.Commands
		if update.Error != nil {
			f.Error = update.Error
		}
		f.UpdateSeq++
		now := time.Now()
		f.LastUpdated = &now
		return
	}
}

// computeSummary calculates summary from flow statuses.
func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, f := range w.index.Flows {
		s.Total++
		switch f.Status {
		case StatusPassed, StatusWarned:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from flows. Flows still
// pending when the run ends were never started (stop on failure, cancel)
// and do not keep the run open.
func (w *IndexWriter) computeRunStatus() Status {
	for _, f := range w.index.Flows {
		if f.Status == StatusFailed {
			return StatusFailed
		}
	}
	for _, f := range w.index.Flows {
		if f.Status == StatusRunning {
			return StatusRunning
		}
	}
	return StatusPassed
}

// MarkSkipped marks a flow that never ran as skipped.
func (w *IndexWriter) MarkSkipped(flowID, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var cmds CommandSummary
	for _, f := range w.index.Flows {
		if f.ID == flowID {
			cmds = CommandSummary{Total: f.Commands.Total, Skipped: f.Commands.Total}
		}
	}
	w.pending[flowID] = &FlowUpdate{Status: StatusSkipped, Commands: cmds, Error: &reason}
	w.flushLocked()
}
