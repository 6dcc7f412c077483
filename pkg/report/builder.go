package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	OutputDir     string           // Base output directory for reports
	Browser       core.BrowserInfo // Browser the run targets
	CI            *CI              // CI/CD information (optional)
	RunnerVersion string
}

// BuildSkeleton creates the initial report structure from parsed flows.
// All flows and commands are set to "pending" status.
// This should be called after YAML validation, before execution starts.
func BuildSkeleton(flows []flow.Flow, cfg BuilderConfig) (*Index, []FlowDetail, error) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		RunID:       uuid.NewString(),
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Browser:     cfg.Browser,
		CI:          cfg.CI,
		Runner: RunnerInfo{
			Version: cfg.RunnerVersion,
			Backend: cfg.Browser.Backend,
		},
		Summary: Summary{
			Total:   len(flows),
			Pending: len(flows),
		},
		Flows: make([]FlowEntry, len(flows)),
	}

	flowDetails := make([]FlowDetail, len(flows))

	for i, f := range flows {
		flowID := fmt.Sprintf("flow-%03d", i)
		flowName := FlowName(f)
		commands := buildCommands(f.Steps)

		index.Flows[i] = FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			AssetsDir:  filepath.Join("assets", flowID),
			Status:     StatusPending,
			Commands: CommandSummary{
				Total:   len(commands),
				Pending: len(commands),
			},
		}

		flowDetails[i] = FlowDetail{
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			URL:        f.Config.URL,
			Tags:       f.Config.Tags,
			Commands:   commands,
		}
	}

	return index, flowDetails, nil
}

// FlowName returns the configured flow name, or the file name without
// extension.
func FlowName(f flow.Flow) string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	base := filepath.Base(f.SourcePath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// buildCommands creates Command entries from flow steps.
func buildCommands(steps []flow.Step) []Command {
	commands := make([]Command, len(steps))
	for i, step := range steps {
		commands[i] = NewCommand(i, step)
		commands[i].ID = fmt.Sprintf("cmd-%03d", i)
	}
	return commands
}

// NewCommand builds a pending command entry for step.
func NewCommand(idx int, step flow.Step) Command {
	return Command{
		ID:     fmt.Sprintf("sub-%d", idx),
		Index:  idx,
		Type:   string(step.Type()),
		Label:  step.Label(),
		YAML:   step.Describe(),
		Status: StatusPending,
		Params: extractParams(step),
	}
}

// extractParams extracts command parameters from a step.
func extractParams(step flow.Step) *CommandParams {
	params := &CommandParams{}
	hasContent := false

	if t := targetOf(step); t != nil && !t.IsZero() {
		params.Locator = t.Locator
		params.Args = t.Args
		hasContent = true
	}

	switch s := step.(type) {
	case *flow.TypeStep:
		params.Text = s.Text
		hasContent = true
	case *flow.SelectStep:
		params.Text = s.Option
		hasContent = true
	case *flow.SelectCustomStep:
		params.Locator = s.Parent
		params.Text = s.Option
		hasContent = true
	case *flow.OpenURLStep:
		params.Text = s.URL
		hasContent = true
	}

	if ms := timeoutOf(step); ms > 0 {
		params.Timeout = ms
		hasContent = true
	}

	if !hasContent {
		return nil
	}
	return params
}

// targetOf returns the Target of steps that act on an element.
func targetOf(step flow.Step) *flow.Target {
	switch s := step.(type) {
	case *flow.ClickStep:
		return &s.Target
	case *flow.TypeStep:
		return &s.Target
	case *flow.CheckStep:
		return &s.Target
	case *flow.SelectStep:
		return &s.Target
	case *flow.HoverStep:
		return &s.Target
	case *flow.PressKeyStep:
		return &s.Target
	case *flow.ScrollToStep:
		return &s.Target
	case *flow.HighlightStep:
		return &s.Target
	case *flow.RemoveAttributeStep:
		return &s.Target
	case *flow.AssertVisibleStep:
		return &s.Target
	case *flow.AssertNotVisibleStep:
		return &s.Target
	case *flow.AssertTextStep:
		return &s.Target
	case *flow.AssertImageLoadedStep:
		return &s.Target
	case *flow.AssertValidationMessageStep:
		return &s.Target
	case *flow.SwitchToFrameStep:
		return &s.Target
	case *flow.CopyTextFromStep:
		return &s.Target
	case *flow.ExecuteScriptStep:
		return &s.Target
	}
	return nil
}

// timeoutOf returns the per-step timeout override in milliseconds.
func timeoutOf(step flow.Step) int {
	if t, ok := step.(interface{ Timeout() int }); ok {
		return t.Timeout()
	}
	return 0
}

// WriteSkeleton writes the initial skeleton to disk.
// Creates report.json and all flow detail files with pending status.
func WriteSkeleton(outputDir string, index *Index, flowDetails []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}
	if err := ensureDir(filepath.Join(outputDir, "assets")); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	for _, fd := range flowDetails {
		flowPath := filepath.Join(outputDir, "flows", fd.ID+".json")
		if err := atomicWriteJSON(flowPath, fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}

		assetsPath := filepath.Join(outputDir, "assets", fd.ID)
		if err := ensureDir(assetsPath); err != nil {
			return fmt.Errorf("create assets dir for %s: %w", fd.ID, err)
		}
	}

	indexPath := filepath.Join(outputDir, "report.json")
	if err := atomicWriteJSON(indexPath, index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// atomicWriteJSON writes v to a temp file and renames it over path, so
// pollers never read a half-written file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
