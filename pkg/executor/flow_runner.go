package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/page"
	"github.com/devicelab-dev/browser-runner/pkg/report"
)

// maxWhileIterations bounds repeat steps that only have a while condition.
const maxWhileIterations = 1000

// FlowRunner executes a single flow.
type FlowRunner struct {
	ctx         context.Context
	flow        flow.Flow
	detail      *report.FlowDetail
	browser     core.Browser
	page        *page.Page
	config      RunnerConfig
	indexWriter *report.IndexWriter
	flowWriter  *report.FlowWriter
	script      *ScriptEngine
	mainWindow  string // handle of the window the flow started in
	depth       int    // Nesting depth for runFlow reporting
	flowIdx     int
	totalFlows  int
	screenshots int // takeScreenshot steps without a path
}

// Run executes the flow and returns the result.
func (fr *FlowRunner) Run() core.FlowResult {
	if fr.flow.Config.Timeout > 0 {
		var cancel context.CancelFunc
		fr.ctx, cancel = context.WithTimeout(fr.ctx, time.Duration(fr.flow.Config.Timeout)*time.Millisecond)
		defer cancel()
	}

	fr.flowWriter = report.NewFlowWriter(fr.detail, fr.config.OutputDir, fr.indexWriter)
	fr.page = page.New(fr.browser, fr.config.PageOptions...)
	fr.setupScript()

	browserInfo := fr.config.Browser
	result := core.FlowResult{
		Name:      fr.detail.Name,
		FilePath:  fr.flow.SourcePath,
		Tags:      fr.flow.Config.Tags,
		Browser:   &browserInfo,
		StartTime: time.Now(),
	}

	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, fr.detail.Name, filepath.Base(fr.flow.SourcePath))
	}
	logger.Info("flow %q started", fr.detail.Name)
	fr.flowWriter.Start()

	hookErr := fr.openStartURL()
	if hookErr == nil {
		// switchToWindow and closeOtherWindows need the main handle
		if fr.mainWindow, hookErr = fr.page.WindowHandle(); hookErr != nil {
			hookErr = fmt.Errorf("read main window handle: %w", hookErr)
		}
	}
	if hookErr == nil {
		hookErr = fr.runOnFlowStart(&result)
	}

	if hookErr != nil {
		result.Error = hookErr.Error()
		fr.flowWriter.SkipRemainingCommands(0)
		result.Steps = skippedSteps(fr.flow.Steps, 0)
	} else {
		result.Steps = fr.runSteps()
	}

	// onFlowComplete runs whatever happened above
	for _, step := range fr.flow.Config.OnFlowComplete {
		run := fr.executeNested(step)
		result.OnFlowComplete = append(result.OnFlowComplete, run.result)
	}

	result.Duration = time.Since(result.StartTime)
	result.ComputeSummary()
	result.Status = result.AggregateStatus()
	if hookErr != nil {
		result.Status = core.StatusFailed
	}
	if result.Error == "" {
		result.Error = firstError(result)
	}
	if result.Status.IsSuccess() && result.SkippedSteps > 0 {
		// Steps skipped by cancellation: the flow timed out or the run was interrupted
		if errors.Is(fr.ctx.Err(), context.DeadlineExceeded) {
			result.Status = core.StatusFailed
			result.Error = fmt.Sprintf("flow timed out after %dms", fr.flow.Config.Timeout)
		} else {
			result.Status = core.StatusSkipped
			result.Error = "execution cancelled"
		}
	}

	fr.flowWriter.End(report.FromStepStatus(result.Status), result.Error)
	logger.Info("flow %q %s in %s", fr.detail.Name, result.Status, result.Duration.Round(time.Millisecond))

	if fr.config.OnFlowEnd != nil {
		fr.config.OnFlowEnd(&result)
	}
	return result
}

// setupScript creates the flow's script engine: system env, then the
// base URL, then the flow's env block, then run-level variables.
func (fr *FlowRunner) setupScript() {
	fr.script = NewScriptEngine()
	fr.script.ImportSystemEnv()
	if fr.flow.SourcePath != "" {
		fr.script.SetFlowDir(filepath.Dir(fr.flow.SourcePath))
	}
	fr.script.SetBrowser(string(fr.config.Browser.Browser))
	if fr.config.Browser.BaseURL != "" {
		fr.script.SetVariable("BASE_URL", fr.config.Browser.BaseURL)
	}
	for k, v := range fr.flow.Config.Env {
		fr.script.SetVariable(k, fr.script.ExpandVariables(v))
	}
	for k, v := range fr.config.Env {
		fr.script.SetVariable(k, v)
	}
}

// openStartURL opens the flow's url before any hook or step.
func (fr *FlowRunner) openStartURL() error {
	if fr.flow.Config.URL == "" {
		return nil
	}
	u := fr.resolveURL(fr.script.ExpandVariables(fr.flow.Config.URL))
	if err := fr.page.Open(u); err != nil {
		return fmt.Errorf("open %s: %w", u, err)
	}
	return nil
}

func (fr *FlowRunner) runOnFlowStart(result *core.FlowResult) error {
	for _, step := range fr.flow.Config.OnFlowStart {
		run := fr.executeNested(step)
		result.OnFlowStart = append(result.OnFlowStart, run.result)
		if run.err != nil && !step.IsOptional() {
			return fmt.Errorf("onFlowStart failed: %w", run.err)
		}
	}
	return nil
}

// runSteps runs the flow's steps. A required step's failure, or
// cancellation, skips the rest.
func (fr *FlowRunner) runSteps() []core.StepResult {
	results := make([]core.StepResult, 0, len(fr.flow.Steps))
	for i, step := range fr.flow.Steps {
		if fr.ctx.Err() != nil {
			fr.flowWriter.SkipRemainingCommands(i)
			return append(results, skippedSteps(fr.flow.Steps, i)...)
		}

		run := fr.executeStep(i, step)
		results = append(results, run.result)

		if run.err != nil && !step.IsOptional() {
			fr.flowWriter.SkipRemainingCommands(i + 1)
			return append(results, skippedSteps(fr.flow.Steps, i+1)...)
		}
	}
	return results
}

// executeStep executes a top-level step and updates the report.
func (fr *FlowRunner) executeStep(idx int, step flow.Step) stepRun {
	fr.flowWriter.CommandStart(idx)

	run := fr.execute(step)
	if run.err != nil && step.IsOptional() {
		run.result.Status = core.StatusWarned
	}
	run.result.Index = idx
	run.result.SubSteps = subStepResults(run.subs)

	var artifacts report.CommandArtifacts
	if fr.config.Artifacts.ShouldCapture(run.result.Status) {
		artifacts = fr.captureArtifacts(idx, &run.result)
	}

	fr.flowWriter.CommandEndWithSubs(idx, report.FromStepStatus(run.result.Status), run.result.Message,
		stepResultToError(run.result), artifacts, subCommands(run.subs))

	if fr.config.OnStepComplete != nil {
		fr.config.OnStepComplete(idx, step.Describe(), run.result.Status, run.result.Duration, run.result.Error)
	}
	return run
}

// executeNested executes a step without its own report entry (hooks,
// repeat and runFlow bodies).
func (fr *FlowRunner) executeNested(step flow.Step) stepRun {
	run := fr.execute(step)
	if run.err != nil && step.IsOptional() {
		run.result.Status = core.StatusWarned
	}
	run.result.SubSteps = subStepResults(run.subs)

	if fr.config.OnNestedStep != nil {
		fr.config.OnNestedStep(fr.depth, step.Describe(), run.result.Status, run.result.Duration, run.result.Error)
	}
	return run
}

// execute runs step and records its outcome.
func (fr *FlowRunner) execute(step flow.Step) stepRun {
	start := time.Now()
	out, err := fr.dispatch(step)

	run := stepRun{
		step: step,
		err:  err,
		subs: out.subs,
		result: core.StepResult{
			Command:     string(step.Type()),
			Label:       step.Label(),
			Status:      core.StatusFor(err),
			Category:    core.CategoryOf(err),
			StartTime:   start,
			Duration:    time.Since(start),
			Message:     out.message,
			Data:        out.data,
			Attachments: out.attachments,
		},
	}
	if err != nil {
		run.result.Error = err.Error()
		logger.Debug("%s failed: %v", step.Describe(), err)
	}
	return run
}

// executeRepeat runs the body Times times, or while the condition holds.
func (fr *FlowRunner) executeRepeat(step *flow.RepeatStep) (outcome, error) {
	var out outcome
	hasWhile := !step.While.IsZero()
	times := fr.script.ParseInt(step.Times, 0)
	if times <= 0 {
		times = 1
		if hasWhile {
			times = maxWhileIterations
		}
	}

	iterations := 0
	for i := 0; i < times; i++ {
		if err := fr.ctx.Err(); err != nil {
			return out, err
		}
		if hasWhile && !fr.checkCondition(step.While) {
			break
		}
		for _, nested := range step.Steps {
			run := fr.executeNested(nested)
			out.subs = append(out.subs, run)
			if run.err != nil && !nested.IsOptional() {
				return out, fmt.Errorf("repeat iteration %d: %w", i+1, run.err)
			}
		}
		iterations++
	}

	out.message = fmt.Sprintf("Repeat completed (%d iterations)", iterations)
	return out, nil
}

// executeRunFlow runs inline steps or another flow file, with its env
// applied for the duration.
func (fr *FlowRunner) executeRunFlow(step *flow.RunFlowStep) (outcome, error) {
	if step.When != nil && !fr.checkCondition(*step.When) {
		return outcome{message: "Skipped (when condition not met)"}, nil
	}

	fr.depth++
	defer func() { fr.depth-- }()
	defer fr.script.withEnvVars(step.Env)()

	if len(step.Steps) > 0 {
		return fr.executeSubSteps(step.Steps, "Inline flow completed")
	}

	filePath := fr.script.ResolvePath(fr.script.ExpandVariables(step.File))
	subFlow, err := flow.ParseFile(filePath)
	if err != nil {
		return outcome{}, core.ErrInvalidConfig.WithCause(err).WithMessage(err.Error())
	}

	prevDir := fr.script.flowDir
	fr.script.SetFlowDir(filepath.Dir(subFlow.SourcePath))
	defer fr.script.SetFlowDir(prevDir)
	defer fr.script.withEnvVars(subFlow.Config.Env)()

	return fr.executeSubSteps(subFlow.Steps, fmt.Sprintf("Sub-flow %q completed", report.FlowName(*subFlow)))
}

func (fr *FlowRunner) executeSubSteps(steps []flow.Step, done string) (outcome, error) {
	var out outcome
	for _, nested := range steps {
		if err := fr.ctx.Err(); err != nil {
			return out, err
		}
		run := fr.executeNested(nested)
		out.subs = append(out.subs, run)
		if run.err != nil && !nested.IsOptional() {
			return out, run.err
		}
	}
	out.message = done
	return out, nil
}

// checkCondition evaluates a when/while condition without waiting the
// long timeout: visibility is checked once.
func (fr *FlowRunner) checkCondition(cond flow.Condition) bool {
	if cond.Visible != "" {
		ok, err := fr.page.IsDisplayed(fr.script.ExpandVariables(cond.Visible))
		if err != nil || !ok {
			return false
		}
	}
	if cond.NotVisible != "" {
		ok, err := fr.page.IsUndisplayed(fr.script.ExpandVariables(cond.NotVisible))
		if err != nil || !ok {
			return false
		}
	}
	if cond.Script != "" {
		ok, err := fr.script.EvalCondition(cond.Script)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// captureArtifacts saves a screenshot and, when configured, the page
// source after a step. Capture failures are logged, never fatal.
func (fr *FlowRunner) captureArtifacts(idx int, result *core.StepResult) report.CommandArtifacts {
	var artifacts report.CommandArtifacts
	cfg := fr.config.Artifacts

	if cfg.Screenshot {
		if data, err := fr.browser.Screenshot(); err == nil && len(data) > 0 {
			if path, err := fr.flowWriter.SaveScreenshot(idx, "after", data); err == nil {
				artifacts.ScreenshotAfter = path
				result.Attachments = append(result.Attachments, core.NewScreenshotAttachment(path, nil))
			}
		} else if err != nil {
			logger.Warn("screenshot after %s: %v", result.Command, err)
		}
	}

	if cfg.PageSource {
		if src, err := fr.browser.PageSource(); err == nil {
			if path, err := fr.flowWriter.SavePageSource(idx, []byte(src)); err == nil {
				artifacts.PageSource = path
				result.Attachments = append(result.Attachments, core.NewPageSourceAttachment(path, nil))
			}
		} else {
			logger.Warn("page source after %s: %v", result.Command, err)
		}
	}
	return artifacts
}

func skippedSteps(steps []flow.Step, from int) []core.StepResult {
	var results []core.StepResult
	for i := from; i < len(steps); i++ {
		results = append(results, core.StepResult{
			Index:   i,
			Command: string(steps[i].Type()),
			Label:   steps[i].Label(),
			Status:  core.StatusSkipped,
		})
	}
	return results
}

func firstError(result core.FlowResult) string {
	for _, group := range [][]core.StepResult{result.OnFlowStart, result.Steps, result.OnFlowComplete} {
		for _, s := range group {
			if s.Status == core.StatusFailed || s.Status == core.StatusErrored {
				return s.Error
			}
		}
	}
	return ""
}
