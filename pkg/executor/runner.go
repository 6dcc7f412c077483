// Package executor runs parsed flows against a browser, one flow at a time,
// and writes the live JSON report as it goes.
package executor

import (
	"context"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/page"
	"github.com/devicelab-dev/browser-runner/pkg/report"
)

// BrowserSource hands out the browser flows run against. session.Manager
// implements it; every flow of a run shares the one browser.
type BrowserSource interface {
	Browser(ctx context.Context) (core.Browser, error)
}

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	OutputDir  string              // Report output directory
	StopOnFail bool                // Skip remaining flows after the first failure
	Artifacts  core.ArtifactConfig // When to capture screenshots and page source

	// Run-level variables (workspace config env, then -e flags). They
	// override a flow's own env block.
	Env map[string]string

	// Run metadata for the report
	Browser       core.BrowserInfo
	CI            *report.CI
	RunnerVersion string

	// Applied to every flow's page (timeouts, click strategy)
	PageOptions []page.Option

	// Live progress callbacks
	OnFlowStart    func(flowIdx, totalFlows int, name, file string)
	OnStepComplete func(idx int, desc string, status core.StepStatus, duration time.Duration, errMsg string)
	OnNestedStep   func(depth int, desc string, status core.StepStatus, duration time.Duration, errMsg string)
	OnFlowEnd      func(result *core.FlowResult)
}

// Runner orchestrates flow execution.
type Runner struct {
	config RunnerConfig
	source BrowserSource
}

// New creates a new Runner.
func New(source BrowserSource, cfg RunnerConfig) *Runner {
	return &Runner{
		config: cfg,
		source: source,
	}
}

// Run executes all flows in order and returns the suite outcome. The
// error is non-nil only when the report itself cannot be written; flow
// failures are reported in the result.
func (r *Runner) Run(ctx context.Context, flows []flow.Flow) (*core.SuiteResult, error) {
	index, flowDetails, err := report.BuildSkeleton(flows, report.BuilderConfig{
		OutputDir:     r.config.OutputDir,
		Browser:       r.config.Browser,
		CI:            r.config.CI,
		RunnerVersion: r.config.RunnerVersion,
	})
	if err != nil {
		return nil, err
	}

	if err := report.WriteSkeleton(r.config.OutputDir, index, flowDetails); err != nil {
		return nil, err
	}

	indexWriter := report.NewIndexWriter(r.config.OutputDir, index)
	defer indexWriter.Close()
	indexWriter.Start()

	suite := &core.SuiteResult{
		Name:      "browser-runner",
		RunID:     index.RunID,
		StartTime: time.Now(),
	}
	suite.Flows = r.executeFlows(ctx, flows, flowDetails, indexWriter)

	indexWriter.End()

	suite.Duration = time.Since(suite.StartTime)
	suite.ComputeSummary()
	logger.Info("run %s finished: %d passed, %d failed, %d skipped",
		suite.RunID, suite.PassedFlows, suite.FailedFlows, suite.SkippedFlows)
	return suite, nil
}

// executeFlows runs flows sequentially. After a failure with StopOnFail,
// a browser that could not start, or cancellation, the rest are skipped.
func (r *Runner) executeFlows(ctx context.Context, flows []flow.Flow, flowDetails []report.FlowDetail, indexWriter *report.IndexWriter) []core.FlowResult {
	results := make([]core.FlowResult, len(flows))
	stopReason := ""

	for i := range flows {
		if stopReason == "" && ctx.Err() != nil {
			stopReason = "run cancelled"
		}
		if stopReason != "" {
			results[i] = skippedFlow(flows[i], &flowDetails[i], stopReason)
			indexWriter.MarkSkipped(flowDetails[i].ID, stopReason)
			continue
		}

		browser, err := r.source.Browser(ctx)
		if err != nil {
			logger.Error("browser unavailable: %v", err)
			results[i] = r.browserFailure(flows[i], &flowDetails[i], indexWriter, err)
			stopReason = "browser unavailable"
			continue
		}

		fr := &FlowRunner{
			ctx:         ctx,
			flow:        flows[i],
			detail:      &flowDetails[i],
			browser:     browser,
			config:      r.config,
			indexWriter: indexWriter,
			flowIdx:     i,
			totalFlows:  len(flows),
		}
		results[i] = fr.Run()

		if r.config.StopOnFail && results[i].Status == core.StatusFailed {
			stopReason = "stopped after failure of " + flowDetails[i].Name
		}
	}
	return results
}

// browserFailure records a flow that could not start because no browser
// was available.
func (r *Runner) browserFailure(f flow.Flow, detail *report.FlowDetail, indexWriter *report.IndexWriter, err error) core.FlowResult {
	fw := report.NewFlowWriter(detail, r.config.OutputDir, indexWriter)
	fw.Start()
	fw.SkipRemainingCommands(0)
	fw.End(report.StatusFailed, err.Error())

	result := skippedFlow(f, detail, err.Error())
	result.Status = core.StatusErrored
	return result
}

func skippedFlow(f flow.Flow, detail *report.FlowDetail, reason string) core.FlowResult {
	result := core.FlowResult{
		Name:      detail.Name,
		FilePath:  f.SourcePath,
		Tags:      f.Config.Tags,
		Status:    core.StatusSkipped,
		StartTime: time.Now(),
		Error:     reason,
	}
	for i, step := range f.Steps {
		result.Steps = append(result.Steps, core.StepResult{
			Index:   i,
			Command: string(step.Type()),
			Label:   step.Label(),
			Status:  core.StatusSkipped,
		})
	}
	result.ComputeSummary()
	return result
}
