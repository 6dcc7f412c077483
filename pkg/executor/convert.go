package executor

import (
	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/report"
)

// stepRun is one executed step with the nested steps it ran (repeat,
// runFlow), kept with the step so the report can describe each one.
type stepRun struct {
	step   flow.Step
	result core.StepResult
	err    error
	subs   []stepRun
}

// stepResultToError converts a failed step to report.Error. The type is
// the error category (assertion, timeout, connection, page, config).
func stepResultToError(r core.StepResult) *report.Error {
	if r.Error == "" {
		return nil
	}
	return &report.Error{
		Type:    r.Category.String(),
		Message: r.Error,
	}
}

// subStepResults flattens runs into the nested results of core.StepResult.
func subStepResults(runs []stepRun) []core.StepResult {
	if len(runs) == 0 {
		return nil
	}
	results := make([]core.StepResult, len(runs))
	for i, run := range runs {
		results[i] = run.result
		results[i].Index = i
		results[i].SubSteps = subStepResults(run.subs)
	}
	return results
}

// subCommands converts nested runs to report sub-commands.
func subCommands(runs []stepRun) []report.Command {
	if len(runs) == 0 {
		return nil
	}
	cmds := make([]report.Command, len(runs))
	for i, run := range runs {
		r := run.result
		start := r.StartTime
		end := start.Add(r.Duration)
		duration := r.Duration.Milliseconds()

		cmd := report.NewCommand(i, run.step)
		cmd.Status = report.FromStepStatus(r.Status)
		cmd.StartTime = &start
		cmd.EndTime = &end
		cmd.Duration = &duration
		cmd.Message = r.Message
		cmd.Error = stepResultToError(r)
		cmd.SubCommands = subCommands(run.subs)
		cmds[i] = cmd
	}
	return cmds
}
