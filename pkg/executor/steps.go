package executor

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/page"
)

// outcome is what a successful (or partially run) step produced.
type outcome struct {
	message     string
	data        interface{}
	attachments []core.Attachment
	subs        []stepRun
}

func msg(format string, args ...interface{}) outcome {
	return outcome{message: fmt.Sprintf(format, args...)}
}

// dispatch routes a step to the page action that implements it. Step
// fields are expanded into locals; the parsed step is never modified, so
// repeat bodies re-expand on every iteration.
func (fr *FlowRunner) dispatch(step flow.Step) (outcome, error) {
	p := fr.pageFor(step)
	se := fr.script

	switch s := step.(type) {
	// Navigation
	case *flow.OpenURLStep:
		u := fr.resolveURL(se.ExpandVariables(s.URL))
		return msg("Opened %s", u), p.Open(u)
	case *flow.NavigationStep:
		switch s.Type() {
		case flow.StepBack:
			return outcome{}, p.Back()
		case flow.StepForward:
			return outcome{}, p.Forward()
		default:
			return outcome{}, p.Refresh()
		}

	// Interaction
	case *flow.ClickStep:
		t := se.ExpandTarget(s.Target)
		if s.ByScript {
			return outcome{}, p.ClickByJS(t.Locator, t.Args...)
		}
		if _, err := p.WaitForClickable(t.Locator, t.Args...); err != nil {
			return outcome{}, err
		}
		return outcome{}, p.Click(t.Locator, t.Args...)
	case *flow.TypeStep:
		t := se.ExpandTarget(s.Target)
		text := se.ExpandVariables(s.Text)
		if _, err := p.WaitForVisible(t.Locator, t.Args...); err != nil {
			return outcome{}, err
		}
		if s.Append {
			return outcome{}, p.TypeWithoutClear(t.Locator, text, t.Args...)
		}
		return outcome{}, p.Type(t.Locator, text, t.Args...)
	case *flow.CheckStep:
		t := se.ExpandTarget(s.Target)
		if s.Type() == flow.StepUncheck {
			return outcome{}, p.Uncheck(t.Locator, t.Args...)
		}
		return outcome{}, p.Check(t.Locator, t.Args...)
	case *flow.SelectStep:
		t := se.ExpandTarget(s.Target)
		option := se.ExpandVariables(s.Option)
		return msg("Selected %q", option), p.SelectByText(t.Locator, option, t.Args...)
	case *flow.SelectCustomStep:
		return outcome{}, p.SelectInCustomDropdown(se.ExpandVariables(s.Parent), se.ExpandVariables(s.Child), se.ExpandVariables(s.Option))
	case *flow.HoverStep:
		t := se.ExpandTarget(s.Target)
		if _, err := p.WaitForVisible(t.Locator, t.Args...); err != nil {
			return outcome{}, err
		}
		return outcome{}, p.Hover(t.Locator, t.Args...)
	case *flow.PressKeyStep:
		key, err := core.ParseKey(se.ExpandVariables(s.Key))
		if err != nil {
			return outcome{}, err
		}
		t := se.ExpandTarget(s.Target)
		return outcome{}, p.PressKey(t.Locator, key, t.Args...)
	case *flow.ScrollToStep:
		t := se.ExpandTarget(s.Target)
		return outcome{}, p.ScrollIntoView(t.Locator, t.Args...)
	case *flow.HighlightStep:
		t := se.ExpandTarget(s.Target)
		return outcome{}, p.HighlightByJS(t.Locator, t.Args...)
	case *flow.RemoveAttributeStep:
		t := se.ExpandTarget(s.Target)
		return outcome{}, p.RemoveAttributeByJS(t.Locator, se.ExpandVariables(s.Attribute), t.Args...)

	// Assertions
	case *flow.AssertVisibleStep:
		t := se.ExpandTarget(s.Target)
		_, err := p.WaitForVisible(t.Locator, t.Args...)
		if isTimeout(err) {
			return outcome{}, core.ErrElementNotVisible.WithCause(err).WithMessagef("%s is not visible", t)
		}
		return outcome{}, err
	case *flow.AssertNotVisibleStep:
		t := se.ExpandTarget(s.Target)
		err := p.WaitForInvisible(t.Locator, t.Args...)
		if isTimeout(err) {
			return outcome{}, core.ErrElementVisible.WithCause(err).WithMessagef("%s is still visible", t)
		}
		return outcome{}, err
	case *flow.AssertTextStep:
		t := se.ExpandTarget(s.Target)
		if _, err := p.WaitForVisible(t.Locator, t.Args...); err != nil {
			return outcome{}, err
		}
		actual, err := p.Text(t.Locator, t.Args...)
		if err != nil {
			return outcome{}, err
		}
		return fr.match("text of "+t.String(), s.TextMatch, actual)
	case *flow.AssertPageStep:
		var actual string
		var err error
		what := "title"
		if s.Type() == flow.StepAssertURL {
			what = "url"
			actual, err = p.CurrentURL()
		} else {
			actual, err = p.Title()
		}
		if err != nil {
			return outcome{}, err
		}
		return fr.match(what, s.TextMatch, actual)
	case *flow.AssertTrueStep:
		m, err := se.ExecuteAssertTrue(s)
		return outcome{message: m}, err
	case *flow.AssertImageLoadedStep:
		t := se.ExpandTarget(s.Target)
		loaded, err := p.IsImageLoaded(t.Locator, t.Args...)
		if err != nil {
			return outcome{}, err
		}
		if !loaded {
			return outcome{}, core.ErrConditionNotMet.WithMessagef("image %s did not load", t)
		}
		return outcome{}, nil
	case *flow.AssertValidationMessageStep:
		t := se.ExpandTarget(s.Target)
		actual, err := p.ValidationMessage(t.Locator, t.Args...)
		if err != nil {
			return outcome{}, err
		}
		return fr.match("validation message of "+t.String(), s.TextMatch, actual)

	// Waits
	case *flow.WaitUntilStep:
		args := se.ExpandAll(s.Args)
		switch {
		case s.Visible != "":
			_, err := p.WaitForVisible(se.ExpandVariables(s.Visible), args...)
			return outcome{}, err
		case s.NotVisible != "":
			return outcome{}, p.WaitForInvisible(se.ExpandVariables(s.NotVisible), args...)
		default:
			_, err := p.WaitForClickable(se.ExpandVariables(s.Clickable), args...)
			return outcome{}, err
		}
	case *flow.WaitForAjaxStep:
		_, err := p.IsJQueryAjaxLoaded()
		return outcome{}, err
	case *flow.SleepStep:
		raw := se.ExpandVariables(s.Seconds)
		secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || secs < 0 {
			return outcome{}, core.ErrInvalidConfig.WithMessagef("sleep: invalid seconds %q", raw)
		}
		return outcome{}, fr.sleep(time.Duration(secs * float64(time.Second)))

	// Alerts, windows, frames
	case *flow.AlertStep:
		if s.Type() == flow.StepDismissAlert {
			return outcome{}, p.DismissAlert()
		}
		return outcome{}, p.AcceptAlert()
	case *flow.TypeInAlertStep:
		return outcome{}, p.SendKeysToAlert(se.ExpandVariables(s.Text))
	case *flow.AssertAlertTextStep:
		actual, err := p.WaitAlert()
		if err != nil {
			return outcome{}, err
		}
		return fr.match("alert text", s.TextMatch, actual)
	case *flow.SwitchToWindowStep:
		if s.Title != "" {
			title := se.ExpandVariables(s.Title)
			return msg("Switched to %q", title), p.SwitchWindowByTitle(title)
		}
		return outcome{}, p.SwitchWindowByID(fr.mainWindow)
	case *flow.CloseOtherWindowsStep:
		return outcome{}, p.CloseAllWindowsExcept(fr.mainWindow)
	case *flow.SwitchToFrameStep:
		t := se.ExpandTarget(s.Target)
		return outcome{}, p.SwitchToFrame(t.Locator, t.Args...)
	case *flow.SwitchToDefaultContentStep:
		return outcome{}, p.SwitchToDefaultContent()

	// Variables and scripting
	case *flow.CopyTextFromStep:
		t := se.ExpandTarget(s.Target)
		if _, err := p.WaitForVisible(t.Locator, t.Args...); err != nil {
			return outcome{}, err
		}
		text, err := p.Text(t.Locator, t.Args...)
		if err != nil {
			return outcome{}, err
		}
		se.SetCopiedText(s.As, text)
		return outcome{message: fmt.Sprintf("Copied %q", text), data: text}, nil
	case *flow.DefineVariablesStep:
		m, err := se.ExecuteDefineVariables(s)
		return outcome{message: m}, err
	case *flow.RunScriptStep:
		m, err := se.ExecuteRunScript(s)
		return outcome{message: m}, err
	case *flow.EvalScriptStep:
		m, err := se.ExecuteEvalScript(s)
		return outcome{message: m}, err
	case *flow.ExecuteScriptStep:
		return fr.executeScript(p, s)

	// Flow control
	case *flow.RepeatStep:
		return fr.executeRepeat(s)
	case *flow.RunFlowStep:
		return fr.executeRunFlow(s)

	// Media
	case *flow.TakeScreenshotStep:
		return fr.takeScreenshot(s)

	case *flow.UnsupportedStep:
		return outcome{}, core.ErrUnsupported.WithMessage(s.Describe())
	}
	return outcome{}, core.ErrUnsupported.WithMessagef("step %s is not supported", step.Type())
}

// pageFor returns the flow's page, or one with the step's timeout as the
// long timeout.
func (fr *FlowRunner) pageFor(step flow.Step) *page.Page {
	t, ok := step.(interface{ Timeout() int })
	if !ok || t.Timeout() <= 0 {
		return fr.page
	}
	opts := append([]page.Option{}, fr.config.PageOptions...)
	opts = append(opts, page.WithLongTimeout(time.Duration(t.Timeout())*time.Millisecond))
	return page.New(fr.browser, opts...)
}

// match checks actual against an expectation after variable expansion.
func (fr *FlowRunner) match(what string, m flow.TextMatch, actual string) (outcome, error) {
	expanded := flow.TextMatch{
		Equals:   fr.script.ExpandVariables(m.Equals),
		Contains: fr.script.ExpandVariables(m.Contains),
	}
	if !expanded.Matches(actual) {
		return outcome{}, core.ErrTextMismatch.
			WithMessagef("%s: expected %s, got %q", what, expanded.Expectation(), actual).
			WithDetails(map[string]interface{}{"expected": expanded.Expectation(), "actual": actual})
	}
	return outcome{message: fmt.Sprintf("%s %s", what, expanded.Expectation()), data: actual}, nil
}

func (fr *FlowRunner) executeScript(p *page.Page, s *flow.ExecuteScriptStep) (outcome, error) {
	script := fr.script.ExpandVariables(s.Script)

	var v interface{}
	var err error
	if s.Target.IsZero() {
		v, err = p.ExecuteScript(script)
	} else {
		t := fr.script.ExpandTarget(s.Target)
		v, err = p.ExecuteScriptOn(t.Locator, script, t.Args...)
	}
	if err != nil {
		return outcome{}, err
	}

	out := outcome{data: v}
	if s.As != "" {
		value := ""
		if v != nil {
			value = fmt.Sprint(v)
		}
		fr.script.SetVariable(s.As, value)
		out.message = fmt.Sprintf("%s = %q", s.As, value)
	}
	return out, nil
}

func (fr *FlowRunner) takeScreenshot(s *flow.TakeScreenshotStep) (outcome, error) {
	data, err := fr.browser.Screenshot()
	if err != nil {
		return outcome{}, err
	}

	name := fr.script.ExpandVariables(s.Path)
	if name == "" {
		fr.screenshots++
		name = fmt.Sprintf("screenshot-%02d", fr.screenshots)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".png") {
		name += ".png"
	}

	path, err := fr.flowWriter.SaveAttachment(name, data)
	if err != nil {
		return outcome{}, fmt.Errorf("save screenshot: %w", err)
	}
	return outcome{
		message:     "Saved " + path,
		data:        path,
		attachments: []core.Attachment{core.NewScreenshotAttachment(path, nil)},
	}, nil
}

// sleep pauses for d, returning early with the context's error.
func (fr *FlowRunner) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-fr.ctx.Done():
		return fr.ctx.Err()
	}
}

// resolveURL resolves u against the configured base URL when u is relative.
func (fr *FlowRunner) resolveURL(u string) string {
	base := fr.config.Browser.BaseURL
	if base == "" {
		return u
	}
	ref, err := url.Parse(u)
	if err != nil || ref.IsAbs() {
		return u
	}
	b, err := url.Parse(base)
	if err != nil {
		return u
	}
	return b.ResolveReference(ref).String()
}

func isTimeout(err error) bool {
	return errors.Is(err, core.ErrConditionTimeout)
}
