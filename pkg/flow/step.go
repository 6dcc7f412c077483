package flow

import (
	"strconv"
	"strings"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Navigation
	StepOpenURL StepType = "openUrl"
	StepBack    StepType = "back"
	StepForward StepType = "forward"
	StepRefresh StepType = "refresh"

	// Interaction
	StepClick           StepType = "click"
	StepTypeText        StepType = "type"
	StepCheck           StepType = "check"
	StepUncheck         StepType = "uncheck"
	StepSelect          StepType = "select"
	StepSelectCustom    StepType = "selectCustom"
	StepHover           StepType = "hover"
	StepPressKey        StepType = "pressKey"
	StepScrollTo        StepType = "scrollTo"
	StepHighlight       StepType = "highlight"
	StepRemoveAttribute StepType = "removeAttribute"

	// Assertions
	StepAssertVisible           StepType = "assertVisible"
	StepAssertNotVisible        StepType = "assertNotVisible"
	StepAssertText              StepType = "assertText"
	StepAssertTitle             StepType = "assertTitle"
	StepAssertURL               StepType = "assertUrl"
	StepAssertTrue              StepType = "assertTrue"
	StepAssertImageLoaded       StepType = "assertImageLoaded"
	StepAssertValidationMessage StepType = "assertValidationMessage"

	// Waits
	StepWaitUntil   StepType = "waitUntil"
	StepWaitForAjax StepType = "waitForAjax"
	StepSleep       StepType = "sleep"

	// Alerts, windows, frames
	StepAcceptAlert            StepType = "acceptAlert"
	StepDismissAlert           StepType = "dismissAlert"
	StepTypeInAlert            StepType = "typeInAlert"
	StepAssertAlertText        StepType = "assertAlertText"
	StepSwitchToWindow         StepType = "switchToWindow"
	StepCloseOtherWindows      StepType = "closeOtherWindows"
	StepSwitchToFrame          StepType = "switchToFrame"
	StepSwitchToDefaultContent StepType = "switchToDefaultContent"

	// Variables & scripting
	StepCopyTextFrom    StepType = "copyTextFrom"
	StepDefineVariables StepType = "defineVariables"
	StepEvalScript      StepType = "evalScript"
	StepRunScript       StepType = "runScript"
	StepExecuteScript   StepType = "executeScript"

	// Flow Control
	StepRepeat  StepType = "repeat"
	StepRunFlow StepType = "runFlow"

	// Media
	StepTakeScreenshot StepType = "takeScreenshot"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// Timeout returns the step's timeout override in milliseconds (0 = default).
func (b *BaseStep) Timeout() int { return b.TimeoutMs }

// ============================================
// Navigation Steps
// ============================================

// OpenURLStep navigates to a URL.
type OpenURLStep struct {
	BaseStep `yaml:",inline"`
	URL      string `yaml:"url"`
}

// NavigationStep is back, forward or refresh.
type NavigationStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// Interaction Steps
// ============================================

// ClickStep clicks an element.
type ClickStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
	ByScript bool `yaml:"byScript"` // arguments[0].click() instead of a native click
}

// TypeStep types into an element, clearing it first unless Append is set.
type TypeStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
	Text     string `yaml:"text"`
	Append   bool   `yaml:"append"`
}

// CheckStep checks or unchecks a checkbox or radio.
type CheckStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// SelectStep picks an option of a native <select> by visible text.
type SelectStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
	Option   string `yaml:"option"`
}

// SelectCustomStep opens a custom dropdown and picks the item with the
// given text.
type SelectCustomStep struct {
	BaseStep `yaml:",inline"`
	Parent   string `yaml:"parent"`
	Child    string `yaml:"child"`
	Option   string `yaml:"option"`
}

// HoverStep moves the mouse over an element.
type HoverStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// PressKeyStep presses a named key on an element.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
	Key      string `yaml:"key"`
}

// ScrollToStep scrolls an element into view.
type ScrollToStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// HighlightStep flashes a border around an element.
type HighlightStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// RemoveAttributeStep removes an attribute from an element.
type RemoveAttributeStep struct {
	BaseStep  `yaml:",inline"`
	Target    `yaml:",inline"`
	Attribute string `yaml:"attribute"`
}

// ============================================
// Assertion Steps
// ============================================

// AssertVisibleStep asserts an element becomes visible.
type AssertVisibleStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// AssertNotVisibleStep asserts an element is absent or hidden.
type AssertNotVisibleStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// TextMatch is an equals/contains expectation. Empty fields are not checked.
type TextMatch struct {
	Equals   string `yaml:"equals"`
	Contains string `yaml:"contains"`
}

// IsZero reports whether nothing is expected.
func (m TextMatch) IsZero() bool {
	return m.Equals == "" && m.Contains == ""
}

// Matches reports whether actual satisfies every expectation that is set.
func (m TextMatch) Matches(actual string) bool {
	if m.Equals != "" && actual != m.Equals {
		return false
	}
	if m.Contains != "" && !strings.Contains(actual, m.Contains) {
		return false
	}
	return true
}

// Expectation renders the expectation.
func (m TextMatch) Expectation() string {
	if m.Equals != "" {
		return "== " + strconv.Quote(m.Equals)
	}
	return "contains " + strconv.Quote(m.Contains)
}

// AssertTextStep asserts an element's text.
type AssertTextStep struct {
	BaseStep  `yaml:",inline"`
	Target    `yaml:",inline"`
	TextMatch `yaml:",inline"`
}

// AssertPageStep asserts the page title or URL.
type AssertPageStep struct {
	BaseStep  `yaml:",inline"`
	TextMatch `yaml:",inline"`
}

// AssertTrueStep asserts a script condition is true.
type AssertTrueStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"condition"`
}

// AssertImageLoadedStep asserts an <img> finished loading.
type AssertImageLoadedStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// AssertValidationMessageStep asserts a form field's validation message.
type AssertValidationMessageStep struct {
	BaseStep  `yaml:",inline"`
	Target    `yaml:",inline"`
	TextMatch `yaml:",inline"`
}

// Condition represents a test condition.
type Condition struct {
	Visible    string `yaml:"visible"`
	NotVisible string `yaml:"notVisible"`
	Script     string `yaml:"scriptCondition"`
}

// IsZero reports whether no condition was given.
func (c Condition) IsZero() bool {
	return c.Visible == "" && c.NotVisible == "" && c.Script == ""
}

// ============================================
// Wait Steps
// ============================================

// WaitUntilStep waits for an element state.
type WaitUntilStep struct {
	BaseStep   `yaml:",inline"`
	Visible    string   `yaml:"visible"`
	NotVisible string   `yaml:"notVisible"`
	Clickable  string   `yaml:"clickable"`
	Args       []string `yaml:"args"`
}

// WaitForAjaxStep waits for jQuery to have no active requests.
type WaitForAjaxStep struct {
	BaseStep `yaml:",inline"`
}

// SleepStep pauses for a number of seconds.
type SleepStep struct {
	BaseStep `yaml:",inline"`
	Seconds  string `yaml:"seconds"` // String for variable support
}

// ============================================
// Alert, Window and Frame Steps
// ============================================

// AlertStep accepts or dismisses the open alert.
type AlertStep struct {
	BaseStep `yaml:",inline"`
}

// TypeInAlertStep types into a prompt.
type TypeInAlertStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// AssertAlertTextStep asserts the open alert's message.
type AssertAlertTextStep struct {
	BaseStep  `yaml:",inline"`
	TextMatch `yaml:",inline"`
}

// SwitchToWindowStep switches to the window with the given title, or to
// the newest window other than the flow's main window when no title is set.
type SwitchToWindowStep struct {
	BaseStep `yaml:",inline"`
	Title    string `yaml:"title"`
}

// CloseOtherWindowsStep closes every window except the flow's main window.
type CloseOtherWindowsStep struct {
	BaseStep `yaml:",inline"`
}

// SwitchToFrameStep enters an iframe.
type SwitchToFrameStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
}

// SwitchToDefaultContentStep leaves all frames.
type SwitchToDefaultContentStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// Variable & Script Steps
// ============================================

// CopyTextFromStep stores an element's text in a variable (default
// "copiedText").
type CopyTextFromStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
	As       string `yaml:"as"`
}

// DefineVariablesStep defines variables.
type DefineVariablesStep struct {
	BaseStep `yaml:",inline"`
	Env      map[string]string `yaml:"env"`
}

// EvalScriptStep evaluates JavaScript in the flow's script engine.
type EvalScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// RunScriptStep runs a script file in the flow's script engine.
type RunScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string            `yaml:"script"` // Script content or filename (string form)
	File     string            `yaml:"file"`   // Script filename (map form)
	Env      map[string]string `yaml:"env"`
}

// ScriptPath returns the script path (either Script or File field).
func (s *RunScriptStep) ScriptPath() string {
	if s.File != "" {
		return s.File
	}
	return s.Script
}

// ExecuteScriptStep runs JavaScript in the page, optionally with an element
// as arguments[0], and can store the result in a variable.
type ExecuteScriptStep struct {
	BaseStep `yaml:",inline"`
	Target   `yaml:",inline"`
	Script   string `yaml:"script"`
	As       string `yaml:"as"`
}

// ============================================
// Flow Control Steps
// ============================================

// RepeatStep repeats steps.
type RepeatStep struct {
	BaseStep `yaml:",inline"`
	Times    string    `yaml:"times"` // String for variable support
	While    Condition `yaml:"while"`
	Steps    []Step    `yaml:"-"`
}

// RunFlowStep runs another flow.
type RunFlowStep struct {
	BaseStep `yaml:",inline"`
	File     string            `yaml:"file"`
	Steps    []Step            `yaml:"-"` // Inline steps
	When     *Condition        `yaml:"when"`
	Env      map[string]string `yaml:"env"`
}

// ============================================
// Media Steps
// ============================================

// TakeScreenshotStep takes a screenshot.
type TakeScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Path     string `yaml:"path"`
}

// UnsupportedStep represents an unsupported step.
type UnsupportedStep struct {
	BaseStep `yaml:",inline"`
	Reason   string
}

// Describe returns a description including the unsupported reason.
func (s *UnsupportedStep) Describe() string {
	return string(s.StepType) + " (unsupported: " + s.Reason + ")"
}

// ============================================
// Describe() implementations for detailed output
// ============================================

// Describe returns a human-readable description of the open step.
func (s *OpenURLStep) Describe() string {
	return "openUrl: " + s.URL
}

// Describe returns a human-readable description of the click step.
func (s *ClickStep) Describe() string {
	if s.ByScript {
		return "click (script): " + s.Quoted()
	}
	return "click: " + s.Quoted()
}

// Describe returns a human-readable description of the type step.
func (s *TypeStep) Describe() string {
	return "type: \"" + s.Text + "\" into " + s.Quoted()
}

// Describe returns a human-readable description of the check step.
func (s *CheckStep) Describe() string {
	return string(s.StepType) + ": " + s.Quoted()
}

// Describe returns a human-readable description of the select step.
func (s *SelectStep) Describe() string {
	return "select: \"" + s.Option + "\" in " + s.Quoted()
}

// Describe returns a human-readable description of the custom select step.
func (s *SelectCustomStep) Describe() string {
	return "selectCustom: \"" + s.Option + "\" in " + s.Parent
}

// Describe returns a human-readable description of the press key step.
func (s *PressKeyStep) Describe() string {
	return "pressKey: " + s.Key + " on " + s.Quoted()
}

// Describe returns a human-readable description of the assert visible step.
func (s *AssertVisibleStep) Describe() string {
	return "assertVisible: " + s.Quoted()
}

// Describe returns a human-readable description of the assert not visible step.
func (s *AssertNotVisibleStep) Describe() string {
	return "assertNotVisible: " + s.Quoted()
}

// Describe returns a human-readable description of the assert text step.
func (s *AssertTextStep) Describe() string {
	return "assertText: " + s.Quoted() + " " + s.Expectation()
}

// Describe returns a human-readable description of the page assertion.
func (s *AssertPageStep) Describe() string {
	return string(s.StepType) + " " + s.Expectation()
}

// Describe returns a human-readable description of the wait step.
func (s *WaitUntilStep) Describe() string {
	switch {
	case s.Visible != "":
		return "waitUntil: visible \"" + s.Visible + "\""
	case s.NotVisible != "":
		return "waitUntil: notVisible \"" + s.NotVisible + "\""
	case s.Clickable != "":
		return "waitUntil: clickable \"" + s.Clickable + "\""
	}
	return "waitUntil"
}

// Describe returns a human-readable description of the alert text assertion.
func (s *AssertAlertTextStep) Describe() string {
	return "assertAlertText " + s.Expectation()
}

// Describe returns a human-readable description of the validation message assertion.
func (s *AssertValidationMessageStep) Describe() string {
	return "assertValidationMessage: " + s.Quoted() + " " + s.Expectation()
}

// Describe returns a human-readable description of the copy text step.
func (s *CopyTextFromStep) Describe() string {
	return "copyTextFrom: " + s.Quoted()
}

// Describe returns a human-readable description of the switch window step.
func (s *SwitchToWindowStep) Describe() string {
	if s.Title != "" {
		return "switchToWindow: \"" + s.Title + "\""
	}
	return "switchToWindow: new window"
}

// Describe returns a human-readable description of the run flow step.
func (s *RunFlowStep) Describe() string {
	if s.File != "" {
		return "runFlow: " + s.File
	}
	return "runFlow"
}

// Describe returns a human-readable description of the sleep step.
func (s *SleepStep) Describe() string {
	return "sleep: " + s.Seconds + "s"
}

// Describe returns a human-readable description of the hover step.
func (s *HoverStep) Describe() string { return "hover: " + s.Quoted() }

// Describe returns a human-readable description of the scroll step.
func (s *ScrollToStep) Describe() string { return "scrollTo: " + s.Quoted() }

// Describe returns a human-readable description of the highlight step.
func (s *HighlightStep) Describe() string { return "highlight: " + s.Quoted() }

// Describe returns a human-readable description of the remove attribute step.
func (s *RemoveAttributeStep) Describe() string {
	return "removeAttribute: " + s.Attribute + " from " + s.Quoted()
}

// Describe returns a human-readable description of the image assertion.
func (s *AssertImageLoadedStep) Describe() string { return "assertImageLoaded: " + s.Quoted() }

// Describe returns a human-readable description of the frame switch.
func (s *SwitchToFrameStep) Describe() string { return "switchToFrame: " + s.Quoted() }

// Describe returns a human-readable description of the execute script step.
func (s *ExecuteScriptStep) Describe() string {
	if !s.Target.IsZero() {
		return "executeScript on " + s.Quoted()
	}
	return "executeScript"
}
