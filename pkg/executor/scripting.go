package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/flow"
	"github.com/devicelab-dev/browser-runner/pkg/jsengine"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,})\b`)

// DefaultCopyVariable receives copyTextFrom output when the step names none.
const DefaultCopyVariable = "copiedText"

// ScriptEngine handles JavaScript execution and variable management.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
	flowDir   string // Directory of current flow (for resolving relative paths)
}

// NewScriptEngine creates a new script engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
}

// SetFlowDir sets the current flow directory for relative path resolution.
func (se *ScriptEngine) SetFlowDir(dir string) {
	se.flowDir = dir
}

// SetVariable sets a variable in both the Go map and the JS engine.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// ImportSystemEnv imports upper-case environment variables (BASE_URL,
// FB_PASSWORD) into the engine.
func (se *ScriptEngine) ImportSystemEnv() {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if ok && envVarPattern.MatchString(name) {
			se.SetVariable(name, value)
		}
	}
}

// GetVariable returns a variable value.
func (se *ScriptEngine) GetVariable(name string) string {
	return se.variables[name]
}

// SetBrowser exposes the browser name as runner.browser.
func (se *ScriptEngine) SetBrowser(name string) {
	se.js.SetBrowser(name)
}

// SetCopiedText stores text from copyTextFrom, as runner.copiedText and
// under the variable name the step chose.
func (se *ScriptEngine) SetCopiedText(name, text string) {
	if name == "" {
		name = DefaultCopyVariable
	}
	se.js.SetCopiedText(text)
	se.SetVariable(name, text)
}

// GetCopiedText returns the last copied text.
func (se *ScriptEngine) GetCopiedText() string {
	return se.js.GetCopiedText()
}

// SyncOutputToVariables copies JS output back to variables.
func (se *ScriptEngine) SyncOutputToVariables() {
	for k, v := range se.js.GetOutput() {
		se.SetVariable(k, fmt.Sprintf("%v", v))
	}
}

// ExpandVariables expands ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	if result, err := se.js.ExpandVariables(text); err == nil {
		text = result
	}
	return se.expandDollarVars(text)
}

// ExpandAll expands every string in values, returning a new slice.
func (se *ScriptEngine) ExpandAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = se.ExpandVariables(v)
	}
	return out
}

// ExpandTarget returns t with its locator and args expanded.
func (se *ScriptEngine) ExpandTarget(t flow.Target) flow.Target {
	return flow.Target{
		Locator: se.ExpandVariables(t.Locator),
		Args:    se.ExpandAll(t.Args),
	}
}

// expandDollarVars expands $VAR syntax (without braces) using stored
// variables, longest names first so $USER_ID is not read as $USER.
func (se *ScriptEngine) expandDollarVars(text string) string {
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})

	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		// Followed by an identifier character: a different variable
		endPos := pos + len(pattern)
		if endPos < len(text) {
			next := text[endPos]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') ||
				(next >= '0' && next <= '9') || next == '_' {
				idx = endPos
				continue
			}
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}

// defineReferencedEnv pre-defines upper-case names a script mentions, so an
// unset variable is falsy rather than a ReferenceError.
func (se *ScriptEngine) defineReferencedEnv(script string) {
	for _, name := range envVarPattern.FindAllString(script, -1) {
		se.js.DefineUndefinedIfMissing(name)
	}
}

// RunScript executes a script and syncs its output object to variables.
func (se *ScriptEngine) RunScript(script string, env map[string]string) error {
	script = se.ExpandVariables(script)
	for k, v := range env {
		se.SetVariable(k, v)
	}
	se.defineReferencedEnv(script)

	if err := se.js.RunScript(script); err != nil {
		return core.ErrScriptFailed.WithCause(err).WithMessage(err.Error())
	}
	se.SyncOutputToVariables()
	return nil
}

// EvalCondition evaluates a script condition to a boolean.
func (se *ScriptEngine) EvalCondition(script string) (bool, error) {
	script = se.expandDollarVars(extractJS(script))
	se.defineReferencedEnv(script)

	result, err := se.js.Eval(script)
	if err != nil {
		return false, core.ErrScriptFailed.WithCause(err).WithMessage(err.Error())
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case string:
		return v == "true", nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return result != nil, nil
	}
}

// extractJS strips a ${...} wrapper.
func extractJS(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}

// ResolvePath resolves a relative path against the flow directory.
func (se *ScriptEngine) ResolvePath(path string) string {
	if filepath.IsAbs(path) || se.flowDir == "" {
		return path
	}
	return filepath.Join(se.flowDir, path)
}

// ============================================
// Step Execution Helpers
// ============================================

// ExecuteDefineVariables handles defineVariables.
func (se *ScriptEngine) ExecuteDefineVariables(step *flow.DefineVariablesStep) (string, error) {
	for k, v := range step.Env {
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return fmt.Sprintf("Defined %d variable(s)", len(step.Env)), nil
}

// ExecuteRunScript handles runScript. A value ending in .js is read from
// disk relative to the flow.
func (se *ScriptEngine) ExecuteRunScript(step *flow.RunScriptStep) (string, error) {
	script := step.ScriptPath()

	if strings.HasSuffix(script, ".js") {
		filePath := se.ResolvePath(script)
		content, err := os.ReadFile(filePath) //#nosec G304 -- script path comes from the flow file
		if err != nil {
			return "", core.ErrInvalidConfig.WithCause(err).WithMessagef("cannot read script file %s", filePath)
		}
		script = string(content)
	}

	if err := se.RunScript(script, step.Env); err != nil {
		return "", err
	}
	return "Script executed", nil
}

// ExecuteEvalScript handles evalScript.
func (se *ScriptEngine) ExecuteEvalScript(step *flow.EvalScriptStep) (string, error) {
	if err := se.js.RunScript(extractJS(step.Script)); err != nil {
		return "", core.ErrScriptFailed.WithCause(err).WithMessage(err.Error())
	}
	se.SyncOutputToVariables()
	return "Eval completed", nil
}

// ExecuteAssertTrue handles assertTrue.
func (se *ScriptEngine) ExecuteAssertTrue(step *flow.AssertTrueStep) (string, error) {
	ok, err := se.EvalCondition(step.Script)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", core.ErrConditionNotMet.WithMessagef("assertTrue failed: %s", step.Script)
	}
	return "Assertion passed", nil
}

// withEnvVars applies variables and returns a restore function.
func (se *ScriptEngine) withEnvVars(env map[string]string) func() {
	oldVars := make(map[string]string)
	for k, v := range env {
		oldVars[k] = se.GetVariable(k)
		se.SetVariable(k, se.ExpandVariables(v))
	}
	return func() {
		for k, v := range oldVars {
			se.SetVariable(k, v)
		}
	}
}

// ParseInt parses an integer, after variable expansion. 10_000 is accepted.
func (se *ScriptEngine) ParseInt(s string, defaultVal int) int {
	s = se.ExpandVariables(s)
	s = strings.ReplaceAll(s, "_", "")
	if val, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return val
	}
	return defaultVal
}
