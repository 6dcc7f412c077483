package flow

import (
	"strings"

	"github.com/devicelab-dev/browser-runner/pkg/locator"
)

// Target names the element a step acts on: a locator string in the
// "strategy=selector" convention plus template args for xpath placeholders.
// Both may contain ${...} variables, expanded by the executor.
type Target struct {
	Locator string   `yaml:"locator"`
	Args    []string `yaml:"args"`
}

// IsZero reports whether no locator was given.
func (t Target) IsZero() bool {
	return strings.TrimSpace(t.Locator) == ""
}

// HasVariables reports whether the locator or args need expansion first.
func (t Target) HasVariables() bool {
	if strings.Contains(t.Locator, "${") {
		return true
	}
	for _, a := range t.Args {
		if strings.Contains(a, "${") {
			return true
		}
	}
	return false
}

// Validate resolves the locator when it is fully static. Locators with
// variables are checked when the step runs.
func (t Target) Validate() error {
	if t.HasVariables() {
		return nil
	}
	_, err := locator.Resolve(t.Locator, t.Args...)
	return err
}

// String returns the locator, with args when templated.
func (t Target) String() string {
	if len(t.Args) == 0 {
		return t.Locator
	}
	return t.Locator + " " + "[" + strings.Join(t.Args, ", ") + "]"
}

// Quoted returns the locator in quotes for step descriptions.
func (t Target) Quoted() string {
	return "\"" + t.String() + "\""
}
