package jsengine

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	engine := New()
	if engine.runtime == nil {
		t.Fatal("expected runtime to be initialized")
	}
}

func TestEval(t *testing.T) {
	engine := New()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"array length", "[1, 2, 3].length", int64(3)},
		{"object property", "({name: 'test'}).name", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

func TestSetVariable(t *testing.T) {
	engine := New()
	engine.SetVariable("username", "ada")
	engine.SetVariables(map[string]interface{}{"count": 42})

	if result, err := engine.EvalString("username"); err != nil || result != "ada" {
		t.Errorf("username = %q, %v", result, err)
	}
	if result, err := engine.EvalString("count"); err != nil || result != "42" {
		t.Errorf("count = %q, %v", result, err)
	}
}

func TestEvalString_NullIsEmpty(t *testing.T) {
	engine := New()
	result, err := engine.EvalString("null")
	if err != nil || result != "" {
		t.Errorf("EvalString(null) = %q, %v", result, err)
	}
}

func TestExpandVariables(t *testing.T) {
	engine := New()
	engine.SetVariable("name", "Ada")
	engine.SetVariable("age", 30)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "Hello ${name}", "Hello Ada"},
		{"expression", "Age: ${age + 5}", "Age: 35"},
		{"multiple vars", "${name} is ${age}", "Ada is 30"},
		{"no vars", "plain text", "plain text"},
		{"locator", "xpath=//a[text()='${name}']", "xpath=//a[text()='Ada']"},
		{"nested braces", "${({a: 1}).a}", "1"},
		{"unbalanced", "${name", "${name"},
		{"failing expression kept", "Value: ${missing.prop}", "Value: ${missing.prop}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.ExpandVariables(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestConsole(t *testing.T) {
	engine := New()

	// The logger is not initialized in tests; console calls must still be safe.
	err := engine.RunScript(`
		console.log("test message", 1, {a: 2});
		console.error("error message");
		console.warn("warning message");
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJSON(t *testing.T) {
	engine := New()

	err := engine.RunScript(`
		var data = json('{"name": "test", "value": 123}');
		parsedName = data.name;
		parsedValue = data.value;
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if name, _ := engine.EvalString("parsedName"); name != "test" {
		t.Errorf("expected 'test', got %q", name)
	}
	if value, _ := engine.EvalString("parsedValue"); value != "123" {
		t.Errorf("expected '123', got %q", value)
	}

	if _, err := engine.Eval("json('{not json')"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestOutput(t *testing.T) {
	engine := New()

	err := engine.RunScript(`
		output.result = "success";
		output.count = 42;
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := engine.GetOutput()
	if output["result"] != "success" {
		t.Errorf("expected output.result = 'success', got %v", output["result"])
	}
	if output["count"] != int64(42) {
		t.Errorf("expected output.count = 42, got %v", output["count"])
	}

	// Returned map is a copy
	output["result"] = "changed"
	if engine.GetOutput()["result"] != "success" {
		t.Error("GetOutput should return a copy")
	}
}

func TestOutput_Reassigned(t *testing.T) {
	engine := New()
	if err := engine.RunScript(`output = {token: "abc"};`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := engine.GetOutput()["token"]; got != "abc" {
		t.Errorf("token = %v, want abc", got)
	}
}

func TestRunnerObject(t *testing.T) {
	engine := New()
	engine.SetCopiedText("copied value")
	engine.SetBrowser("firefox")

	if result, err := engine.EvalString("runner.copiedText"); err != nil || result != "copied value" {
		t.Errorf("runner.copiedText = %q, %v", result, err)
	}
	if result, err := engine.EvalString("runner.browser"); err != nil || result != "firefox" {
		t.Errorf("runner.browser = %q, %v", result, err)
	}
	if engine.GetCopiedText() != "copied value" {
		t.Errorf("GetCopiedText() = %q", engine.GetCopiedText())
	}
}

func TestPromise(t *testing.T) {
	engine := New()

	// goja drains the job queue before RunString returns
	err := engine.RunScript(`
		var promiseResult = "pending";
		(async function() { return "resolved value"; })().then(function(v) {
			promiseResult = v;
		});
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := engine.EvalString("promiseResult")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "resolved value" {
		t.Errorf("expected 'resolved value', got %q", result)
	}
}

func TestModernSyntax(t *testing.T) {
	engine := New()
	engine.SetVariable("name", "World")

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"arrow function", "const add = (a, b) => a + b; add(2, 3)", "5"},
		{"template literal", "`Hello, ${name}!`", "Hello, World!"},
		{"destructuring", "const {a, b} = {a: 1, b: 2}; const [x, y] = [3, 4]; a + b + x + y", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.EvalString(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefineUndefinedIfMissing(t *testing.T) {
	engine := New()
	engine.SetVariable("DEFINED", "yes")

	engine.DefineUndefinedIfMissing("MISSING_VAR")
	engine.DefineUndefinedIfMissing("DEFINED")

	if result, err := engine.Eval("MISSING_VAR === undefined"); err != nil || result != true {
		t.Errorf("MISSING_VAR should be undefined, got %v, %v", result, err)
	}
	if result, _ := engine.EvalString("DEFINED"); result != "yes" {
		t.Errorf("DEFINED was overwritten: %q", result)
	}
}

func TestErrors(t *testing.T) {
	engine := New()

	if err := engine.RunScript("invalid javascript {{{{"); err == nil {
		t.Error("expected error for invalid javascript")
	}

	_, err := engine.Eval("undefinedVariable.property")
	if err == nil {
		t.Fatal("expected error for undefined variable")
	}
	if !strings.Contains(err.Error(), "JS eval error") {
		t.Errorf("unexpected error text: %v", err)
	}
}
