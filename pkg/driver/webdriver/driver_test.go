package webdriver

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

func TestBrowser_FindElement(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/elements": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{"value": []interface{}{}})
		},
	})
	b := NewBrowser(connected(fs))

	_, err := b.FindElement(core.By{Using: core.UsingCSS, Value: "#missing"})
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("Expected ErrElementNotFound, got %v", err)
	}

	els, err := b.FindElements(core.By{Using: core.UsingCSS, Value: "#missing"})
	if err != nil || len(els) != 0 {
		t.Errorf("Expected empty result, got %v %v", els, err)
	}
}

func TestBrowser_ElementCalls(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/elements":            value([]interface{}{elementRef("e1")}),
		"POST /session/s1/element/e1/click":    value(nil),
		"POST /session/s1/element/e1/clear":    value(nil),
		"POST /session/s1/element/e1/value":    value(nil),
		"GET /session/s1/element/e1/text":      value("Log in"),
		"GET /session/s1/element/e1/displayed": value(true),
		"GET /session/s1/element/e1/enabled":   value(false),
		"GET /session/s1/element/e1/selected":  value(true),
		"POST /session/s1/element/e1/elements": value([]interface{}{elementRef("e2")}),
	})
	b := NewBrowser(connected(fs))

	el, err := b.FindElement(core.By{Using: core.UsingCSS, Value: "#login"})
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	if err := el.Click(); err != nil {
		t.Errorf("Click failed: %v", err)
	}
	if err := el.Clear(); err != nil {
		t.Errorf("Clear failed: %v", err)
	}
	if err := el.SendKeys("hi"); err != nil {
		t.Errorf("SendKeys failed: %v", err)
	}
	req, _ := fs.last("POST", "/session/s1/element/e1/value")
	if req.Body["text"] != "hi" {
		t.Errorf("Expected text 'hi', got %v", req.Body)
	}

	if text, _ := el.Text(); text != "Log in" {
		t.Errorf("Expected text 'Log in', got %q", text)
	}
	if d, _ := el.IsDisplayed(); !d {
		t.Error("Expected displayed")
	}
	if e, _ := el.IsEnabled(); e {
		t.Error("Expected disabled")
	}
	if s, _ := el.IsSelected(); !s {
		t.Error("Expected selected")
	}
	children, err := el.FindElements(core.By{Using: core.UsingCSS, Value: "option"})
	if err != nil || len(children) != 1 || children[0].(*Element).ID() != "e2" {
		t.Errorf("Unexpected children %v %v", children, err)
	}
}

func TestBrowser_ExecuteScriptConvertsElements(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/execute/sync": value(map[string]interface{}{
			"el":    elementRef("e9"),
			"count": 2.0,
		}),
	})
	b := NewBrowser(connected(fs))

	v, err := b.ExecuteScript("return {el: arguments[0], count: 2};", &Element{client: b.client, id: "e1"}, "style")
	if err != nil {
		t.Fatalf("ExecuteScript failed: %v", err)
	}

	req, _ := fs.last("POST", "/session/s1/execute/sync")
	wantArgs := []interface{}{map[string]interface{}{w3cElementKey: "e1"}, "style"}
	if !reflect.DeepEqual(req.Body["args"], wantArgs) {
		t.Errorf("Unexpected args %v", req.Body["args"])
	}

	result := v.(map[string]interface{})
	if el, ok := result["el"].(*Element); !ok || el.ID() != "e9" {
		t.Errorf("Expected *Element e9, got %#v", result["el"])
	}
	if result["count"] != 2.0 {
		t.Errorf("Expected count 2, got %v", result["count"])
	}
}

func TestBrowser_ExecuteScriptNoArgs(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/execute/sync": value("complete"),
	})
	b := NewBrowser(connected(fs))

	v, err := b.ExecuteScript("return document.readyState;")
	if err != nil || v != "complete" {
		t.Fatalf("Unexpected result %v %v", v, err)
	}
	req, _ := fs.last("POST", "/session/s1/execute/sync")
	if args, ok := req.Body["args"].([]interface{}); !ok || len(args) != 0 {
		t.Errorf("Expected empty args array, got %v", req.Body["args"])
	}
}

func TestBrowser_ScriptError(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/execute/sync": func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusInternalServerError, "javascript error", "foo is not defined")
		},
	})
	_, err := NewBrowser(connected(fs)).ExecuteScript("foo()")
	if !errors.Is(err, core.ErrScriptFailed) {
		t.Errorf("Expected ErrScriptFailed, got %v", err)
	}
}

func TestBrowser_ImplicitWait(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/timeouts": value(nil),
	})
	b := NewBrowser(connected(fs))

	if err := b.SetImplicitWait(5 * time.Second); err != nil {
		t.Fatalf("SetImplicitWait failed: %v", err)
	}
	if b.ImplicitWait() != 5*time.Second {
		t.Errorf("Expected 5s, got %v", b.ImplicitWait())
	}
}

func TestBrowser_PressKey(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/element/e1/value": value(nil),
	})
	b := NewBrowser(connected(fs))

	if err := b.PressKey(&Element{client: b.client, id: "e1"}, core.KeyEnter); err != nil {
		t.Fatalf("PressKey failed: %v", err)
	}
	req, _ := fs.last("POST", "/session/s1/element/e1/value")
	if req.Body["text"] != "\ue007" {
		t.Errorf("Expected Enter codepoint, got %q", req.Body["text"])
	}

	if err := b.PressKey(&Element{client: b.client, id: "e1"}, core.Key("F13")); !errors.Is(err, core.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for unknown key, got %v", err)
	}
}

func TestBrowser_MoveTo(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/actions": value(nil),
	})
	b := NewBrowser(connected(fs))

	if err := b.MoveTo(&Element{client: b.client, id: "e1"}); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	req, _ := fs.last("POST", "/session/s1/actions")
	actions := req.Body["actions"].([]interface{})
	pointer := actions[0].(map[string]interface{})
	move := pointer["actions"].([]interface{})[0].(map[string]interface{})
	if !reflect.DeepEqual(move["origin"], map[string]interface{}{w3cElementKey: "e1"}) {
		t.Errorf("Unexpected origin %v", move["origin"])
	}
}

func TestBrowser_WindowsAndAlerts(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /session/s1/window":           value("w1"),
		"GET /session/s1/window/handles":   value([]interface{}{"w1", "w2"}),
		"POST /session/s1/window":          value(nil),
		"DELETE /session/s1/window":        value([]interface{}{"w1"}),
		"POST /session/s1/window/maximize": value(nil),
		"GET /session/s1/alert/text": func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "no such alert", "no such alert")
		},
	})
	b := NewBrowser(connected(fs))

	h, _ := b.WindowHandle()
	if h != "w1" {
		t.Errorf("Expected w1, got %s", h)
	}
	handles, _ := b.WindowHandles()
	if !reflect.DeepEqual(handles, []string{"w1", "w2"}) {
		t.Errorf("Unexpected handles %v", handles)
	}
	if err := b.SwitchToWindow("w2"); err != nil {
		t.Errorf("SwitchToWindow failed: %v", err)
	}
	req, _ := fs.last("POST", "/session/s1/window")
	if req.Body["handle"] != "w2" {
		t.Errorf("Expected handle w2, got %v", req.Body)
	}
	if err := b.CloseWindow(); err != nil {
		t.Errorf("CloseWindow failed: %v", err)
	}
	if err := b.MaximizeWindow(); err != nil {
		t.Errorf("MaximizeWindow failed: %v", err)
	}

	if _, err := b.AlertText(); !errors.Is(err, core.ErrNoAlert) {
		t.Errorf("Expected ErrNoAlert, got %v", err)
	}
}

func TestBrowser_QuitTwice(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"DELETE /session/s1": value(nil),
	})
	b := NewBrowser(connected(fs))

	if err := b.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if err := b.Quit(); !errors.Is(err, core.ErrBrowserUnreachable) {
		t.Errorf("Expected ErrBrowserUnreachable, got %v", err)
	}
}

func TestOpen_RequiresEndpoint(t *testing.T) {
	_, err := Open(context.Background(), Config{Browser: core.Chrome})
	if !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("Expected ErrMissingRequired, got %v", err)
	}
}

func TestOpen_ServerURL(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session": value(map[string]interface{}{"sessionId": "s1"}),
	})

	b, err := Open(context.Background(), Config{Browser: core.Firefox, Headless: true, ServerURL: fs.URL})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if b.client.SessionID() != "s1" {
		t.Errorf("Expected session s1, got %s", b.client.SessionID())
	}
	req, _ := fs.last("POST", "/session")
	caps := req.Body["capabilities"].(map[string]interface{})["alwaysMatch"].(map[string]interface{})
	if caps["browserName"] != "firefox" {
		t.Errorf("Expected firefox, got %v", caps["browserName"])
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name     core.BrowserName
		headless bool
		key      string
		browser  string
		args     []string
	}{
		{core.Chrome, false, "goog:chromeOptions", "chrome", []string{"--lang=en"}},
		{core.Chrome, true, "goog:chromeOptions", "chrome", []string{"--lang=en", "--headless=new"}},
		{core.Edge, true, "ms:edgeOptions", "MicrosoftEdge", []string{"--lang=en", "--headless=new"}},
		{core.Firefox, true, "moz:firefoxOptions", "firefox", []string{"--lang=en", "-headless"}},
	}
	for _, tt := range tests {
		caps := Capabilities(tt.name, tt.headless, []string{"--lang=en"})
		if caps["browserName"] != tt.browser {
			t.Errorf("%s: browserName = %v", tt.name, caps["browserName"])
		}
		opts, ok := caps[tt.key].(map[string]interface{})
		if !ok {
			t.Fatalf("%s: missing %s", tt.name, tt.key)
		}
		if !reflect.DeepEqual(opts["args"], tt.args) {
			t.Errorf("%s headless=%v: args = %v, want %v", tt.name, tt.headless, opts["args"], tt.args)
		}
	}
}

func TestPortArgs(t *testing.T) {
	if got := portArgs(core.Chrome, 9515); !reflect.DeepEqual(got, []string{"--port=9515"}) {
		t.Errorf("chrome: %v", got)
	}
	if got := portArgs(core.Firefox, 4444); !reflect.DeepEqual(got, []string{"--port", "4444"}) {
		t.Errorf("firefox: %v", got)
	}
}

func TestStartService_MissingBinary(t *testing.T) {
	_, err := StartService(context.Background(), "/nonexistent/chromedriver", core.Chrome)
	if !errors.Is(err, core.ErrBrowserUnreachable) {
		t.Errorf("Expected ErrBrowserUnreachable, got %v", err)
	}
}

func TestElement_AttributeReadsLiveProperty(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/elements":                  value([]interface{}{elementRef("e1")}),
		"POST /session/s1/execute/sync":              value("typed"),
		"GET /session/s1/element/e1/attribute/value": value("old"),
	})
	b := NewBrowser(connected(fs))

	el, err := b.FindElement(core.By{Using: core.UsingCSS, Value: "#email"})
	if err != nil {
		t.Fatalf("FindElement failed: %v", err)
	}
	got, err := el.Attribute("value")
	if err != nil {
		t.Fatalf("Attribute failed: %v", err)
	}
	if got != "typed" {
		t.Errorf("Attribute(value) = %q, want typed", got)
	}

	req, ok := fs.last("POST", "/session/s1/execute/sync")
	if !ok {
		t.Fatal("Expected an execute/sync request")
	}
	if script, _ := req.Body["script"].(string); !strings.Contains(script, "el[name]") {
		t.Errorf("Expected property read in script, got %q", script)
	}
	wantArgs := []interface{}{elementRef("e1"), "value"}
	if !reflect.DeepEqual(req.Body["args"], wantArgs) {
		t.Errorf("args = %v, want %v", req.Body["args"], wantArgs)
	}
	if _, ok := fs.last("GET", "/session/s1/element/e1/attribute/value"); ok {
		t.Error("Attribute should not use the markup-only attribute endpoint")
	}
}
