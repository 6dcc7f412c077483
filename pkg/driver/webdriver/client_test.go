package webdriver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// writeJSON encodes data as JSON to the response writer.
func writeJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]interface{}{
		"value": map[string]interface{}{"error": code, "message": msg, "stacktrace": ""},
	})
}

// request is one call seen by the fake server.
type request struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// fakeServer routes "METHOD path" to handlers and records every request.
type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []request
	routes   map[string]http.HandlerFunc
}

func newFakeServer(t *testing.T, routes map[string]http.HandlerFunc) *fakeServer {
	t.Helper()
	fs := &fakeServer{routes: routes}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}
		fs.mu.Lock()
		fs.requests = append(fs.requests, request{Method: r.Method, Path: r.URL.Path, Body: body})
		fs.mu.Unlock()

		if h, ok := fs.routes[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "unknown command", r.Method+" "+r.URL.Path)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) last(method, path string) (request, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := len(fs.requests) - 1; i >= 0; i-- {
		if fs.requests[i].Method == method && fs.requests[i].Path == path {
			return fs.requests[i], true
		}
	}
	return request{}, false
}

func value(v interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"value": v})
	}
}

func elementRef(id string) map[string]interface{} {
	return map[string]interface{}{w3cElementKey: id}
}

// connected returns a client already holding session "s1".
func connected(fs *fakeServer) *Client {
	c := NewClient(fs.URL)
	c.sessionID = "s1"
	return c
}

func TestClient_NewSession(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session": value(map[string]interface{}{
			"sessionId": "abc",
			"capabilities": map[string]interface{}{
				"browserName":    "chrome",
				"browserVersion": "126.0",
			},
		}),
	})

	c := NewClient(fs.URL + "/")
	if err := c.NewSession(Capabilities(core.Chrome, true, nil)); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if c.SessionID() != "abc" {
		t.Errorf("Expected session 'abc', got '%s'", c.SessionID())
	}
	if c.BrowserName() != "chrome" || c.BrowserVersion() != "126.0" {
		t.Errorf("Unexpected browser %s %s", c.BrowserName(), c.BrowserVersion())
	}

	req, _ := fs.last("POST", "/session")
	caps := req.Body["capabilities"].(map[string]interface{})["alwaysMatch"].(map[string]interface{})
	args := caps["goog:chromeOptions"].(map[string]interface{})["args"].([]interface{})
	if len(args) != 1 || args[0] != "--headless=new" {
		t.Errorf("Expected headless arg, got %v", args)
	}
}

func TestClient_NewSessionError(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session": func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusInternalServerError, "session not created", "Chrome failed to start")
		},
	})

	err := NewClient(fs.URL).NewSession(Capabilities(core.Chrome, false, nil))
	if !errors.Is(err, core.ErrBrowserUnreachable) {
		t.Errorf("Expected ErrBrowserUnreachable, got %v", err)
	}
}

func TestClient_DeleteSession(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"DELETE /session/s1": value(nil),
	})

	c := connected(fs)
	if err := c.DeleteSession(); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if c.SessionID() != "" {
		t.Error("Expected session ID to be cleared")
	}
	if err := c.DeleteSession(); !errors.Is(err, core.ErrBrowserUnreachable) {
		t.Errorf("Expected ErrBrowserUnreachable on second delete, got %v", err)
	}
}

func TestClient_FindElements(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/elements":            value([]interface{}{elementRef("e1"), elementRef("e2")}),
		"POST /session/s1/element/e1/elements": value([]interface{}{map[string]interface{}{"ELEMENT": "e3"}}),
	})
	c := connected(fs)

	ids, err := c.FindElements("", core.UsingCSS, "#a")
	if err != nil {
		t.Fatalf("FindElements failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"e1", "e2"}) {
		t.Errorf("Unexpected ids %v", ids)
	}
	req, _ := fs.last("POST", "/session/s1/elements")
	if req.Body["using"] != "css selector" || req.Body["value"] != "#a" {
		t.Errorf("Unexpected body %v", req.Body)
	}

	ids, err = c.FindElements("e1", core.UsingXPath, ".//b")
	if err != nil {
		t.Fatalf("FindElements (scoped) failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"e3"}) {
		t.Errorf("Expected legacy id e3, got %v", ids)
	}
}

func TestClient_GetElementAttribute(t *testing.T) {
	values := map[string]interface{}{"class": "btn", "style": nil, "checked": true, "tabindex": 3.0, "value": "typed"}
	var fs *fakeServer
	fs = newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/execute/sync": func(w http.ResponseWriter, r *http.Request) {
			req, _ := fs.last("POST", "/session/s1/execute/sync")
			args, _ := req.Body["args"].([]interface{})
			if len(args) != 2 {
				writeError(w, http.StatusBadRequest, "invalid argument", "expected element and name")
				return
			}
			writeJSON(w, map[string]interface{}{"value": values[args[1].(string)]})
		},
	})
	c := connected(fs)

	tests := map[string]string{"class": "btn", "style": "", "checked": "true", "tabindex": "3", "value": "typed"}
	for name, want := range tests {
		got, err := c.GetElementAttribute("e1", name)
		if err != nil {
			t.Fatalf("GetElementAttribute(%s) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("GetElementAttribute(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestClient_Screenshot(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /session/s1/screenshot": value(base64.StdEncoding.EncodeToString(png)),
	})

	data, err := connected(fs).Screenshot()
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if !reflect.DeepEqual(data, png) {
		t.Errorf("Unexpected screenshot bytes %v", data)
	}
}

func TestClient_SetImplicitWait(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/timeouts": value(nil),
	})

	if err := connected(fs).SetImplicitWait(15 * time.Second); err != nil {
		t.Fatalf("SetImplicitWait failed: %v", err)
	}
	req, _ := fs.last("POST", "/session/s1/timeouts")
	if req.Body["implicit"] != 15000.0 {
		t.Errorf("Expected implicit 15000, got %v", req.Body["implicit"])
	}
}

func TestClient_SwitchToFrame(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /session/s1/frame": value(nil),
	})
	c := connected(fs)

	if err := c.SwitchToFrame("f1"); err != nil {
		t.Fatalf("SwitchToFrame failed: %v", err)
	}
	req, _ := fs.last("POST", "/session/s1/frame")
	if !reflect.DeepEqual(req.Body["id"], map[string]interface{}{w3cElementKey: "f1"}) {
		t.Errorf("Unexpected frame id %v", req.Body["id"])
	}

	if err := c.SwitchToFrame(""); err != nil {
		t.Fatalf("SwitchToFrame(default) failed: %v", err)
	}
	req, _ = fs.last("POST", "/session/s1/frame")
	if id, ok := req.Body["id"]; !ok || id != nil {
		t.Errorf("Expected null frame id, got %v", req.Body)
	}
}

func TestClient_Status(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /status": value(map[string]interface{}{"ready": true, "message": "ok"}),
	})

	ready, err := NewClient(fs.URL).Status()
	if err != nil || !ready {
		t.Errorf("Expected ready, got %v %v", ready, err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url).Title()
	if !errors.Is(err, core.ErrBrowserUnreachable) {
		t.Errorf("Expected ErrBrowserUnreachable, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"no such element", core.ErrElementNotFound},
		{"stale element reference", core.ErrStaleElement},
		{"element not interactable", core.ErrElementNotVisible},
		{"element click intercepted", core.ErrElementNotVisible},
		{"no such alert", core.ErrNoAlert},
		{"no such window", core.ErrNoSuchWindow},
		{"no such frame", core.ErrNoSuchFrame},
		{"javascript error", core.ErrScriptFailed},
		{"invalid selector", core.ErrInvalidLocator},
		{"invalid session id", core.ErrBrowserUnreachable},
		{"unknown command", core.ErrUnsupported},
		{"script timeout", core.ErrConditionTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapError(tt.code, "details\n  at stack")
			if !errors.Is(err, tt.want) {
				t.Errorf("mapError(%q) = %v, want %v", tt.code, err, tt.want)
			}
			if err.Error() != tt.code+": details" {
				t.Errorf("Expected stacktrace dropped, got %q", err.Error())
			}
		})
	}

	err := mapError("unexpected alert open", "boom")
	var ee *core.ExecutionError
	if !errors.As(err, &ee) || ee.Code != "unexpected_alert_open" {
		t.Errorf("Expected passthrough code, got %v", err)
	}
}
