// Package webdriver implements core.Browser over the W3C WebDriver protocol,
// talking to chromedriver, geckodriver, msedgedriver or a Selenium server.
package webdriver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Client handles HTTP communication with a WebDriver server.
type Client struct {
	serverURL      string
	sessionID      string
	client         *http.Client
	browserName    string
	browserVersion string
}

// NewClient creates a new WebDriver client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Minute, // page loads block the navigate call
		},
	}
}

// NewSession creates a session with the given capabilities.
func (c *Client) NewSession(capabilities map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	}

	resp, err := c.post("/session", body)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return core.ErrBrowserUnreachable.WithMessage("invalid session response")
	}

	c.sessionID, _ = value["sessionId"].(string)
	if c.sessionID == "" {
		return core.ErrBrowserUnreachable.WithMessage("no session ID in response")
	}

	if caps, ok := value["capabilities"].(map[string]interface{}); ok {
		c.browserName, _ = caps["browserName"].(string)
		c.browserVersion, _ = caps["browserVersion"].(string)
	}
	return nil
}

// DeleteSession ends the session. Without a session it fails with
// ErrBrowserUnreachable.
func (c *Client) DeleteSession() error {
	if c.sessionID == "" {
		return core.ErrBrowserUnreachable.WithMessage("no active session")
	}
	_, err := c.delete(c.sessionPath())
	c.sessionID = ""
	return err
}

// SessionID returns the active session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// BrowserName returns the browser reported by the server, e.g. "chrome".
func (c *Client) BrowserName() string {
	return c.browserName
}

// BrowserVersion returns the browser version reported by the server.
func (c *Client) BrowserVersion() string {
	return c.browserVersion
}

// Element Operations

// FindElements finds elements under rootID, or in the document when rootID is empty.
func (c *Client) FindElements(rootID, using, value string) ([]string, error) {
	path := c.sessionPath() + "/elements"
	if rootID != "" {
		path = c.elementPath(rootID) + "/elements"
	}
	resp, err := c.post(path, map[string]interface{}{
		"using": using,
		"value": value,
	})
	if err != nil {
		return nil, err
	}

	values, ok := resp["value"].([]interface{})
	if !ok {
		return nil, nil
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if elem, ok := v.(map[string]interface{}); ok {
			if id := extractElementID(elem); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ClickElement clicks an element.
func (c *Client) ClickElement(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/click", map[string]interface{}{})
	return err
}

// ClearElement clears an element's value.
func (c *Client) ClearElement(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/clear", map[string]interface{}{})
	return err
}

// SendKeysToElement types text into an element.
func (c *Client) SendKeysToElement(elementID, text string) error {
	_, err := c.post(c.elementPath(elementID)+"/value", map[string]interface{}{
		"text": text,
	})
	return err
}

// GetElementText returns an element's rendered text.
func (c *Client) GetElementText(elementID string) (string, error) {
	resp, err := c.get(c.elementPath(elementID) + "/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// GetElementAttribute returns the live property or, failing that, the
// attribute, the way Selenium's getAttribute does. The W3C attribute
// endpoint only sees the markup, so a typed value would read stale.
// A missing attribute reads "".
func (c *Client) GetElementAttribute(elementID, name string) (string, error) {
	v, err := c.ExecuteSync(attributeScript, []interface{}{
		map[string]interface{}{w3cElementKey: elementID},
		name,
	})
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		if t {
			return "true", nil
		}
		return "", nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(t), nil
	}
}

// attributeScript reads properties first (value, checked...), then the
// attribute. Boolean attributes read "true" or null.
const attributeScript = `var el = arguments[0], name = arguments[1];
var booleans = ["checked", "selected", "disabled", "hidden", "multiple", "readonly", "required"];
if (booleans.indexOf(name.toLowerCase()) >= 0) {
  return (el[name] || el.hasAttribute(name)) ? "true" : null;
}
if (name in el && typeof el[name] !== "object" && typeof el[name] !== "function") {
  return el[name];
}
return el.getAttribute(name);`

// IsElementDisplayed checks if element is rendered.
func (c *Client) IsElementDisplayed(elementID string) (bool, error) {
	return c.getBool(c.elementPath(elementID) + "/displayed")
}

// IsElementEnabled checks if element is enabled.
func (c *Client) IsElementEnabled(elementID string) (bool, error) {
	return c.getBool(c.elementPath(elementID) + "/enabled")
}

// IsElementSelected checks if a checkbox, radio or option is selected.
func (c *Client) IsElementSelected(elementID string) (bool, error) {
	return c.getBool(c.elementPath(elementID) + "/selected")
}

// Scripts

// ExecuteSync runs a synchronous script. args must already be JSON-ready
// (element references as {w3cElementKey: id}).
func (c *Client) ExecuteSync(script string, args []interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	resp, err := c.post(c.sessionPath()+"/execute/sync", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

// Actions

// PerformActions sends a W3C actions payload.
func (c *Client) PerformActions(actions []map[string]interface{}) error {
	_, err := c.post(c.sessionPath()+"/actions", map[string]interface{}{"actions": actions})
	return err
}

// MoveToElement moves the mouse to the centre of an element.
func (c *Client) MoveToElement(elementID string) error {
	return c.PerformActions([]map[string]interface{}{
		{
			"type":       "pointer",
			"id":         "mouse",
			"parameters": map[string]interface{}{"pointerType": "mouse"},
			"actions": []map[string]interface{}{
				{
					"type":     "pointerMove",
					"duration": 100,
					"x":        0,
					"y":        0,
					"origin":   map[string]interface{}{w3cElementKey: elementID},
				},
			},
		},
	})
}

// Navigation

// NavigateTo loads url.
func (c *Client) NavigateTo(url string) error {
	_, err := c.post(c.sessionPath()+"/url", map[string]interface{}{
		"url": url,
	})
	return err
}

// Back goes back in history.
func (c *Client) Back() error {
	_, err := c.post(c.sessionPath()+"/back", map[string]interface{}{})
	return err
}

// Forward goes forward in history.
func (c *Client) Forward() error {
	_, err := c.post(c.sessionPath()+"/forward", map[string]interface{}{})
	return err
}

// Refresh reloads the page.
func (c *Client) Refresh() error {
	_, err := c.post(c.sessionPath()+"/refresh", map[string]interface{}{})
	return err
}

// CurrentURL returns the URL of the current browsing context.
func (c *Client) CurrentURL() (string, error) {
	return c.getString(c.sessionPath() + "/url")
}

// Title returns the document title.
func (c *Client) Title() (string, error) {
	return c.getString(c.sessionPath() + "/title")
}

// Source returns the page source.
func (c *Client) Source() (string, error) {
	return c.getString(c.sessionPath() + "/source")
}

// Screenshot returns a screenshot as PNG bytes.
func (c *Client) Screenshot() ([]byte, error) {
	encoded, err := c.getString(c.sessionPath() + "/screenshot")
	if err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Windows and frames

// WindowHandle returns the current window handle.
func (c *Client) WindowHandle() (string, error) {
	return c.getString(c.sessionPath() + "/window")
}

// WindowHandles returns all window handles.
func (c *Client) WindowHandles() ([]string, error) {
	resp, err := c.get(c.sessionPath() + "/window/handles")
	if err != nil {
		return nil, err
	}
	values, _ := resp["value"].([]interface{})
	handles := make([]string, 0, len(values))
	for _, v := range values {
		if h, ok := v.(string); ok {
			handles = append(handles, h)
		}
	}
	return handles, nil
}

// SwitchToWindow switches to a window by handle.
func (c *Client) SwitchToWindow(handle string) error {
	_, err := c.post(c.sessionPath()+"/window", map[string]interface{}{
		"handle": handle,
	})
	return err
}

// CloseWindow closes the current window.
func (c *Client) CloseWindow() error {
	_, err := c.delete(c.sessionPath() + "/window")
	return err
}

// MaximizeWindow maximizes the current window.
func (c *Client) MaximizeWindow() error {
	_, err := c.post(c.sessionPath()+"/window/maximize", map[string]interface{}{})
	return err
}

// SwitchToFrame enters the frame element, or the top-level document when
// elementID is empty.
func (c *Client) SwitchToFrame(elementID string) error {
	var id interface{}
	if elementID != "" {
		id = map[string]interface{}{w3cElementKey: elementID}
	}
	_, err := c.post(c.sessionPath()+"/frame", map[string]interface{}{
		"id": id,
	})
	return err
}

// Alerts

// AlertText returns the text of the open dialog.
func (c *Client) AlertText() (string, error) {
	return c.getString(c.sessionPath() + "/alert/text")
}

// AcceptAlert accepts the open dialog.
func (c *Client) AcceptAlert() error {
	_, err := c.post(c.sessionPath()+"/alert/accept", map[string]interface{}{})
	return err
}

// DismissAlert dismisses the open dialog.
func (c *Client) DismissAlert() error {
	_, err := c.post(c.sessionPath()+"/alert/dismiss", map[string]interface{}{})
	return err
}

// SendAlertText types into a prompt.
func (c *Client) SendAlertText(text string) error {
	_, err := c.post(c.sessionPath()+"/alert/text", map[string]interface{}{
		"text": text,
	})
	return err
}

// Timeouts

// SetImplicitWait sets the implicit wait timeout.
func (c *Client) SetImplicitWait(timeout time.Duration) error {
	_, err := c.post(c.sessionPath()+"/timeouts", map[string]interface{}{
		"implicit": timeout.Milliseconds(),
	})
	return err
}

// Status returns whether the server reports itself ready for new sessions.
func (c *Client) Status() (bool, error) {
	resp, err := c.get("/status")
	if err != nil {
		return false, err
	}
	value, _ := resp["value"].(map[string]interface{})
	ready, _ := value["ready"].(bool)
	return ready, nil
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

func (c *Client) getString(path string) (string, error) {
	resp, err := c.get(path)
	if err != nil {
		return "", err
	}
	s, _ := resp["value"].(string)
	return s, nil
}

func (c *Client) getBool(path string) (bool, error) {
	resp, err := c.get(path)
	if err != nil {
		return false, err
	}
	b, _ := resp["value"].(bool)
	return b, nil
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	return c.request("GET", path, nil)
}

func (c *Client) post(path string, body interface{}) (map[string]interface{}, error) {
	return c.request("POST", path, body)
}

func (c *Client) delete(path string) (map[string]interface{}, error) {
	return c.request("DELETE", path, nil)
}

func (c *Client) request(method, path string, body interface{}) (map[string]interface{}, error) {
	url := c.serverURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, core.ErrBrowserUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrBrowserUnreachable.WithCause(err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= 400 {
			return nil, core.NewExecutionError(core.ErrCategoryPage, "http_error",
				fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for WebDriver error
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errType, ok := errValue["error"].(string); ok {
			msg, _ := errValue["message"].(string)
			return result, mapError(errType, msg)
		}
	}

	return result, nil
}

// mapError converts a W3C error code into the matching core error.
func mapError(code, msg string) error {
	var base *core.ExecutionError
	switch code {
	case "no such element":
		base = core.ErrElementNotFound
	case "stale element reference":
		base = core.ErrStaleElement
	case "element not interactable", "element click intercepted":
		base = core.ErrElementNotVisible
	case "no such alert":
		base = core.ErrNoAlert
	case "no such window":
		base = core.ErrNoSuchWindow
	case "no such frame":
		base = core.ErrNoSuchFrame
	case "javascript error":
		base = core.ErrScriptFailed
	case "invalid selector":
		base = core.ErrInvalidLocator
	case "invalid session id", "session not created":
		base = core.ErrBrowserUnreachable
	case "unknown command", "unknown method", "unsupported operation":
		base = core.ErrUnsupported
	case "timeout", "script timeout":
		base = core.ErrConditionTimeout
	default:
		return core.NewExecutionError(core.ErrCategoryPage, strings.ReplaceAll(code, " ", "_"), code+": "+msg)
	}
	if msg == "" {
		return base
	}
	return base.WithMessage(code + ": " + firstLine(msg))
}

// firstLine drops the stacktrace some drivers append to error messages.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
