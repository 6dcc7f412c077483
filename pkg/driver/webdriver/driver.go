package webdriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

// Config describes how to reach the browser.
type Config struct {
	Browser  core.BrowserName
	Headless bool
	Args     []string // extra browser command-line arguments

	// ServerURL is an already running WebDriver server. Ignored when
	// DriverBinary is set.
	ServerURL string

	// DriverBinary is a driver executable (chromedriver, geckodriver,
	// msedgedriver) started for this session and stopped on Quit.
	DriverBinary string
}

// Browser implements core.Browser on a WebDriver session.
type Browser struct {
	client  *Client
	service *Service

	mu           sync.Mutex
	implicitWait time.Duration
}

var _ core.Browser = (*Browser)(nil)

// Open starts the driver service if configured, then creates a session.
func Open(ctx context.Context, cfg Config) (*Browser, error) {
	serverURL := cfg.ServerURL
	var svc *Service
	if cfg.DriverBinary != "" {
		var err error
		svc, err = StartService(ctx, cfg.DriverBinary, cfg.Browser)
		if err != nil {
			return nil, err
		}
		serverURL = svc.URL()
	}
	if serverURL == "" {
		return nil, core.ErrMissingRequired.WithMessage("webdriver: server URL or driver binary required")
	}

	client := NewClient(serverURL)
	if err := client.NewSession(Capabilities(cfg.Browser, cfg.Headless, cfg.Args)); err != nil {
		if svc != nil {
			svc.Stop()
		}
		return nil, err
	}
	logger.Info("webdriver session %s on %s (%s %s)", client.SessionID(), serverURL, client.BrowserName(), client.BrowserVersion())
	return &Browser{client: client, service: svc}, nil
}

// NewBrowser wraps a client that already holds a session.
func NewBrowser(client *Client) *Browser {
	return &Browser{client: client}
}

// Capabilities builds alwaysMatch capabilities for a browser.
func Capabilities(name core.BrowserName, headless bool, args []string) map[string]interface{} {
	all := append([]string(nil), args...)
	switch name {
	case core.Firefox:
		if headless {
			all = append(all, "-headless")
		}
		return map[string]interface{}{
			"browserName":        "firefox",
			"moz:firefoxOptions": map[string]interface{}{"args": nonNil(all)},
		}
	case core.Edge:
		if headless {
			all = append(all, "--headless=new")
		}
		return map[string]interface{}{
			"browserName":    "MicrosoftEdge",
			"ms:edgeOptions": map[string]interface{}{"args": nonNil(all)},
		}
	default:
		if headless {
			all = append(all, "--headless=new")
		}
		return map[string]interface{}{
			"browserName":        "chrome",
			"goog:chromeOptions": map[string]interface{}{"args": nonNil(all)},
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (b *Browser) element(id string) *Element {
	return &Element{client: b.client, id: id}
}

// FindElement returns the first match.
func (b *Browser) FindElement(by core.By) (core.Element, error) {
	els, err := b.FindElements(by)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, core.ErrElementNotFound.WithMessage("no element matches " + by.String())
	}
	return els[0], nil
}

// FindElements returns all matches. The server applies the implicit wait.
func (b *Browser) FindElements(by core.By) ([]core.Element, error) {
	ids, err := b.client.FindElements("", by.Using, by.Value)
	if err != nil {
		return nil, err
	}
	return b.wrap(ids), nil
}

func (b *Browser) wrap(ids []string) []core.Element {
	els := make([]core.Element, 0, len(ids))
	for _, id := range ids {
		els = append(els, b.element(id))
	}
	return els
}

// ImplicitWait returns the last implicit wait set through this browser.
func (b *Browser) ImplicitWait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.implicitWait
}

// SetImplicitWait sets the server-side implicit wait.
func (b *Browser) SetImplicitWait(d time.Duration) error {
	if err := b.client.SetImplicitWait(d); err != nil {
		return err
	}
	b.mu.Lock()
	b.implicitWait = d
	b.mu.Unlock()
	return nil
}

// ExecuteScript runs a synchronous script. *Element arguments are sent as
// element references and element results come back as *Element.
func (b *Browser) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	wire := make([]interface{}, len(args))
	for i, a := range args {
		wire[i] = b.toWire(a)
	}
	v, err := b.client.ExecuteSync(script, wire)
	if err != nil {
		return nil, err
	}
	return b.fromWire(v), nil
}

func (b *Browser) toWire(v interface{}) interface{} {
	switch t := v.(type) {
	case *Element:
		return map[string]interface{}{w3cElementKey: t.id}
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = b.toWire(x)
		}
		return out
	}
	return v
}

func (b *Browser) fromWire(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if id := extractElementID(t); id != "" && len(t) == 1 {
			return b.element(id)
		}
		for k, x := range t {
			t[k] = b.fromWire(x)
		}
		return t
	case []interface{}:
		for i, x := range t {
			t[i] = b.fromWire(x)
		}
		return t
	}
	return v
}

// Navigate loads url.
func (b *Browser) Navigate(url string) error { return b.client.NavigateTo(url) }

// Back goes back in history.
func (b *Browser) Back() error { return b.client.Back() }

// Forward goes forward in history.
func (b *Browser) Forward() error { return b.client.Forward() }

// Refresh reloads the page.
func (b *Browser) Refresh() error { return b.client.Refresh() }

// CurrentURL returns the current URL.
func (b *Browser) CurrentURL() (string, error) { return b.client.CurrentURL() }

// Title returns the document title.
func (b *Browser) Title() (string, error) { return b.client.Title() }

// PageSource returns the serialized DOM.
func (b *Browser) PageSource() (string, error) { return b.client.Source() }

// WindowHandle returns the current window handle.
func (b *Browser) WindowHandle() (string, error) { return b.client.WindowHandle() }

// WindowHandles returns all window handles.
func (b *Browser) WindowHandles() ([]string, error) { return b.client.WindowHandles() }

// SwitchToWindow switches windows.
func (b *Browser) SwitchToWindow(handle string) error { return b.client.SwitchToWindow(handle) }

// CloseWindow closes the current window.
func (b *Browser) CloseWindow() error { return b.client.CloseWindow() }

// MaximizeWindow maximizes the current window.
func (b *Browser) MaximizeWindow() error { return b.client.MaximizeWindow() }

// SwitchToFrame enters a frame element.
func (b *Browser) SwitchToFrame(frame core.Element) error {
	el, ok := frame.(*Element)
	if !ok {
		return core.ErrNoSuchFrame.WithMessage(fmt.Sprintf("frame is a %T, not a webdriver element", frame))
	}
	return b.client.SwitchToFrame(el.id)
}

// SwitchToDefaultContent returns to the top-level document.
func (b *Browser) SwitchToDefaultContent() error { return b.client.SwitchToFrame("") }

// AlertText returns the open dialog's text.
func (b *Browser) AlertText() (string, error) { return b.client.AlertText() }

// AcceptAlert accepts the open dialog.
func (b *Browser) AcceptAlert() error { return b.client.AcceptAlert() }

// DismissAlert dismisses the open dialog.
func (b *Browser) DismissAlert() error { return b.client.DismissAlert() }

// SendAlertText types into a prompt.
func (b *Browser) SendAlertText(text string) error { return b.client.SendAlertText(text) }

// MoveTo hovers the element.
func (b *Browser) MoveTo(el core.Element) error {
	e, ok := el.(*Element)
	if !ok {
		return core.ErrUnsupported.WithMessage(fmt.Sprintf("cannot hover a %T", el))
	}
	return b.client.MoveToElement(e.id)
}

// PressKey sends a named key to the element.
func (b *Browser) PressKey(el core.Element, key core.Key) error {
	e, ok := el.(*Element)
	if !ok {
		return core.ErrUnsupported.WithMessage(fmt.Sprintf("cannot send keys to a %T", el))
	}
	code, ok := keyCodes[key]
	if !ok {
		return core.ErrUnsupported.WithMessage("unknown key " + string(key))
	}
	return b.client.SendKeysToElement(e.id, code)
}

// Screenshot captures the viewport as PNG.
func (b *Browser) Screenshot() ([]byte, error) { return b.client.Screenshot() }

// Quit ends the session and stops the driver service, if any.
func (b *Browser) Quit() error {
	err := b.client.DeleteSession()
	if b.service != nil {
		b.service.Stop()
		b.service = nil
	}
	return err
}

// W3C key codepoints.
var keyCodes = map[core.Key]string{
	core.KeyEnter:      "\ue007",
	core.KeyTab:        "\ue004",
	core.KeyEscape:     "\ue00c",
	core.KeyBackspace:  "\ue003",
	core.KeyDelete:     "\ue017",
	core.KeySpace:      "\ue00d",
	core.KeyArrowUp:    "\ue013",
	core.KeyArrowDown:  "\ue015",
	core.KeyArrowLeft:  "\ue012",
	core.KeyArrowRight: "\ue014",
	core.KeyHome:       "\ue011",
	core.KeyEnd:        "\ue010",
	core.KeyPageUp:     "\ue00e",
	core.KeyPageDown:   "\ue00f",
}

// Element is a WebDriver element reference.
type Element struct {
	client *Client
	id     string
}

var _ core.Element = (*Element)(nil)

// ID returns the W3C element reference.
func (e *Element) ID() string { return e.id }

// Click clicks the element.
func (e *Element) Click() error { return e.client.ClickElement(e.id) }

// Clear clears the element.
func (e *Element) Clear() error { return e.client.ClearElement(e.id) }

// SendKeys types text into the element.
func (e *Element) SendKeys(text string) error { return e.client.SendKeysToElement(e.id, text) }

// Text returns the rendered text.
func (e *Element) Text() (string, error) { return e.client.GetElementText(e.id) }

// Attribute returns an attribute value, "" when absent.
func (e *Element) Attribute(name string) (string, error) {
	return e.client.GetElementAttribute(e.id, name)
}

// IsDisplayed reports visibility.
func (e *Element) IsDisplayed() (bool, error) { return e.client.IsElementDisplayed(e.id) }

// IsEnabled reports whether the element is enabled.
func (e *Element) IsEnabled() (bool, error) { return e.client.IsElementEnabled(e.id) }

// IsSelected reports checked or selected state.
func (e *Element) IsSelected() (bool, error) { return e.client.IsElementSelected(e.id) }

// FindElements searches under this element.
func (e *Element) FindElements(by core.By) ([]core.Element, error) {
	ids, err := e.client.FindElements(e.id, by.Using, by.Value)
	if err != nil {
		return nil, err
	}
	els := make([]core.Element, 0, len(ids))
	for _, id := range ids {
		els = append(els, &Element{client: e.client, id: id})
	}
	return els, nil
}
