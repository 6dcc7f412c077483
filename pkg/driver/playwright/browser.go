// Package playwright implements core.Browser on playwright-go. Windows are
// Playwright pages, identified by generated handles; dialogs are held open
// by a listener until the caller accepts or dismisses them.
package playwright

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pw "github.com/playwright-community/playwright-go"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

const (
	// actionTimeout bounds Playwright's own auto-waiting on element actions.
	actionTimeout = 5 * time.Second
	// findPollInterval is how often lookups re-query during the implicit wait.
	findPollInterval = 100 * time.Millisecond
)

// Config describes the browser to launch.
type Config struct {
	Browser  core.BrowserName
	Headless bool
	Args     []string
	// Install downloads the Playwright driver and browser before launching.
	Install bool
}

type tab struct {
	handle string
	page   pw.Page
}

// Browser implements core.Browser with one Playwright browser context.
type Browser struct {
	runtime *pw.Playwright
	browser pw.Browser
	context pw.BrowserContext

	mu           sync.Mutex
	tabs         []*tab
	current      *tab
	frame        pw.Frame // nil means the page's main frame
	dialog       pw.Dialog
	promptText   string
	implicitWait time.Duration
	quit         bool
}

var _ core.Browser = (*Browser)(nil)

// Launch starts Playwright and opens a browser with a single blank page.
func Launch(cfg Config) (*Browser, error) {
	if cfg.Install {
		if err := pw.Install(&pw.RunOptions{Browsers: []string{installName(cfg.Browser)}}); err != nil {
			return nil, core.ErrBrowserUnreachable.WithCause(fmt.Errorf("failed to install playwright browsers: %w", err))
		}
	}

	runtime, err := pw.Run()
	if err != nil {
		return nil, core.ErrBrowserUnreachable.WithCause(fmt.Errorf("failed to start playwright driver: %w", err))
	}

	browser, err := browserType(runtime, cfg.Browser).Launch(launchOptions(cfg))
	if err != nil {
		_ = runtime.Stop()
		return nil, core.ErrBrowserUnreachable.WithCause(fmt.Errorf("failed to launch browser instance: %w", err))
	}

	bctx, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		_ = runtime.Stop()
		return nil, core.ErrBrowserUnreachable.WithCause(err)
	}
	bctx.SetDefaultTimeout(float64(actionTimeout.Milliseconds()))

	b := &Browser{runtime: runtime, browser: browser, context: bctx}
	bctx.OnPage(func(p pw.Page) { b.addPage(p) })

	if _, err := bctx.NewPage(); err != nil {
		_ = b.Quit()
		return nil, core.ErrBrowserUnreachable.WithCause(err)
	}
	logger.Info("playwright %s %s launched (headless=%v)", cfg.Browser, browser.Version(), cfg.Headless)
	return b, nil
}

func browserType(runtime *pw.Playwright, name core.BrowserName) pw.BrowserType {
	if name == core.Firefox {
		return runtime.Firefox
	}
	return runtime.Chromium
}

func installName(name core.BrowserName) string {
	switch name {
	case core.Firefox:
		return "firefox"
	case core.Edge:
		return "msedge"
	}
	return "chromium"
}

func launchOptions(cfg Config) pw.BrowserTypeLaunchOptions {
	opts := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(cfg.Headless),
		Args:     cfg.Args,
	}
	if cfg.Browser == core.Edge {
		opts.Channel = pw.String("msedge")
	}
	return opts
}

// addPage registers a page (the first one, or a popup) under a new handle.
func (b *Browser) addPage(p pw.Page) {
	t := &tab{handle: uuid.NewString(), page: p}
	p.OnDialog(func(d pw.Dialog) {
		b.mu.Lock()
		b.dialog = d
		b.mu.Unlock()
	})
	p.OnClose(func(pw.Page) { b.removePage(p) })

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs = append(b.tabs, t)
	if b.current == nil {
		b.current = t
	}
}

func (b *Browser) removePage(p pw.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.tabs {
		if t.page == p {
			b.tabs = append(b.tabs[:i], b.tabs[i+1:]...)
			if b.current == t {
				b.current = nil
				b.frame = nil
			}
			return
		}
	}
}

// active returns the current page and frame.
func (b *Browser) active() (pw.Page, pw.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return nil, nil, core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	if b.current == nil {
		return nil, nil, core.ErrNoSuchWindow.WithMessage("current window was closed")
	}
	frame := b.frame
	if frame == nil {
		frame = b.current.page.MainFrame()
	}
	return b.current.page, frame, nil
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

// FindElements re-queries until something matches or the implicit wait ends.
func (b *Browser) FindElements(by core.By) ([]core.Element, error) {
	deadline := time.Now().Add(b.ImplicitWait())
	for {
		_, frame, err := b.active()
		if err != nil {
			return nil, err
		}
		handles, err := frame.QuerySelectorAll(selector(by))
		if err != nil {
			return nil, mapError(err)
		}
		if len(handles) > 0 || !time.Now().Before(deadline) {
			return b.wrap(handles), nil
		}
		time.Sleep(findPollInterval)
	}
}

func (b *Browser) wrap(handles []pw.ElementHandle) []core.Element {
	els := make([]core.Element, 0, len(handles))
	for _, h := range handles {
		els = append(els, &Element{b: b, handle: h})
	}
	return els
}

// selector converts a W3C lookup into a Playwright selector.
func selector(by core.By) string {
	if by.Using == core.UsingXPath {
		return "xpath=" + by.Value
	}
	return "css=" + by.Value
}

// ImplicitWait returns the lookup retry window.
func (b *Browser) ImplicitWait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.implicitWait
}

// SetImplicitWait sets the lookup retry window.
func (b *Browser) SetImplicitWait(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	b.implicitWait = d
	return nil
}

// ExecuteScript runs a WebDriver-style script body with arguments[i] bound.
func (b *Browser) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	_, frame, err := b.active()
	if err != nil {
		return nil, err
	}
	wire := make([]interface{}, len(args))
	for i, a := range args {
		if el, ok := a.(*Element); ok {
			wire[i] = el.handle
			continue
		}
		wire[i] = a
	}
	v, err := frame.Evaluate(wrapScript(script), wire)
	if err != nil {
		return nil, mapError(err)
	}
	return v, nil
}

// wrapScript turns a script body into a function of the argument array.
func wrapScript(script string) string {
	return "(args) => (function() {\n" + script + "\n}).apply(null, args)"
}

// Navigate loads url.
func (b *Browser) Navigate(url string) error {
	page, _, err := b.active()
	if err != nil {
		return err
	}
	b.resetFrame()
	_, err = page.Goto(url)
	return mapError(err)
}

// Back goes back in history.
func (b *Browser) Back() error {
	page, _, err := b.active()
	if err != nil {
		return err
	}
	b.resetFrame()
	_, err = page.GoBack()
	return mapError(err)
}

// Forward goes forward in history.
func (b *Browser) Forward() error {
	page, _, err := b.active()
	if err != nil {
		return err
	}
	b.resetFrame()
	_, err = page.GoForward()
	return mapError(err)
}

// Refresh reloads the page.
func (b *Browser) Refresh() error {
	page, _, err := b.active()
	if err != nil {
		return err
	}
	b.resetFrame()
	_, err = page.Reload()
	return mapError(err)
}

func (b *Browser) resetFrame() {
	b.mu.Lock()
	b.frame = nil
	b.mu.Unlock()
}

// CurrentURL returns the current page URL.
func (b *Browser) CurrentURL() (string, error) {
	page, _, err := b.active()
	if err != nil {
		return "", err
	}
	return page.URL(), nil
}

// Title returns the page title.
func (b *Browser) Title() (string, error) {
	page, _, err := b.active()
	if err != nil {
		return "", err
	}
	title, err := page.Title()
	return title, mapError(err)
}

// PageSource returns the serialized DOM of the current frame.
func (b *Browser) PageSource() (string, error) {
	_, frame, err := b.active()
	if err != nil {
		return "", err
	}
	html, err := frame.Content()
	return html, mapError(err)
}

// WindowHandle returns the current page's handle.
func (b *Browser) WindowHandle() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return "", core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	if b.current == nil {
		return "", core.ErrNoSuchWindow.WithMessage("current window was closed")
	}
	return b.current.handle, nil
}

// WindowHandles returns open page handles in opening order.
func (b *Browser) WindowHandles() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return nil, core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	handles := make([]string, 0, len(b.tabs))
	for _, t := range b.tabs {
		handles = append(handles, t.handle)
	}
	return handles, nil
}

// SwitchToWindow makes handle the current page and brings it to front.
func (b *Browser) SwitchToWindow(handle string) error {
	b.mu.Lock()
	var target *tab
	for _, t := range b.tabs {
		if t.handle == handle {
			target = t
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return core.ErrNoSuchWindow.WithMessage("no window with handle " + handle)
	}
	b.current = target
	b.frame = nil
	b.mu.Unlock()
	return mapError(target.page.BringToFront())
}

// CloseWindow closes the current page.
func (b *Browser) CloseWindow() error {
	page, _, err := b.active()
	if err != nil {
		return err
	}
	if err := page.Close(); err != nil {
		return mapError(err)
	}
	b.removePage(page)
	return nil
}

// MaximizeWindow sizes the viewport to a desktop resolution; Playwright
// has no window manager control.
func (b *Browser) MaximizeWindow() error {
	page, _, err := b.active()
	if err != nil {
		return err
	}
	return mapError(page.SetViewportSize(1920, 1080))
}

// SwitchToFrame enters an iframe element.
func (b *Browser) SwitchToFrame(frame core.Element) error {
	el, ok := frame.(*Element)
	if !ok {
		return core.ErrNoSuchFrame.WithMessage(fmt.Sprintf("frame is a %T, not a playwright element", frame))
	}
	f, err := el.handle.ContentFrame()
	if err != nil || f == nil {
		return core.ErrNoSuchFrame.WithCause(err)
	}
	b.mu.Lock()
	b.frame = f
	b.mu.Unlock()
	return nil
}

// SwitchToDefaultContent returns to the main frame.
func (b *Browser) SwitchToDefaultContent() error {
	if _, _, err := b.active(); err != nil {
		return err
	}
	b.resetFrame()
	return nil
}

func (b *Browser) openDialog() (pw.Dialog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return nil, core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	if b.dialog == nil {
		return nil, core.ErrNoAlert
	}
	return b.dialog, nil
}

func (b *Browser) clearDialog() {
	b.mu.Lock()
	b.dialog = nil
	b.mu.Unlock()
}

// AlertText returns the open dialog's message.
func (b *Browser) AlertText() (string, error) {
	d, err := b.openDialog()
	if err != nil {
		return "", err
	}
	return d.Message(), nil
}

// AcceptAlert accepts the open dialog, with any text sent to a prompt.
func (b *Browser) AcceptAlert() error {
	d, err := b.openDialog()
	if err != nil {
		return err
	}
	b.clearDialog()
	b.mu.Lock()
	text := b.promptText
	b.promptText = ""
	b.mu.Unlock()
	if d.Type() == "prompt" {
		return mapError(d.Accept(text))
	}
	return mapError(d.Accept())
}

// DismissAlert dismisses the open dialog.
func (b *Browser) DismissAlert() error {
	d, err := b.openDialog()
	if err != nil {
		return err
	}
	b.clearDialog()
	b.mu.Lock()
	b.promptText = ""
	b.mu.Unlock()
	return mapError(d.Dismiss())
}

// SendAlertText stores text for the prompt; it is submitted on accept.
func (b *Browser) SendAlertText(text string) error {
	d, err := b.openDialog()
	if err != nil {
		return err
	}
	if d.Type() != "prompt" {
		return core.ErrUnsupported.WithMessage("dialog does not accept text")
	}
	b.mu.Lock()
	b.promptText = text
	b.mu.Unlock()
	return nil
}

// MoveTo hovers the element.
func (b *Browser) MoveTo(el core.Element) error {
	e, ok := el.(*Element)
	if !ok {
		return core.ErrUnsupported.WithMessage(fmt.Sprintf("cannot hover a %T", el))
	}
	return mapError(e.handle.Hover())
}

// PressKey presses a named key on the element. core.Key names are
// Playwright key names.
func (b *Browser) PressKey(el core.Element, key core.Key) error {
	e, ok := el.(*Element)
	if !ok {
		return core.ErrUnsupported.WithMessage(fmt.Sprintf("cannot send keys to a %T", el))
	}
	return mapError(e.handle.Press(string(key)))
}

// Screenshot captures the viewport.
func (b *Browser) Screenshot() ([]byte, error) {
	page, _, err := b.active()
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot()
	return data, mapError(err)
}

// Quit closes the browser and stops the Playwright driver.
func (b *Browser) Quit() error {
	b.mu.Lock()
	if b.quit {
		b.mu.Unlock()
		return core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	b.quit = true
	b.mu.Unlock()

	var errs []error
	if err := b.browser.Close(); err != nil && !errors.Is(err, pw.ErrTargetClosed) {
		errs = append(errs, err)
	}
	if err := b.runtime.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// mapError translates Playwright failures into core errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, pw.ErrTargetClosed):
		return core.ErrBrowserUnreachable.WithCause(err)
	case strings.Contains(msg, "not attached to the DOM"), strings.Contains(msg, "Element is detached"):
		return core.ErrStaleElement.WithCause(err)
	case strings.Contains(msg, "not visible"):
		return core.ErrElementNotVisible.WithCause(err)
	case errors.Is(err, pw.ErrTimeout):
		return core.ErrConditionTimeout.WithCause(err)
	case strings.Contains(msg, "is not a valid selector"), strings.Contains(msg, "Failed to parse selector"):
		return core.ErrInvalidLocator.WithCause(err)
	case strings.Contains(msg, "Evaluation failed"), strings.Contains(msg, "ReferenceError"),
		strings.Contains(msg, "TypeError"), strings.Contains(msg, "SyntaxError"):
		return core.ErrScriptFailed.WithCause(err)
	}
	return err
}
