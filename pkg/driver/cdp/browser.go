// Package cdp implements core.Browser over the Chrome DevTools Protocol
// with chromedp. Only Chromium-based browsers are supported.
//
// Elements are held in a page-side registry and addressed by index, so every
// element operation is a Runtime.evaluate call. Windows are page targets,
// identified by target ID.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

const (
	actionTimeout    = 30 * time.Second
	settleTimeout    = 250 * time.Millisecond
	findPollInterval = 100 * time.Millisecond
)

// Config describes the browser to launch.
type Config struct {
	Browser  core.BrowserName
	Headless bool
	Args     []string
	// ExecPath overrides browser discovery; required for Edge.
	ExecPath string
}

type tab struct {
	handle     string
	ctx        context.Context
	cancel     context.CancelFunc
	dialog     *page.EventJavascriptDialogOpening
	promptText *string
}

// Browser implements core.Browser on one Chrome instance.
type Browser struct {
	allocCancel context.CancelFunc
	root        *tab

	mu           sync.Mutex
	tabs         []*tab
	current      *tab
	frame        int // registry id of the current iframe, -1 for the top document
	implicitWait time.Duration
	quit         bool
}

var _ core.Browser = (*Browser)(nil)

// Launch starts a browser and attaches to its first tab.
func Launch(cfg Config) (*Browser, error) {
	if cfg.Browser == core.Firefox {
		return nil, core.ErrUnsupported.WithMessage("the cdp backend drives Chromium-based browsers only")
	}
	if cfg.Browser == core.Edge && cfg.ExecPath == "" {
		return nil, core.ErrMissingRequired.WithMessage("edge over cdp needs an executable path")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	sugar := logger.L().Sugar()
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	root := &tab{ctx: ctx, cancel: cancel}
	b := &Browser{allocCancel: allocCancel, root: root, frame: -1}
	b.listen(root)

	// The first Run starts the browser; it must not carry a timeout or the
	// browser dies with it.
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		allocCancel()
		return nil, core.ErrBrowserUnreachable.WithCause(fmt.Errorf("failed to start browser: %w", err))
	}
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		cancel()
		allocCancel()
		return nil, core.ErrBrowserUnreachable.WithMessage("browser started without a page target")
	}
	root.handle = string(c.Target.TargetID)
	b.tabs = []*tab{root}
	b.current = root

	logger.Info("cdp %s launched (headless=%v)", cfg.Browser, cfg.Headless)
	return b, nil
}

// allocatorOptions layers headless mode and user flags over chromedp's
// defaults, which start headless.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	for _, arg := range cfg.Args {
		name, value := parseFlag(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// parseFlag splits "--name=value" into a chromedp flag. Bare flags are true.
func parseFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

// listen records JavaScript dialogs for t until they close.
func (b *Browser) listen(t *tab) {
	chromedp.ListenTarget(t.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			b.mu.Lock()
			t.dialog = ev
			t.promptText = nil
			b.mu.Unlock()
		case *page.EventJavascriptDialogClosed:
			b.mu.Lock()
			t.dialog = nil
			t.promptText = nil
			b.mu.Unlock()
		}
	})
}

// active returns the current tab and frame.
func (b *Browser) active() (*tab, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return nil, 0, core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	if b.current == nil {
		return nil, 0, core.ErrNoSuchWindow.WithMessage("current window was closed")
	}
	return b.current, b.frame, nil
}

// run executes actions on t with the action timeout.
func (b *Browser) run(t *tab, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(t.ctx, actionTimeout)
	defer cancel()
	return mapError(chromedp.Run(ctx, actions...))
}

// eval runs fn in t's top document and decodes its JSON result into out.
func (b *Browser) eval(t *tab, out interface{}, fn string, args ...interface{}) error {
	expr, err := call(fn, args...)
	if err != nil {
		return err
	}
	return b.run(t, evaluate(expr, out, false))
}

// evaluate returns by value and reports page exceptions as scriptError.
func evaluate(expr string, out interface{}, await bool) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(expr).
			WithReturnByValue(true).
			WithAwaitPromise(await).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return &scriptError{msg: exceptionMessage(exc)}
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}
}

type scriptError struct{ msg string }

func (e *scriptError) Error() string { return e.msg }

func exceptionMessage(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return firstLine(exc.Exception.Description)
	}
	return exc.Text
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// mapError converts chromedp and page errors to core errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *scriptError
	if errors.As(err, &se) {
		switch {
		case strings.Contains(se.msg, "stale element reference"):
			return core.ErrStaleElement.WithCause(err)
		case strings.Contains(se.msg, "invalid selector"):
			return core.ErrInvalidLocator.WithCause(err)
		case strings.Contains(se.msg, "no such frame"):
			return core.ErrNoSuchFrame.WithCause(err)
		}
		return core.ErrScriptFailed.WithCause(err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.ErrConditionTimeout.WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, chromedp.ErrInvalidContext):
		return core.ErrBrowserUnreachable.WithCause(err)
	}
	return err
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
		t, frame, err := b.active()
		if err != nil {
			return nil, err
		}
		els, err := b.find(t, by, -1, frame)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 || !time.Now().Before(deadline) {
			return els, nil
		}
		time.Sleep(findPollInterval)
	}
}

func (b *Browser) find(t *tab, by core.By, root, frame int) ([]core.Element, error) {
	var ids []int
	if err := b.eval(t, &ids, findScript, by.Using, by.Value, root, frame); err != nil {
		return nil, err
	}
	els := make([]core.Element, 0, len(ids))
	for _, id := range ids {
		els = append(els, &Element{b: b, tab: t, id: id})
	}
	return els, nil
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

// ExecuteScript runs a script body in the top document with arguments[i]
// bound. Elements pass both ways.
func (b *Browser) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	t, _, err := b.active()
	if err != nil {
		return nil, err
	}
	wire := make([]interface{}, len(args))
	for i, a := range args {
		wire[i] = toWire(a)
	}
	var out interface{}
	if err := b.eval(t, &out, executeScript, script, wire); err != nil {
		return nil, err
	}
	return b.fromWire(t, out), nil
}

func toWire(v interface{}) interface{} {
	switch t := v.(type) {
	case *Element:
		return map[string]interface{}{elementKey: t.id}
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = toWire(item)
		}
		return out
	}
	return v
}

func (b *Browser) fromWire(t *tab, v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		if id, ok := x[elementKey].(float64); ok && len(x) == 1 {
			return &Element{b: b, tab: t, id: int(id)}
		}
		for k, item := range x {
			x[k] = b.fromWire(t, item)
		}
	case []interface{}:
		for i, item := range x {
			x[i] = b.fromWire(t, item)
		}
	}
	return v
}

// Navigate loads url and waits for the load event.
func (b *Browser) Navigate(url string) error {
	return b.navigate(chromedp.Navigate(url))
}

// Back goes back in history.
func (b *Browser) Back() error {
	return b.navigate(chromedp.NavigateBack())
}

// Forward goes forward in history.
func (b *Browser) Forward() error {
	return b.navigate(chromedp.NavigateForward())
}

// Refresh reloads the page.
func (b *Browser) Refresh() error {
	return b.navigate(chromedp.Reload())
}

func (b *Browser) navigate(action chromedp.Action) error {
	t, _, err := b.active()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.frame = -1
	b.mu.Unlock()
	return b.run(t, action)
}

// CurrentURL returns the current page URL.
func (b *Browser) CurrentURL() (string, error) {
	t, _, err := b.active()
	if err != nil {
		return "", err
	}
	var url string
	err = b.run(t, chromedp.Location(&url))
	return url, err
}

// Title returns the page title.
func (b *Browser) Title() (string, error) {
	t, _, err := b.active()
	if err != nil {
		return "", err
	}
	var title string
	err = b.run(t, chromedp.Title(&title))
	return title, err
}

// PageSource returns the serialized DOM of the current frame.
func (b *Browser) PageSource() (string, error) {
	t, frame, err := b.active()
	if err != nil {
		return "", err
	}
	var html string
	err = b.eval(t, &html, sourceScript, frame)
	return html, err
}

// WindowHandle returns the current tab's target ID.
func (b *Browser) WindowHandle() (string, error) {
	t, _, err := b.active()
	if err != nil {
		return "", err
	}
	return t.handle, nil
}

// WindowHandles returns open page targets, oldest first.
func (b *Browser) WindowHandles() ([]string, error) {
	if _, _, err := b.active(); err != nil && !errors.Is(err, core.ErrNoSuchWindow) {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(b.root.ctx, actionTimeout)
	defer cancel()
	infos, err := chromedp.Targets(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncHandles(infos), nil
}

// syncHandles merges the browser's page targets into the known handle
// order: closed targets drop out, new ones are appended.
func (b *Browser) syncHandles(infos []*target.Info) []string {
	live := make(map[string]bool)
	for _, info := range infos {
		if info.Type == "page" {
			live[string(info.TargetID)] = true
		}
	}

	handles := make([]string, 0, len(live))
	known := make(map[string]bool)
	kept := b.tabs[:0]
	for _, t := range b.tabs {
		if !live[t.handle] {
			continue
		}
		kept = append(kept, t)
		known[t.handle] = true
		handles = append(handles, t.handle)
	}
	b.tabs = kept
	for _, info := range infos {
		id := string(info.TargetID)
		if live[id] && !known[id] {
			b.tabs = append(b.tabs, &tab{handle: id})
			known[id] = true
			handles = append(handles, id)
		}
	}
	return handles
}

// SwitchToWindow attaches to the target with the given ID and makes it
// current.
func (b *Browser) SwitchToWindow(handle string) error {
	if _, err := b.WindowHandles(); err != nil {
		return err
	}

	b.mu.Lock()
	var found *tab
	for _, t := range b.tabs {
		if t.handle == handle {
			found = t
			break
		}
	}
	if found == nil {
		b.mu.Unlock()
		return core.ErrNoSuchWindow.WithMessage("no window with handle " + handle)
	}
	attach := found.ctx == nil
	if attach {
		found.ctx, found.cancel = chromedp.NewContext(b.root.ctx, chromedp.WithTargetID(target.ID(handle)))
	}
	b.current = found
	b.frame = -1
	b.mu.Unlock()

	if attach {
		b.listen(found)
	}
	return b.run(found, page.BringToFront())
}

// CloseWindow closes the current tab. The session stays usable after a
// switch to another window.
func (b *Browser) CloseWindow() error {
	t, _, err := b.active()
	if err != nil {
		return err
	}
	if err := b.run(t, page.Close()); err != nil {
		return err
	}

	b.mu.Lock()
	for i, other := range b.tabs {
		if other == t {
			b.tabs = append(b.tabs[:i], b.tabs[i+1:]...)
			break
		}
	}
	b.current = nil
	b.frame = -1
	b.mu.Unlock()

	if t != b.root && t.cancel != nil {
		t.cancel()
	}
	return nil
}

// MaximizeWindow emulates a desktop viewport; headless Chrome has no
// window to maximize.
func (b *Browser) MaximizeWindow() error {
	t, _, err := b.active()
	if err != nil {
		return err
	}
	return b.run(t, chromedp.EmulateViewport(1920, 1080))
}

// SwitchToFrame makes a same-origin iframe the lookup scope.
func (b *Browser) SwitchToFrame(frame core.Element) error {
	el, ok := frame.(*Element)
	if !ok {
		return core.ErrNoSuchFrame.WithMessage(fmt.Sprintf("frame is a %T, not a cdp element", frame))
	}
	if err := b.eval(el.tab, nil, frameScript, el.id); err != nil {
		return err
	}
	b.mu.Lock()
	b.frame = el.id
	b.mu.Unlock()
	return nil
}

// SwitchToDefaultContent returns to the top document.
func (b *Browser) SwitchToDefaultContent() error {
	if _, _, err := b.active(); err != nil {
		return err
	}
	b.mu.Lock()
	b.frame = -1
	b.mu.Unlock()
	return nil
}

func (b *Browser) openDialog() (*tab, *page.EventJavascriptDialogOpening, error) {
	t, _, err := b.active()
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.dialog == nil {
		return nil, nil, core.ErrNoAlert
	}
	return t, t.dialog, nil
}

// AlertText returns the open dialog's message.
func (b *Browser) AlertText() (string, error) {
	_, d, err := b.openDialog()
	if err != nil {
		return "", err
	}
	return d.Message, nil
}

// AcceptAlert accepts the open dialog, answering a prompt with any text
// sent before.
func (b *Browser) AcceptAlert() error {
	return b.handleDialog(true)
}

// DismissAlert dismisses the open dialog.
func (b *Browser) DismissAlert() error {
	return b.handleDialog(false)
}

func (b *Browser) handleDialog(accept bool) error {
	t, d, err := b.openDialog()
	if err != nil {
		return err
	}
	params := page.HandleJavaScriptDialog(accept)
	b.mu.Lock()
	if accept && t.promptText != nil {
		params = params.WithPromptText(*t.promptText)
	} else if accept && d.Type == page.DialogTypePrompt {
		params = params.WithPromptText(d.DefaultPrompt)
	}
	b.mu.Unlock()

	if err := b.run(t, params); err != nil {
		return err
	}
	b.mu.Lock()
	t.dialog = nil
	t.promptText = nil
	b.mu.Unlock()
	return nil
}

// SendAlertText stores text for the prompt; it is submitted on accept.
func (b *Browser) SendAlertText(text string) error {
	t, d, err := b.openDialog()
	if err != nil {
		return err
	}
	if d.Type != page.DialogTypePrompt {
		return core.ErrUnsupported.WithMessage(fmt.Sprintf("cannot type into a %s dialog", d.Type))
	}
	b.mu.Lock()
	t.promptText = &text
	b.mu.Unlock()
	return nil
}

// MoveTo moves the mouse to the element's centre.
func (b *Browser) MoveTo(el core.Element) error {
	e, err := b.own(el)
	if err != nil {
		return err
	}
	var xy [2]float64
	if err := b.eval(e.tab, &xy, centerScript, e.id); err != nil {
		return err
	}
	return b.run(e.tab, chromedp.MouseEvent(input.MouseMoved, xy[0], xy[1]))
}

// PressKey focuses the element and sends a named key.
func (b *Browser) PressKey(el core.Element, key core.Key) error {
	e, err := b.own(el)
	if err != nil {
		return err
	}
	code, ok := keyCodes[key]
	if !ok {
		return core.ErrUnsupported.WithMessage(fmt.Sprintf("key %q has no cdp mapping", key))
	}
	if err := b.eval(e.tab, nil, focusScript, e.id); err != nil {
		return err
	}
	return b.run(e.tab, chromedp.KeyEvent(code))
}

var keyCodes = map[core.Key]string{
	core.KeyEnter:      kb.Enter,
	core.KeyTab:        kb.Tab,
	core.KeyEscape:     kb.Escape,
	core.KeyBackspace:  kb.Backspace,
	core.KeyDelete:     kb.Delete,
	core.KeySpace:      " ",
	core.KeyArrowUp:    kb.ArrowUp,
	core.KeyArrowDown:  kb.ArrowDown,
	core.KeyArrowLeft:  kb.ArrowLeft,
	core.KeyArrowRight: kb.ArrowRight,
	core.KeyHome:       kb.Home,
	core.KeyEnd:        kb.End,
	core.KeyPageUp:     kb.PageUp,
	core.KeyPageDown:   kb.PageDown,
}

func (b *Browser) own(el core.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok {
		return nil, core.ErrUnsupported.WithMessage(fmt.Sprintf("element is a %T, not a cdp element", el))
	}
	if _, _, err := b.active(); err != nil {
		return nil, err
	}
	return e, nil
}

// Screenshot captures the current tab's viewport as PNG.
func (b *Browser) Screenshot() ([]byte, error) {
	t, _, err := b.active()
	if err != nil {
		return nil, err
	}
	var buf []byte
	if err := b.run(t, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Quit closes the browser. A second call returns ErrBrowserUnreachable.
func (b *Browser) Quit() error {
	b.mu.Lock()
	if b.quit {
		b.mu.Unlock()
		return core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	b.quit = true
	tabs := b.tabs
	b.tabs = nil
	b.current = nil
	b.mu.Unlock()

	for _, t := range tabs {
		if t != b.root && t.cancel != nil {
			t.cancel()
		}
	}
	err := chromedp.Cancel(b.root.ctx)
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return core.ErrBrowserUnreachable.WithCause(err)
	}
	return nil
}
