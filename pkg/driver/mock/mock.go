// Package mock provides an in-memory browser for testing without a real
// browser. Pages are HTML fixtures parsed with goquery; a handful of data-*
// attributes script simple page behaviour:
//
//	data-toggle="<css>"       click toggles the hidden attribute on matches
//	data-show / data-hide     click shows / hides matches
//	data-hover-show="<css>"   hovering shows matches
//	data-alert / data-confirm / data-prompt="<text>"   click opens a dialog
//	data-open-window="<url>"  click opens a new window on a fixture page
//	data-loaded="false"       an <img> that failed to load
//	data-validation-message   value returned for validationMessage
package mock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

const blankPage = "<html><head><title></title></head><body></body></html>"

// ScriptCall records one ExecuteScript invocation.
type ScriptCall struct {
	Script string
	Args   []interface{}
}

// Option configures a Browser.
type Option func(*Browser)

// WithPage registers a fixture page served for url.
func WithPage(url, html string) Option {
	return func(b *Browser) { b.pages[url] = html }
}

// WithScriptHandler overrides ExecuteScript. Calls are still recorded.
func WithScriptHandler(fn func(script string, args []interface{}) (interface{}, error)) Option {
	return func(b *Browser) { b.scriptHandler = fn }
}

// WithQuitError makes Quit fail with err (the browser is still marked closed).
func WithQuitError(err error) Option {
	return func(b *Browser) { b.quitErr = err }
}

type window struct {
	handle   string
	url      string
	doc      *goquery.Document
	frameDoc *goquery.Document
	gen      int
	history  []string
	pos      int
}

func (w *window) root() *goquery.Document {
	if w.frameDoc != nil {
		return w.frameDoc
	}
	return w.doc
}

type dialog struct {
	kind  string // alert, confirm, prompt
	text  string
	input string
}

// Browser is an in-memory core.Browser.
type Browser struct {
	mu sync.Mutex

	pages   map[string]string
	windows []*window
	current *window
	nextWin int

	implicitWait time.Duration
	waitHistory  []time.Duration
	maximized    bool

	alert    *dialog
	alertLog []string

	scriptHandler func(string, []interface{}) (interface{}, error)
	scripts       []ScriptCall
	hovered       *Element
	keys          []string
	clicks        []string

	quit    bool
	quitErr error
}

var _ core.Browser = (*Browser)(nil)

// New creates a browser with one blank window.
func New(opts ...Option) *Browser {
	b := &Browser{pages: make(map[string]string)}
	for _, opt := range opts {
		opt(b)
	}
	w := b.newWindowLocked()
	b.current = w
	b.loadLocked(w, "about:blank")
	return b
}

func (b *Browser) newWindowLocked() *window {
	b.nextWin++
	w := &window{handle: fmt.Sprintf("window-%d", b.nextWin)}
	b.windows = append(b.windows, w)
	return w
}

func (b *Browser) loadLocked(w *window, url string) {
	html, ok := b.pages[url]
	if !ok {
		html = blankPage
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(blankPage))
	}
	w.url = url
	w.doc = doc
	w.frameDoc = nil
	w.gen++
}

// active returns the current window or an error if the session is unusable.
func (b *Browser) active() (*window, error) {
	if b.quit {
		return nil, core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	if b.current == nil {
		return nil, core.ErrNoSuchWindow.WithMessage("current window was closed")
	}
	return b.current, nil
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

// FindElements returns all matches in document order.
func (b *Browser) FindElements(by core.By) ([]core.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, err := b.active()
	if err != nil {
		return nil, err
	}
	root := w.root().Selection
	sel, err := query(root, by)
	if err != nil {
		return nil, err
	}
	return b.wrap(w, sel), nil
}

func (b *Browser) wrap(w *window, sel *goquery.Selection) []core.Element {
	els := make([]core.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		els = append(els, &Element{b: b, win: w, gen: w.gen, sel: s})
	})
	return els
}

// ImplicitWait returns the configured implicit wait.
func (b *Browser) ImplicitWait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.implicitWait
}

// SetImplicitWait records the implicit wait. Lookups never block.
func (b *Browser) SetImplicitWait(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return err
	}
	b.implicitWait = d
	b.waitHistory = append(b.waitHistory, d)
	return nil
}

// ImplicitWaitHistory returns every value passed to SetImplicitWait.
func (b *Browser) ImplicitWaitHistory() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Duration(nil), b.waitHistory...)
}

// ExecuteScript records the call and emulates the small set of scripts the
// page layer sends. A WithScriptHandler handler takes over when set.
func (b *Browser) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	b.mu.Lock()
	if _, err := b.active(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.scripts = append(b.scripts, ScriptCall{Script: script, Args: args})
	handler := b.scriptHandler
	b.mu.Unlock()

	if handler != nil {
		return handler(script, args)
	}
	return b.emulateScript(script, args)
}

func (b *Browser) emulateScript(script string, args []interface{}) (interface{}, error) {
	el, _ := argElement(args, 0)
	switch {
	case strings.Contains(script, ".click()"):
		if el == nil {
			return nil, core.ErrScriptFailed.WithMessage("click target is not an element")
		}
		return nil, el.activate()
	case strings.Contains(script, "scrollIntoView"):
		return nil, nil
	case strings.Contains(script, "removeAttribute"):
		if el == nil {
			return nil, core.ErrScriptFailed.WithMessage("removeAttribute target is not an element")
		}
		name, _ := argString(args, 1)
		el.removeAttr(name)
		return nil, nil
	case strings.Contains(script, "setAttribute"):
		if el == nil {
			return nil, core.ErrScriptFailed.WithMessage("setAttribute target is not an element")
		}
		name, _ := argString(args, 1)
		value, _ := argString(args, 2)
		el.setAttr(name, value)
		return nil, nil
	case strings.Contains(script, "getAttribute"):
		if el == nil {
			return nil, core.ErrScriptFailed.WithMessage("getAttribute target is not an element")
		}
		name, _ := argString(args, 1)
		if v, ok := el.lookupAttr(name); ok {
			return v, nil
		}
		return nil, nil
	case strings.Contains(script, "validationMessage"):
		if el == nil {
			return nil, core.ErrScriptFailed.WithMessage("validationMessage target is not an element")
		}
		return el.attr("data-validation-message"), nil
	case strings.Contains(script, "naturalWidth"):
		if el == nil {
			return nil, core.ErrScriptFailed.WithMessage("image target is not an element")
		}
		return el.attr("src") != "" && el.attr("data-loaded") != "false", nil
	case strings.Contains(script, "jQuery"):
		return true, nil
	case strings.Contains(script, "document.readyState"):
		return "complete", nil
	}
	return nil, nil
}

func argElement(args []interface{}, i int) (*Element, bool) {
	if i >= len(args) {
		return nil, false
	}
	el, ok := args[i].(*Element)
	return el, ok
}

func argString(args []interface{}, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

// Scripts returns every recorded ExecuteScript call.
func (b *Browser) Scripts() []ScriptCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ScriptCall(nil), b.scripts...)
}

// Navigate loads the fixture registered for url (or a blank page).
func (b *Browser) Navigate(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return err
	}
	w.history = append(w.history[:w.pos], url)
	w.pos = len(w.history)
	b.loadLocked(w, url)
	return nil
}

// Back goes one entry back in the window history.
func (b *Browser) Back() error {
	return b.step(-1)
}

// Forward goes one entry forward in the window history.
func (b *Browser) Forward() error {
	return b.step(1)
}

func (b *Browser) step(delta int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return err
	}
	next := w.pos + delta
	if next < 1 || next > len(w.history) {
		return nil
	}
	w.pos = next
	b.loadLocked(w, w.history[next-1])
	return nil
}

// Refresh reloads the current fixture, discarding DOM changes.
func (b *Browser) Refresh() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return err
	}
	b.loadLocked(w, w.url)
	return nil
}

// CurrentURL returns the URL of the current window.
func (b *Browser) CurrentURL() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return "", err
	}
	return w.url, nil
}

// Title returns the <title> of the current window's top document.
func (b *Browser) Title() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(w.doc.Find("title").First().Text()), nil
}

// PageSource serializes the current document.
func (b *Browser) PageSource() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(w.root().Selection.Children())
}

// WindowHandle returns the current window handle.
func (b *Browser) WindowHandle() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return "", err
	}
	return w.handle, nil
}

// WindowHandles returns all open window handles in opening order.
func (b *Browser) WindowHandles() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return nil, core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	handles := make([]string, 0, len(b.windows))
	for _, w := range b.windows {
		handles = append(handles, w.handle)
	}
	return handles, nil
}

// SwitchToWindow makes handle the current window.
func (b *Browser) SwitchToWindow(handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	for _, w := range b.windows {
		if w.handle == handle {
			b.current = w
			return nil
		}
	}
	return core.ErrNoSuchWindow.WithMessage("no window with handle " + handle)
}

// CloseWindow closes the current window. A switch is needed afterwards.
func (b *Browser) CloseWindow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return err
	}
	for i, other := range b.windows {
		if other == w {
			b.windows = append(b.windows[:i], b.windows[i+1:]...)
			break
		}
	}
	w.gen++
	b.current = nil
	return nil
}

// MaximizeWindow records the call.
func (b *Browser) MaximizeWindow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return err
	}
	b.maximized = true
	return nil
}

// Maximized reports whether MaximizeWindow was called.
func (b *Browser) Maximized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maximized
}

// SwitchToFrame enters an <iframe>, loading its srcdoc or its src fixture.
func (b *Browser) SwitchToFrame(frame core.Element) error {
	el, ok := frame.(*Element)
	if !ok {
		return core.ErrNoSuchFrame.WithMessage("frame is not a mock element")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return err
	}
	if err := el.checkLocked(); err != nil {
		return err
	}
	if goquery.NodeName(el.sel) != "iframe" && goquery.NodeName(el.sel) != "frame" {
		return core.ErrNoSuchFrame.WithMessage("element is not a frame")
	}
	html, ok := el.sel.Attr("srcdoc")
	if !ok {
		src, _ := el.sel.Attr("src")
		html = b.pages[src]
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return core.ErrNoSuchFrame.WithCause(err)
	}
	w.frameDoc = doc
	return nil
}

// SwitchToDefaultContent leaves any frame.
func (b *Browser) SwitchToDefaultContent() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.active()
	if err != nil {
		return err
	}
	w.frameDoc = nil
	return nil
}

// OpenAlert opens a dialog as if the page had called window.alert.
func (b *Browser) OpenAlert(kind, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alert = &dialog{kind: kind, text: text}
}

// AlertText returns the open dialog's message.
func (b *Browser) AlertText() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return "", err
	}
	if b.alert == nil {
		return "", core.ErrNoAlert
	}
	return b.alert.text, nil
}

// AcceptAlert closes the dialog with OK.
func (b *Browser) AcceptAlert() error {
	return b.closeAlert("accepted")
}

// DismissAlert closes the dialog with Cancel.
func (b *Browser) DismissAlert() error {
	return b.closeAlert("dismissed")
}

func (b *Browser) closeAlert(outcome string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return err
	}
	if b.alert == nil {
		return core.ErrNoAlert
	}
	entry := outcome + ":" + b.alert.text
	if b.alert.input != "" {
		entry += ":" + b.alert.input
	}
	b.alertLog = append(b.alertLog, entry)
	b.alert = nil
	return nil
}

// SendAlertText types into a prompt dialog.
func (b *Browser) SendAlertText(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return err
	}
	if b.alert == nil {
		return core.ErrNoAlert
	}
	if b.alert.kind != "prompt" {
		return core.ErrUnsupported.WithMessage("dialog does not accept text")
	}
	b.alert.input = text
	return nil
}

// AlertLog returns "accepted:<text>[:<input>]" / "dismissed:<text>" entries.
func (b *Browser) AlertLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.alertLog...)
}

// MoveTo hovers el and applies data-hover-show.
func (b *Browser) MoveTo(el core.Element) error {
	m, ok := el.(*Element)
	if !ok {
		return core.ErrUnsupported.WithMessage("element is not a mock element")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return err
	}
	if err := m.checkLocked(); err != nil {
		return err
	}
	b.hovered = m
	if target, ok := m.sel.Attr("data-hover-show"); ok {
		m.win.root().Find(target).RemoveAttr("hidden")
	}
	return nil
}

// Hovered returns the last hovered element.
func (b *Browser) Hovered() *Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hovered
}

// PressKey records "<key>@<element id or tag>".
func (b *Browser) PressKey(el core.Element, key core.Key) error {
	m, ok := el.(*Element)
	if !ok {
		return core.ErrUnsupported.WithMessage("element is not a mock element")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return err
	}
	if err := m.checkLocked(); err != nil {
		return err
	}
	b.keys = append(b.keys, string(key)+"@"+m.describe())
	return nil
}

// Keys returns recorded key presses.
func (b *Browser) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

// Clicks returns a description of every clicked element.
func (b *Browser) Clicks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.clicks...)
}

// Screenshot returns a PNG signature; enough for artifact plumbing.
func (b *Browser) Screenshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.active(); err != nil {
		return nil, err
	}
	return []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, nil
}

// Quit ends the session. Later calls fail with ErrBrowserUnreachable.
func (b *Browser) Quit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	b.quit = true
	return b.quitErr
}

// Closed reports whether Quit was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quit
}
