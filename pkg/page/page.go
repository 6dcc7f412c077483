// Package page is the page-object base: every browser action a step needs,
// addressed by locator strings ("id=email", "xpath=//a[text()='%s']").
//
// Methods taking a locator also take optional template args, substituted
// into XPath locators before lookup.
package page

import (
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/locator"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/wait"
)

// Default timeouts.
const (
	DefaultLongTimeout  = 30 * time.Second
	DefaultShortTimeout = 5 * time.Second
)

// windowSwitchPause is the fixed pause after each window switch.
const windowSwitchPause = time.Second

// Page wraps a browser with locator-based actions and explicit waits.
type Page struct {
	browser       core.Browser
	longTimeout   time.Duration
	shortTimeout  time.Duration
	pollInterval  time.Duration
	clickStrategy core.ClickStrategy
	sleep         func(time.Duration)
}

// Option configures a Page.
type Option func(*Page)

// WithLongTimeout sets the explicit wait timeout.
func WithLongTimeout(d time.Duration) Option {
	return func(p *Page) { p.longTimeout = d }
}

// WithShortTimeout sets the implicit wait used by IsUndisplayed.
func WithShortTimeout(d time.Duration) Option {
	return func(p *Page) { p.shortTimeout = d }
}

// WithPollInterval sets how often explicit waits re-check their condition.
func WithPollInterval(d time.Duration) Option {
	return func(p *Page) { p.pollInterval = d }
}

// WithClickStrategy selects how Check and Uncheck click.
func WithClickStrategy(s core.ClickStrategy) Option {
	return func(p *Page) { p.clickStrategy = s }
}

// WithSleep replaces time.Sleep for the fixed pauses (window switching,
// highlight and SleepInSecond).
func WithSleep(fn func(time.Duration)) Option {
	return func(p *Page) { p.sleep = fn }
}

// New creates a Page over b.
func New(b core.Browser, opts ...Option) *Page {
	p := &Page{
		browser:       b,
		longTimeout:   DefaultLongTimeout,
		shortTimeout:  DefaultShortTimeout,
		pollInterval:  wait.DefaultInterval,
		clickStrategy: core.ClickNative,
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Browser returns the underlying browser.
func (p *Page) Browser() core.Browser {
	return p.browser
}

// LongTimeout returns the explicit wait timeout.
func (p *Page) LongTimeout() time.Duration {
	return p.longTimeout
}

// ShortTimeout returns the short implicit wait.
func (p *Page) ShortTimeout() time.Duration {
	return p.shortTimeout
}

func (p *Page) by(loc string, args []string) (core.By, error) {
	l, err := locator.Resolve(loc, args...)
	if err != nil {
		return core.By{}, err
	}
	return l.By(), nil
}

func (p *Page) element(loc string, args []string) (core.Element, error) {
	by, err := p.by(loc, args)
	if err != nil {
		return nil, err
	}
	el, err := p.browser.FindElement(by)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	return el, nil
}

func (p *Page) elements(loc string, args []string) ([]core.Element, error) {
	by, err := p.by(loc, args)
	if err != nil {
		return nil, err
	}
	els, err := p.browser.FindElements(by)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", loc, err)
	}
	return els, nil
}

func (p *Page) waiter(timeout time.Duration) *wait.Waiter {
	w := wait.New(p.browser, timeout)
	w.Interval = p.pollInterval
	return w
}

// SleepInSecond pauses for n seconds.
func (p *Page) SleepInSecond(n int) {
	p.sleep(time.Duration(n) * time.Second)
}

// Navigation

// Open loads url in the current window.
func (p *Page) Open(url string) error {
	logger.Info("open %s", url)
	return p.browser.Navigate(url)
}

// Title returns the document title.
func (p *Page) Title() (string, error) {
	return p.browser.Title()
}

// CurrentURL returns the URL of the current window.
func (p *Page) CurrentURL() (string, error) {
	return p.browser.CurrentURL()
}

// PageSource returns the serialized DOM.
func (p *Page) PageSource() (string, error) {
	return p.browser.PageSource()
}

// Back navigates back in history.
func (p *Page) Back() error {
	return p.browser.Back()
}

// Forward navigates forward in history.
func (p *Page) Forward() error {
	return p.browser.Forward()
}

// Refresh reloads the page.
func (p *Page) Refresh() error {
	return p.browser.Refresh()
}

// Alerts

// WaitAlert waits up to the long timeout for a dialog and returns its text.
func (p *Page) WaitAlert() (string, error) {
	v, err := p.waiter(p.longTimeout).Until(wait.AlertPresent())
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}

// AcceptAlert waits for a dialog and accepts it.
func (p *Page) AcceptAlert() error {
	if _, err := p.WaitAlert(); err != nil {
		return err
	}
	return p.browser.AcceptAlert()
}

// DismissAlert waits for a dialog and dismisses it.
func (p *Page) DismissAlert() error {
	if _, err := p.WaitAlert(); err != nil {
		return err
	}
	return p.browser.DismissAlert()
}

// SendKeysToAlert waits for a prompt and types text into it.
func (p *Page) SendKeysToAlert(text string) error {
	if _, err := p.WaitAlert(); err != nil {
		return err
	}
	return p.browser.SendAlertText(text)
}

// AlertText reads the open dialog without waiting.
func (p *Page) AlertText() (string, error) {
	return p.browser.AlertText()
}

// Windows

// WindowHandle returns the current window handle.
func (p *Page) WindowHandle() (string, error) {
	return p.browser.WindowHandle()
}

// SwitchWindowByID switches to every window other than parentID, pausing
// after each switch. With two windows open this lands on the other one.
func (p *Page) SwitchWindowByID(parentID string) error {
	handles, err := p.browser.WindowHandles()
	if err != nil {
		return err
	}
	for _, h := range handles {
		if h == parentID {
			continue
		}
		if err := p.browser.SwitchToWindow(h); err != nil {
			return err
		}
		p.sleep(windowSwitchPause)
	}
	return nil
}

// SwitchWindowByTitle switches through the windows until one's trimmed
// title equals title. Returns ErrNoSuchWindow, left on the last window,
// when none matches.
func (p *Page) SwitchWindowByTitle(title string) error {
	handles, err := p.browser.WindowHandles()
	if err != nil {
		return err
	}
	for _, h := range handles {
		if err := p.browser.SwitchToWindow(h); err != nil {
			return err
		}
		p.sleep(windowSwitchPause)
		actual, err := p.browser.Title()
		if err != nil {
			return err
		}
		if strings.TrimSpace(actual) == title {
			return nil
		}
	}
	return core.ErrNoSuchWindow.WithMessage(fmt.Sprintf("no window titled %q", title))
}

// CloseAllWindowsExcept closes every window but parentID and switches back to it.
func (p *Page) CloseAllWindowsExcept(parentID string) error {
	handles, err := p.browser.WindowHandles()
	if err != nil {
		return err
	}
	for _, h := range handles {
		if err := p.browser.SwitchToWindow(h); err != nil {
			return err
		}
		p.sleep(windowSwitchPause)
		if h != parentID {
			if err := p.browser.CloseWindow(); err != nil {
				return err
			}
		}
	}
	return p.browser.SwitchToWindow(parentID)
}
