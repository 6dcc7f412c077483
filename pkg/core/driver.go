package core

import (
	"fmt"
	"strings"
	"time"
)

// Browser is the automation surface every backend (WebDriver, Playwright,
// CDP, in-memory fake) provides. The page layer only talks to this interface.
//
// Lookups return ErrElementNotFound when nothing matches a single-element
// query. FindElements returns an empty slice instead. Both honour the
// implicit wait the way a WebDriver server does.
type Browser interface {
	// Element lookup
	FindElement(by By) (Element, error)
	FindElements(by By) ([]Element, error)
	ImplicitWait() time.Duration
	SetImplicitWait(d time.Duration) error

	// ExecuteScript runs a synchronous script body. Element arguments are
	// passed as DOM nodes and available as arguments[i].
	ExecuteScript(script string, args ...interface{}) (interface{}, error)

	// Navigation
	Navigate(url string) error
	Back() error
	Forward() error
	Refresh() error
	CurrentURL() (string, error)
	Title() (string, error)
	PageSource() (string, error)

	// Windows and frames
	WindowHandle() (string, error)
	WindowHandles() ([]string, error)
	SwitchToWindow(handle string) error
	CloseWindow() error
	MaximizeWindow() error
	SwitchToFrame(frame Element) error
	SwitchToDefaultContent() error

	// Alerts
	AlertText() (string, error)
	AcceptAlert() error
	DismissAlert() error
	SendAlertText(text string) error

	// Pointer and keyboard
	MoveTo(el Element) error
	PressKey(el Element, key Key) error

	Screenshot() ([]byte, error)
	Quit() error
}

// Element is a handle to one DOM node inside a Browser.
type Element interface {
	Click() error
	Clear() error
	SendKeys(text string) error
	Text() (string, error)
	Attribute(name string) (string, error)
	IsDisplayed() (bool, error)
	IsEnabled() (bool, error)
	IsSelected() (bool, error)
	FindElements(by By) ([]Element, error)
}

// W3C location strategies.
const (
	UsingCSS   = "css selector"
	UsingXPath = "xpath"
)

// By is a resolved W3C lookup: strategy plus value.
type By struct {
	Using string
	Value string
}

// String returns "using=value" for logs.
func (b By) String() string {
	return b.Using + "=" + b.Value
}

// Key is a named non-printable key.
type Key string

// Named keys. Backends translate them to their own key codes.
const (
	KeyEnter      Key = "Enter"
	KeyTab        Key = "Tab"
	KeyEscape     Key = "Escape"
	KeyBackspace  Key = "Backspace"
	KeyDelete     Key = "Delete"
	KeySpace      Key = "Space"
	KeyArrowUp    Key = "ArrowUp"
	KeyArrowDown  Key = "ArrowDown"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowRight Key = "ArrowRight"
	KeyHome       Key = "Home"
	KeyEnd        Key = "End"
	KeyPageUp     Key = "PageUp"
	KeyPageDown   Key = "PageDown"
)

var keysByName = map[string]Key{}

func init() {
	for _, k := range []Key{KeyEnter, KeyTab, KeyEscape, KeyBackspace, KeyDelete, KeySpace,
		KeyArrowUp, KeyArrowDown, KeyArrowLeft, KeyArrowRight, KeyHome, KeyEnd, KeyPageUp, KeyPageDown} {
		keysByName[strings.ToLower(string(k))] = k
	}
	keysByName["return"] = KeyEnter
	keysByName["esc"] = KeyEscape
}

// ParseKey looks up a key by name, case-insensitively.
func ParseKey(name string) (Key, error) {
	if k, ok := keysByName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	return "", ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown key %q", name))
}

// ClickStrategy selects how checkbox and radio toggles are clicked.
type ClickStrategy string

const (
	ClickNative ClickStrategy = "native" // Element.Click
	ClickScript ClickStrategy = "script" // arguments[0].click() through ExecuteScript
)

// ParseClickStrategy validates a configured click strategy. Empty means native.
func ParseClickStrategy(s string) (ClickStrategy, error) {
	switch ClickStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClickNative:
		return ClickNative, nil
	case ClickScript:
		return ClickScript, nil
	}
	return "", ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown click strategy %q (want native or script)", s))
}

// BrowserName identifies the browser product to launch.
type BrowserName string

const (
	Chrome  BrowserName = "chrome"
	Firefox BrowserName = "firefox"
	Edge    BrowserName = "edge"
)

// DefaultBrowser is used when nothing else is configured.
const DefaultBrowser = Chrome

// ParseBrowserName normalizes a browser name. ok is false for unknown
// names, in which case the default browser is returned.
func ParseBrowserName(s string) (name BrowserName, ok bool) {
	switch BrowserName(strings.ToLower(strings.TrimSpace(s))) {
	case Chrome, "chromium", "googlechrome":
		return Chrome, true
	case Firefox, "ff", "gecko":
		return Firefox, true
	case Edge, "msedge", "microsoftedge":
		return Edge, true
	}
	return DefaultBrowser, false
}

// ResolveBrowserName applies the selection order: explicit value (flag),
// then the env value, then the default. Unknown names fall back to the
// default; fellBack reports that case so callers can warn.
func ResolveBrowserName(flagValue, envValue string) (name BrowserName, fellBack bool) {
	raw := flagValue
	if strings.TrimSpace(raw) == "" {
		raw = envValue
	}
	if strings.TrimSpace(raw) == "" {
		return DefaultBrowser, false
	}
	name, ok := ParseBrowserName(raw)
	return name, !ok
}
