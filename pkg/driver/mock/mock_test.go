package mock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

const loginPage = `<html><head><title>Log in</title></head><body>
<form id="login">
  <input id="email" name="email" type="text">
  <input id="pass" name="pass" type="password" value="x">
  <input id="token" type="hidden" value="t">
  <input id="remember" type="checkbox">
  <input id="r1" type="radio" name="plan" checked>
  <input id="r2" type="radio" name="plan">
  <select id="country"><option>Spain</option><option selected>France</option></select>
  <button id="submit" disabled>Log in</button>
  <a id="help" href="/help">Help</a>
  <button id="toggle" data-toggle="#panel">More</button>
  <div id="panel" hidden><span class="item">One</span></div>
  <div style="display: none"><span id="nested">deep</span></div>
  <button id="warn" data-confirm="Sure?">Delete</button>
</form>
</body></html>`

func newLoginBrowser(t *testing.T) *Browser {
	t.Helper()
	b := New(WithPage("/login", loginPage), WithPage("/help", `<html><head><title>Help</title></head><body><h1>Help</h1></body></html>`))
	require.NoError(t, b.Navigate("/login"))
	return b
}

func css(v string) core.By   { return core.By{Using: core.UsingCSS, Value: v} }
func xpath(v string) core.By { return core.By{Using: core.UsingXPath, Value: v} }

func TestBrowser_FindAndState(t *testing.T) {
	b := newLoginBrowser(t)

	title, err := b.Title()
	require.NoError(t, err)
	assert.Equal(t, "Log in", title)

	_, err = b.FindElement(css("#missing"))
	assert.True(t, errors.Is(err, core.ErrElementNotFound))

	for _, tt := range []struct {
		sel       string
		displayed bool
	}{
		{"#email", true},
		{"#token", false},
		{"#panel", false},
		{"#nested", false},
	} {
		el, err := b.FindElement(css(tt.sel))
		require.NoError(t, err, tt.sel)
		shown, err := el.IsDisplayed()
		require.NoError(t, err)
		assert.Equal(t, tt.displayed, shown, tt.sel)
	}

	submit, _ := b.FindElement(css("#submit"))
	enabled, _ := submit.IsEnabled()
	assert.False(t, enabled)
}

func TestBrowser_TypingAndToggles(t *testing.T) {
	b := newLoginBrowser(t)

	email, _ := b.FindElement(css("#email"))
	require.NoError(t, email.SendKeys("a@b.c"))
	require.NoError(t, email.SendKeys("om"))
	v, _ := email.Attribute("value")
	assert.Equal(t, "a@b.com", v)
	require.NoError(t, email.Clear())
	v, _ = email.Attribute("value")
	assert.Equal(t, "", v)

	remember, _ := b.FindElement(css("#remember"))
	require.NoError(t, remember.Click())
	on, _ := remember.IsSelected()
	assert.True(t, on)

	r2, _ := b.FindElement(css("#r2"))
	require.NoError(t, r2.Click())
	r1, _ := b.FindElement(css("#r1"))
	r1on, _ := r1.IsSelected()
	assert.False(t, r1on)

	toggle, _ := b.FindElement(css("#toggle"))
	require.NoError(t, toggle.Click())
	panel, _ := b.FindElement(css("#panel"))
	shown, _ := panel.IsDisplayed()
	assert.True(t, shown)
}

func TestBrowser_HiddenElementNotInteractable(t *testing.T) {
	b := newLoginBrowser(t)
	el, _ := b.FindElement(css("#nested"))
	assert.True(t, errors.Is(el.Click(), core.ErrElementNotVisible))
	text, err := el.Text()
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestBrowser_XPath(t *testing.T) {
	b := newLoginBrowser(t)

	tests := []struct {
		expr string
		want int
	}{
		{"//input[@id='email']", 1},
		{"//input[@type='radio']", 2},
		{"//input[@type='radio'][2]", 1},
		{"//form/button", 3},
		{"//button[text()='More']", 1},
		{"//select[@id='country']//option", 2},
		{"//*[contains(@id,'ema')]", 1},
		{"//a[normalize-space()='Help']", 1},
		{"//input[@id='email' and @type='text']", 1},
		{"(//input[@type='radio'])[2]", 1},
		{"//*[starts-with(@id,'em')]", 1},
		{"//*[@id='email']/..", 1},
		{"//input[@id='email']/following-sibling::input", 5},
		{"//input[position()>1]", 5},
		{"//button/text()", 3},
		{"//input/@id", 0},
	}
	for _, tt := range tests {
		els, err := b.FindElements(xpath(tt.expr))
		require.NoError(t, err, tt.expr)
		assert.Len(t, els, tt.want, tt.expr)
	}

	_, err := b.FindElements(xpath("//input[@id='email'"))
	assert.True(t, errors.Is(err, core.ErrInvalidLocator))

	parent, err := b.FindElement(xpath("//*[@id='email']/.."))
	require.NoError(t, err)
	id, err := parent.Attribute("id")
	require.NoError(t, err)
	assert.Equal(t, "login", id)

	sel, _ := b.FindElement(css("#country"))
	opts, err := sel.FindElements(xpath(".//option"))
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}

func TestBrowser_NavigationMakesElementsStale(t *testing.T) {
	b := newLoginBrowser(t)
	email, _ := b.FindElement(css("#email"))

	help, _ := b.FindElement(css("#help"))
	require.NoError(t, help.Click())
	title, _ := b.Title()
	assert.Equal(t, "Help", title)

	_, err := email.IsDisplayed()
	assert.True(t, errors.Is(err, core.ErrStaleElement))

	require.NoError(t, b.Back())
	url, _ := b.CurrentURL()
	assert.Equal(t, "/login", url)
	require.NoError(t, b.Forward())
	url, _ = b.CurrentURL()
	assert.Equal(t, "/help", url)
}

func TestBrowser_Alerts(t *testing.T) {
	b := newLoginBrowser(t)

	_, err := b.AlertText()
	assert.True(t, errors.Is(err, core.ErrNoAlert))

	warn, _ := b.FindElement(css("#warn"))
	require.NoError(t, warn.Click())
	text, err := b.AlertText()
	require.NoError(t, err)
	assert.Equal(t, "Sure?", text)
	assert.Error(t, b.SendAlertText("no"))
	require.NoError(t, b.DismissAlert())

	b.OpenAlert("prompt", "Name?")
	require.NoError(t, b.SendAlertText("Ann"))
	require.NoError(t, b.AcceptAlert())
	assert.Equal(t, []string{"dismissed:Sure?", "accepted:Name?:Ann"}, b.AlertLog())
}

func TestBrowser_Windows(t *testing.T) {
	b := New(
		WithPage("/", `<html><head><title>Main</title></head><body><a id="open" data-open-window="/popup">x</a></body></html>`),
		WithPage("/popup", `<html><head><title>Popup</title></head><body></body></html>`),
	)
	require.NoError(t, b.Navigate("/"))
	parent, _ := b.WindowHandle()

	open, _ := b.FindElement(css("#open"))
	require.NoError(t, open.Click())
	handles, _ := b.WindowHandles()
	require.Len(t, handles, 2)

	require.NoError(t, b.SwitchToWindow(handles[1]))
	title, _ := b.Title()
	assert.Equal(t, "Popup", title)

	require.NoError(t, b.CloseWindow())
	_, err := b.Title()
	assert.True(t, errors.Is(err, core.ErrNoSuchWindow))
	require.NoError(t, b.SwitchToWindow(parent))
	assert.True(t, errors.Is(b.SwitchToWindow("nope"), core.ErrNoSuchWindow))
}

func TestBrowser_Frames(t *testing.T) {
	b := New(WithPage("/", `<html><body><iframe id="f" srcdoc="<p id='inner'>hi</p>"></iframe></body></html>`))
	require.NoError(t, b.Navigate("/"))

	frame, _ := b.FindElement(css("#f"))
	require.NoError(t, b.SwitchToFrame(frame))
	inner, err := b.FindElement(css("#inner"))
	require.NoError(t, err)
	text, _ := inner.Text()
	assert.Equal(t, "hi", text)

	require.NoError(t, b.SwitchToDefaultContent())
	_, err = b.FindElement(css("#inner"))
	assert.True(t, errors.Is(err, core.ErrElementNotFound))
}

func TestBrowser_Quit(t *testing.T) {
	b := New(WithQuitError(core.ErrBrowserUnreachable))
	assert.True(t, errors.Is(b.Quit(), core.ErrBrowserUnreachable))
	assert.True(t, b.Closed())
	_, err := b.FindElements(css("body"))
	assert.True(t, errors.Is(err, core.ErrBrowserUnreachable))
}
