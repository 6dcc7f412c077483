package page

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

const (
	scriptScrollIntoView       = "arguments[0].scrollIntoView(true);"
	scriptScrollIntoViewBottom = "arguments[0].scrollIntoView(false);"
	scriptClick                = "arguments[0].click();"
	scriptRemoveAttribute      = "arguments[0].removeAttribute(arguments[1]);"
	scriptGetAttribute         = "return arguments[0].getAttribute(arguments[1]);"
	scriptSetAttribute         = "arguments[0].setAttribute(arguments[1], arguments[2]);"
	scriptImageLoaded          = "return arguments[0].complete && arguments[0].naturalWidth > 0;"
	scriptValidationMessage    = "return arguments[0].validationMessage;"
)

const (
	highlightStyle = "border: 3px dashed red"
	highlightPause = time.Second
)

// ScrollIntoView scrolls the first match to the top of the viewport.
func (p *Page) ScrollIntoView(loc string, args ...string) error {
	_, err := p.script(scriptScrollIntoView, loc, args)
	return err
}

// ClickByJS clicks the first match through HTMLElement.click(), which also
// works on elements covered by others.
func (p *Page) ClickByJS(loc string, args ...string) error {
	_, err := p.script(scriptClick, loc, args)
	return err
}

// RemoveAttributeByJS removes an attribute from the first match.
func (p *Page) RemoveAttributeByJS(loc, attribute string, args ...string) error {
	_, err := p.script(scriptRemoveAttribute, loc, args, attribute)
	return err
}

// HighlightByJS outlines the first match for a second, then restores its style.
func (p *Page) HighlightByJS(loc string, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	original, err := p.browser.ExecuteScript(scriptGetAttribute, el, "style")
	if err != nil {
		return err
	}
	if _, err := p.browser.ExecuteScript(scriptSetAttribute, el, "style", highlightStyle); err != nil {
		return err
	}
	p.sleep(highlightPause)

	if style, ok := original.(string); ok && style != "" {
		_, err = p.browser.ExecuteScript(scriptSetAttribute, el, "style", style)
	} else {
		_, err = p.browser.ExecuteScript(scriptRemoveAttribute, el, "style")
	}
	return err
}

// IsImageLoaded reports whether the <img> matched by loc finished loading.
func (p *Page) IsImageLoaded(loc string, args ...string) (bool, error) {
	v, err := p.script(scriptImageLoaded, loc, args)
	if err != nil {
		return false, err
	}
	loaded, _ := v.(bool)
	return loaded, nil
}

// ValidationMessage returns the HTML5 validation message of the first match.
func (p *Page) ValidationMessage(loc string, args ...string) (string, error) {
	v, err := p.script(scriptValidationMessage, loc, args)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	msg, ok := v.(string)
	if !ok {
		return "", core.ErrScriptFailed.WithMessage(fmt.Sprintf("validationMessage returned %T", v))
	}
	return msg, nil
}

// ExecuteScript runs a script against the page.
func (p *Page) ExecuteScript(script string, args ...interface{}) (interface{}, error) {
	return p.browser.ExecuteScript(script, args...)
}

// ExecuteScriptOn runs script with the first match of loc as arguments[0].
func (p *Page) ExecuteScriptOn(loc, script string, args ...string) (interface{}, error) {
	return p.script(script, loc, args)
}

// script runs js with the first match of loc as arguments[0], followed by extra.
func (p *Page) script(js, loc string, args []string, extra ...interface{}) (interface{}, error) {
	el, err := p.element(loc, args)
	if err != nil {
		return nil, err
	}
	return p.browser.ExecuteScript(js, append([]interface{}{el}, extra...)...)
}
