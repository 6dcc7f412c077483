package page

import (
	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/wait"
)

// WaitForClickable waits up to the long timeout for the first match to be
// displayed and enabled.
func (p *Page) WaitForClickable(loc string, args ...string) (core.Element, error) {
	by, err := p.by(loc, args)
	if err != nil {
		return nil, err
	}
	v, err := p.waiter(p.longTimeout).Until(wait.ElementClickable(by))
	if err != nil {
		return nil, err
	}
	return v.(core.Element), nil
}

// WaitForVisible waits up to the long timeout for the first match to be displayed.
func (p *Page) WaitForVisible(loc string, args ...string) (core.Element, error) {
	by, err := p.by(loc, args)
	if err != nil {
		return nil, err
	}
	v, err := p.waiter(p.longTimeout).Until(wait.ElementVisible(by))
	if err != nil {
		return nil, err
	}
	return v.(core.Element), nil
}

// WaitForAllVisible waits for at least one match, all displayed.
func (p *Page) WaitForAllVisible(loc string, args ...string) ([]core.Element, error) {
	by, err := p.by(loc, args)
	if err != nil {
		return nil, err
	}
	v, err := p.waiter(p.longTimeout).Until(wait.AllElementsVisible(by))
	if err != nil {
		return nil, err
	}
	return v.([]core.Element), nil
}

// WaitForInvisible waits until nothing matches or the first match is hidden.
// Each poll's lookup is still subject to the browser's implicit wait.
func (p *Page) WaitForInvisible(loc string, args ...string) error {
	by, err := p.by(loc, args)
	if err != nil {
		return err
	}
	_, err = p.waiter(p.longTimeout).Until(wait.ElementInvisible(by))
	return err
}

// WaitForAllInvisible captures the current matches once and waits until
// every one of them is hidden or removed.
func (p *Page) WaitForAllInvisible(loc string, args ...string) error {
	els, err := p.elements(loc, args)
	if err != nil {
		return err
	}
	_, err = p.waiter(p.longTimeout).Until(wait.AllElementsInvisible(els))
	return err
}

// WaitUntil polls a custom condition with the long timeout.
func (p *Page) WaitUntil(cond wait.Condition) (interface{}, error) {
	return p.waiter(p.longTimeout).Until(cond)
}

// IsJQueryAjaxLoaded waits for jQuery to be present with no active request.
// A timeout is returned as *wait.TimeoutError.
func (p *Page) IsJQueryAjaxLoaded() (bool, error) {
	_, err := p.waiter(p.longTimeout).Until(wait.JQueryAjaxLoaded())
	return err == nil, err
}
