package page

import (
	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

// Click clicks the first match.
func (p *Page) Click(loc string, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	logger.Debug("click %s", loc)
	return el.Click()
}

// Type clears the first match and types text into it.
func (p *Page) Type(loc, text string, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return err
	}
	return el.SendKeys(text)
}

// TypeWithoutClear appends text to the first match.
func (p *Page) TypeWithoutClear(loc, text string, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	return el.SendKeys(text)
}

// Text returns the visible text of the first match.
func (p *Page) Text(loc string, args ...string) (string, error) {
	el, err := p.element(loc, args)
	if err != nil {
		return "", err
	}
	return el.Text()
}

// AllTexts returns the visible text of every match in document order.
func (p *Page) AllTexts(loc string, args ...string) ([]string, error) {
	els, err := p.elements(loc, args)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(els))
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			return nil, err
		}
		texts = append(texts, t)
	}
	return texts, nil
}

// Attribute returns an attribute of the first match.
func (p *Page) Attribute(loc, name string, args ...string) (string, error) {
	el, err := p.element(loc, args)
	if err != nil {
		return "", err
	}
	return el.Attribute(name)
}

// Count returns the number of matches.
func (p *Page) Count(loc string, args ...string) (int, error) {
	els, err := p.elements(loc, args)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// IsDisplayed reports whether the first match is displayed.
// Fails with ErrElementNotFound when nothing matches.
func (p *Page) IsDisplayed(loc string, args ...string) (bool, error) {
	el, err := p.element(loc, args)
	if err != nil {
		return false, err
	}
	return el.IsDisplayed()
}

// IsEnabled reports whether the first match is enabled.
func (p *Page) IsEnabled(loc string, args ...string) (bool, error) {
	el, err := p.element(loc, args)
	if err != nil {
		return false, err
	}
	return el.IsEnabled()
}

// IsSelected reports whether the first match is checked or selected.
func (p *Page) IsSelected(loc string, args ...string) (bool, error) {
	el, err := p.element(loc, args)
	if err != nil {
		return false, err
	}
	return el.IsSelected()
}

// IsUndisplayed reports whether the locator matches nothing or its first
// match is hidden. The lookup runs with the short implicit wait so an
// absent element does not cost the full long timeout.
func (p *Page) IsUndisplayed(loc string, args ...string) (bool, error) {
	by, err := p.by(loc, args)
	if err != nil {
		return false, err
	}

	prev := p.browser.ImplicitWait()
	if err := p.browser.SetImplicitWait(p.shortTimeout); err != nil {
		return false, err
	}
	els, findErr := p.browser.FindElements(by)
	if err := p.browser.SetImplicitWait(prev); err != nil && findErr == nil {
		findErr = err
	}
	if findErr != nil {
		return false, findErr
	}

	if len(els) == 0 {
		logger.Info("%s is invisible and not in DOM", loc)
		return true, nil
	}
	displayed, err := els[0].IsDisplayed()
	if err != nil {
		return false, err
	}
	if !displayed {
		logger.Info("%s is invisible and in DOM", loc)
		return true, nil
	}
	logger.Info("%s is visible", loc)
	return false, nil
}

// Check selects a checkbox or radio unless already selected.
func (p *Page) Check(loc string, args ...string) error {
	return p.setSelected(loc, args, true)
}

// Uncheck clears a checkbox unless already clear.
func (p *Page) Uncheck(loc string, args ...string) error {
	return p.setSelected(loc, args, false)
}

func (p *Page) setSelected(loc string, args []string, want bool) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	selected, err := el.IsSelected()
	if err != nil {
		return err
	}
	if selected == want {
		return nil
	}
	return p.toggle(el)
}

func (p *Page) toggle(el core.Element) error {
	if p.clickStrategy == core.ClickScript {
		_, err := p.browser.ExecuteScript(scriptClick, el)
		return err
	}
	return el.Click()
}

// SwitchToFrame enters the frame matched by loc.
func (p *Page) SwitchToFrame(loc string, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	return p.browser.SwitchToFrame(el)
}

// SwitchToDefaultContent leaves all frames.
func (p *Page) SwitchToDefaultContent() error {
	return p.browser.SwitchToDefaultContent()
}

// Hover moves the mouse over the first match.
func (p *Page) Hover(loc string, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	return p.browser.MoveTo(el)
}

// PressKey sends a named key to the first match.
func (p *Page) PressKey(loc string, key core.Key, args ...string) error {
	el, err := p.element(loc, args)
	if err != nil {
		return err
	}
	return p.browser.PressKey(el, key)
}
