package page

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
	"github.com/devicelab-dev/browser-runner/pkg/wait"
)

var optionBy = core.By{Using: core.UsingCSS, Value: "option"}

// SelectByText selects the <option> whose trimmed text equals text in the
// <select> matched by loc.
func (p *Page) SelectByText(loc, text string, args ...string) error {
	sel, err := p.element(loc, args)
	if err != nil {
		return err
	}
	options, err := sel.FindElements(optionBy)
	if err != nil {
		return err
	}
	for _, opt := range options {
		t, err := opt.Text()
		if err != nil {
			return err
		}
		if strings.TrimSpace(t) != text {
			continue
		}
		selected, err := opt.IsSelected()
		if err != nil || selected {
			return err
		}
		return opt.Click()
	}
	return core.ErrOptionNotFound.WithMessage(fmt.Sprintf("%s has no option %q", loc, text))
}

// SelectedText returns the trimmed text of the first selected option.
// Empty when nothing is selected.
func (p *Page) SelectedText(loc string, args ...string) (string, error) {
	sel, err := p.element(loc, args)
	if err != nil {
		return "", err
	}
	options, err := sel.FindElements(optionBy)
	if err != nil {
		return "", err
	}
	for _, opt := range options {
		selected, err := opt.IsSelected()
		if err != nil {
			return "", err
		}
		if selected {
			t, err := opt.Text()
			return strings.TrimSpace(t), err
		}
	}
	return "", nil
}

// IsMultiple reports whether the <select> allows multiple selection.
func (p *Page) IsMultiple(loc string, args ...string) (bool, error) {
	v, err := p.Attribute(loc, "multiple", args...)
	if err != nil {
		return false, err
	}
	return v != "" && v != "false", nil
}

// SelectInCustomDropdown opens a non-<select> dropdown by clicking parent,
// waits for its child items and clicks the one whose trimmed text equals
// expected, scrolling it into view first when needed. Nothing is clicked
// when no item matches.
func (p *Page) SelectInCustomDropdown(parent, child, expected string) error {
	parentBy, err := p.by(parent, nil)
	if err != nil {
		return err
	}
	childBy, err := p.by(child, nil)
	if err != nil {
		return err
	}

	w := p.waiter(p.longTimeout)
	v, err := w.Until(wait.ElementClickable(parentBy))
	if err != nil {
		return err
	}
	if err := v.(core.Element).Click(); err != nil {
		return err
	}

	v, err = w.Until(wait.AllElementsPresent(childBy))
	if err != nil {
		return err
	}
	for _, item := range v.([]core.Element) {
		t, err := item.Text()
		if err != nil {
			return err
		}
		if strings.TrimSpace(t) != expected {
			continue
		}
		displayed, err := item.IsDisplayed()
		if err != nil {
			return err
		}
		if !displayed {
			if _, err := p.browser.ExecuteScript(scriptScrollIntoViewBottom, item); err != nil {
				return err
			}
		}
		return item.Click()
	}
	logger.Debug("no item %q under %s", expected, child)
	return nil
}
