package wait

import (
	"errors"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// ElementClickable waits for the first match to be displayed and enabled.
// The value is the element.
func ElementClickable(by core.By) Condition {
	return Condition{
		Name: "element to be clickable: " + by.String(),
		Check: func(b core.Browser) (interface{}, bool, error) {
			el, err := b.FindElement(by)
			if err != nil {
				return nil, false, err
			}
			displayed, err := el.IsDisplayed()
			if err != nil || !displayed {
				return nil, false, err
			}
			enabled, err := el.IsEnabled()
			if err != nil || !enabled {
				return nil, false, err
			}
			return el, true, nil
		},
	}
}

// ElementVisible waits for the first match to be displayed. The value is the element.
func ElementVisible(by core.By) Condition {
	return Condition{
		Name: "visibility of element: " + by.String(),
		Check: func(b core.Browser) (interface{}, bool, error) {
			el, err := b.FindElement(by)
			if err != nil {
				return nil, false, err
			}
			displayed, err := el.IsDisplayed()
			if err != nil || !displayed {
				return nil, false, err
			}
			return el, true, nil
		},
	}
}

// AllElementsVisible waits for at least one match with every match displayed.
// The value is the []core.Element.
func AllElementsVisible(by core.By) Condition {
	return Condition{
		Name: "visibility of all elements: " + by.String(),
		Check: func(b core.Browser) (interface{}, bool, error) {
			els, err := b.FindElements(by)
			if err != nil || len(els) == 0 {
				return nil, false, err
			}
			for _, el := range els {
				displayed, err := el.IsDisplayed()
				if err != nil || !displayed {
					return nil, false, err
				}
			}
			return els, true, nil
		},
	}
}

// AllElementsPresent waits for at least one match. The value is the []core.Element.
func AllElementsPresent(by core.By) Condition {
	return Condition{
		Name: "presence of all elements: " + by.String(),
		Check: func(b core.Browser) (interface{}, bool, error) {
			els, err := b.FindElements(by)
			if err != nil || len(els) == 0 {
				return nil, false, err
			}
			return els, true, nil
		},
	}
}

// ElementInvisible waits until nothing matches or the first match is hidden.
// A match that goes stale counts as invisible.
func ElementInvisible(by core.By) Condition {
	return Condition{
		Name: "invisibility of element: " + by.String(),
		Check: func(b core.Browser) (interface{}, bool, error) {
			els, err := b.FindElements(by)
			if err != nil {
				return nil, false, err
			}
			if len(els) == 0 {
				return true, true, nil
			}
			displayed, err := els[0].IsDisplayed()
			if errors.Is(err, core.ErrStaleElement) {
				return true, true, nil
			}
			if err != nil {
				return nil, false, err
			}
			return true, !displayed, nil
		},
	}
}

// AllElementsInvisible waits until every element in els is hidden or stale.
// The set is captured by the caller once; it is not re-queried.
func AllElementsInvisible(els []core.Element) Condition {
	return Condition{
		Name: "invisibility of all elements",
		Check: func(core.Browser) (interface{}, bool, error) {
			for _, el := range els {
				displayed, err := el.IsDisplayed()
				if errors.Is(err, core.ErrStaleElement) {
					continue
				}
				if err != nil {
					return nil, false, err
				}
				if displayed {
					return nil, false, nil
				}
			}
			return true, true, nil
		},
	}
}

// AlertPresent waits for a JavaScript dialog. The value is its text.
func AlertPresent() Condition {
	return Condition{
		Name: "alert to be present",
		Check: func(b core.Browser) (interface{}, bool, error) {
			text, err := b.AlertText()
			if errors.Is(err, core.ErrNoAlert) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return text, true, nil
		},
	}
}

// Func wraps a custom predicate.
func Func(name string, pred func(b core.Browser) (bool, error)) Condition {
	return Condition{
		Name: name,
		Check: func(b core.Browser) (interface{}, bool, error) {
			ok, err := pred(b)
			return ok, ok, err
		},
	}
}

// JQueryAjaxLoaded holds once jQuery is loaded and has no active AJAX
// request. It never holds on pages without jQuery.
func JQueryAjaxLoaded() Condition {
	return Func("jQuery AJAX to finish", func(b core.Browser) (bool, error) {
		v, err := b.ExecuteScript("return (window.jQuery != null) && (jQuery.active === 0);")
		if err != nil {
			return false, err
		}
		done, _ := v.(bool)
		return done, nil
	})
}
