package cdp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chromedp/chromedp"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// Element is an index into the page-side element registry of one tab.
type Element struct {
	b   *Browser
	tab *tab
	id  int
}

var _ core.Element = (*Element)(nil)

// Click clicks the element from a timer, so a click that opens a dialog
// does not block the protocol connection.
func (e *Element) Click() error {
	if err := e.b.eval(e.tab, nil, clickScript, e.id); err != nil {
		return err
	}
	e.settle()
	return nil
}

// settle waits one macrotask so the scheduled click has run. A dialog
// opened by the click stalls the page; that is left for the alert calls.
func (e *Element) settle() {
	expr, err := call(settleScript)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.tab.ctx, settleTimeout)
	defer cancel()
	_ = chromedp.Run(ctx, evaluate(expr, nil, true))
}

// Clear empties an input and fires input and change events.
func (e *Element) Clear() error {
	return e.b.eval(e.tab, nil, clearScript, e.id)
}

// SendKeys types text at the end of the current value.
func (e *Element) SendKeys(text string) error {
	if err := e.b.eval(e.tab, nil, focusScript, e.id); err != nil {
		return err
	}
	return e.b.run(e.tab, chromedp.KeyEvent(text))
}

// Text returns the rendered text.
func (e *Element) Text() (string, error) {
	var text string
	err := e.b.eval(e.tab, &text, textScript, e.id)
	return text, err
}

// Attribute returns the property or attribute value, "" when absent.
func (e *Element) Attribute(name string) (string, error) {
	var v interface{}
	if err := e.b.eval(e.tab, &v, attributeScript, e.id, name); err != nil {
		return "", err
	}
	return stringify(v), nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
	}
	return fmt.Sprint(v)
}

// IsDisplayed reports whether the element has a box and is not hidden by
// style.
func (e *Element) IsDisplayed() (bool, error) {
	return e.flag(displayedScript)
}

// IsEnabled reports whether the element is enabled.
func (e *Element) IsEnabled() (bool, error) {
	return e.flag(enabledScript)
}

// IsSelected reports checked state for inputs and selected state for options.
func (e *Element) IsSelected() (bool, error) {
	return e.flag(selectedScript)
}

func (e *Element) flag(fn string) (bool, error) {
	var v bool
	err := e.b.eval(e.tab, &v, fn, e.id)
	return v, err
}

// FindElements searches under this element. No implicit wait applies.
func (e *Element) FindElements(by core.By) ([]core.Element, error) {
	return e.b.find(e.tab, by, e.id, -1)
}
