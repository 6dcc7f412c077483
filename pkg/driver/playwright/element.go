package playwright

import (
	"fmt"
	"strconv"

	pw "github.com/playwright-community/playwright-go"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// Element wraps a Playwright element handle.
type Element struct {
	b      *Browser
	handle pw.ElementHandle
}

var _ core.Element = (*Element)(nil)

// Click clicks the element without waiting for navigation, so clicks that
// open a dialog return.
func (e *Element) Click() error {
	return mapError(e.handle.Click(pw.ElementHandleClickOptions{NoWaitAfter: pw.Bool(true)}))
}

// Clear empties an input.
func (e *Element) Clear() error {
	return mapError(e.handle.Fill(""))
}

// SendKeys types text at the end of the current value.
func (e *Element) SendKeys(text string) error {
	return mapError(e.handle.Type(text))
}

// Text returns the rendered text.
func (e *Element) Text() (string, error) {
	text, err := e.handle.InnerText()
	return text, mapError(err)
}

// Attribute returns the property or attribute value, "" when absent.
func (e *Element) Attribute(name string) (string, error) {
	v, err := e.handle.Evaluate(attributeScript, name)
	if err != nil {
		return "", mapError(err)
	}
	return stringify(v), nil
}

// attributeScript mirrors WebDriver's getAttribute: properties first
// (value, checked...), then the attribute.
const attributeScript = `(el, name) => {
  const booleans = ["checked", "selected", "disabled", "hidden", "multiple", "readonly", "required"];
  if (booleans.includes(name.toLowerCase())) {
    return (el[name] || el.hasAttribute(name)) ? "true" : null;
  }
  if (name in el && typeof el[name] !== "object" && typeof el[name] !== "function") {
    return el[name];
  }
  return el.getAttribute(name);
}`

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
	}
	return fmt.Sprint(v)
}

// IsDisplayed reports visibility.
func (e *Element) IsDisplayed() (bool, error) {
	v, err := e.handle.IsVisible()
	return v, mapError(err)
}

// IsEnabled reports whether the element is enabled.
func (e *Element) IsEnabled() (bool, error) {
	v, err := e.handle.IsEnabled()
	return v, mapError(err)
}

// IsSelected reports checked state for inputs and selected state for options.
func (e *Element) IsSelected() (bool, error) {
	v, err := e.handle.Evaluate(`el => !!(el.checked || el.selected)`)
	if err != nil {
		return false, mapError(err)
	}
	selected, _ := v.(bool)
	return selected, nil
}

// FindElements searches under this element.
func (e *Element) FindElements(by core.By) ([]core.Element, error) {
	handles, err := e.handle.QuerySelectorAll(selector(by))
	if err != nil {
		return nil, mapError(err)
	}
	return e.b.wrap(handles), nil
}
