package mock

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

var booleanAttrs = map[string]bool{
	"checked":  true,
	"selected": true,
	"disabled": true,
	"hidden":   true,
	"multiple": true,
	"readonly": true,
	"required": true,
}

// Element is a node of a mock page.
type Element struct {
	b   *Browser
	win *window
	gen int
	sel *goquery.Selection
}

var _ core.Element = (*Element)(nil)

func (e *Element) checkLocked() error {
	if e.b.quit {
		return core.ErrBrowserUnreachable.WithMessage("session has been quit")
	}
	if e.gen != e.win.gen {
		return core.ErrStaleElement.WithMessage("stale element " + e.describe())
	}
	return nil
}

func (e *Element) describe() string {
	if id, ok := e.sel.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if name, ok := e.sel.Attr("name"); ok && name != "" {
		return goquery.NodeName(e.sel) + "[name=" + name + "]"
	}
	return goquery.NodeName(e.sel)
}

// Click clicks a displayed element.
func (e *Element) Click() error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if !displayed(e.sel) {
		return core.ErrElementNotVisible.WithMessage("element not interactable: " + e.describe())
	}
	e.clickLocked()
	return nil
}

// activate clicks without the visibility check, like HTMLElement.click().
func (e *Element) activate() error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	e.clickLocked()
	return nil
}

func (e *Element) clickLocked() {
	b := e.b
	b.clicks = append(b.clicks, e.describe())
	if _, disabled := e.sel.Attr("disabled"); disabled {
		return
	}
	root := e.win.root()

	switch goquery.NodeName(e.sel) {
	case "input":
		switch strings.ToLower(e.sel.AttrOr("type", "")) {
		case "checkbox":
			if _, on := e.sel.Attr("checked"); on {
				e.sel.RemoveAttr("checked")
			} else {
				e.sel.SetAttr("checked", "")
			}
		case "radio":
			if name := e.sel.AttrOr("name", ""); name != "" {
				root.Find(`input[type="radio"][name="` + cssQuote(name) + `"]`).RemoveAttr("checked")
			}
			e.sel.SetAttr("checked", "")
		}
	case "option":
		sel := e.sel.ParentsFiltered("select").First()
		if _, multi := sel.Attr("multiple"); multi {
			if _, on := e.sel.Attr("selected"); on {
				e.sel.RemoveAttr("selected")
				break
			}
		} else {
			sel.Find("option").RemoveAttr("selected")
		}
		e.sel.SetAttr("selected", "")
	case "a":
		if href, ok := e.sel.Attr("href"); ok {
			if _, known := b.pages[href]; known {
				e.win.history = append(e.win.history[:e.win.pos], href)
				e.win.pos = len(e.win.history)
				b.loadLocked(e.win, href)
				return
			}
		}
	}

	if target, ok := e.sel.Attr("data-toggle"); ok {
		root.Find(target).Each(func(_ int, s *goquery.Selection) {
			if _, hidden := s.Attr("hidden"); hidden {
				s.RemoveAttr("hidden")
			} else {
				s.SetAttr("hidden", "")
			}
		})
	}
	if target, ok := e.sel.Attr("data-show"); ok {
		root.Find(target).RemoveAttr("hidden")
	}
	if target, ok := e.sel.Attr("data-hide"); ok {
		root.Find(target).SetAttr("hidden", "")
	}
	for _, kind := range []string{"alert", "confirm", "prompt"} {
		if text, ok := e.sel.Attr("data-" + kind); ok {
			b.alert = &dialog{kind: kind, text: text}
		}
	}
	if url, ok := e.sel.Attr("data-open-window"); ok {
		w := b.newWindowLocked()
		w.history = []string{url}
		w.pos = 1
		b.loadLocked(w, url)
	}
}

// Clear empties an input's value.
func (e *Element) Clear() error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	e.sel.SetAttr("value", "")
	return nil
}

// SendKeys appends text to the input's value.
func (e *Element) SendKeys(text string) error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	if !displayed(e.sel) {
		return core.ErrElementNotVisible.WithMessage("element not interactable: " + e.describe())
	}
	e.sel.SetAttr("value", e.valueLocked()+text)
	return nil
}

func (e *Element) valueLocked() string {
	if v, ok := e.sel.Attr("value"); ok {
		return v
	}
	if goquery.NodeName(e.sel) == "textarea" {
		return e.sel.Text()
	}
	return ""
}

// Text returns the rendered text: empty for hidden elements, whitespace collapsed.
func (e *Element) Text() (string, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return "", err
	}
	if !displayed(e.sel) {
		return "", nil
	}
	return normalizeSpace(e.sel.Text()), nil
}

// Attribute returns the attribute or property value; boolean attributes
// read "true" when present. Missing attributes read "".
func (e *Element) Attribute(name string) (string, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return "", err
	}
	name = strings.ToLower(name)
	if booleanAttrs[name] {
		if _, ok := e.sel.Attr(name); ok {
			return "true", nil
		}
		return "", nil
	}
	if name == "value" {
		return e.valueLocked(), nil
	}
	return e.sel.AttrOr(name, ""), nil
}

func (e *Element) attr(name string) string {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	return e.sel.AttrOr(name, "")
}

func (e *Element) lookupAttr(name string) (string, bool) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	return e.sel.Attr(name)
}

func (e *Element) setAttr(name, value string) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	e.sel.SetAttr(name, value)
}

func (e *Element) removeAttr(name string) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	e.sel.RemoveAttr(name)
}

// IsDisplayed reports whether the element and its ancestors are rendered.
func (e *Element) IsDisplayed() (bool, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return false, err
	}
	return displayed(e.sel), nil
}

// IsEnabled reports whether the element lacks the disabled attribute.
func (e *Element) IsEnabled() (bool, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return false, err
	}
	_, disabled := e.sel.Attr("disabled")
	return !disabled, nil
}

// IsSelected reports checked or selected state.
func (e *Element) IsSelected() (bool, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return false, err
	}
	_, checked := e.sel.Attr("checked")
	_, selected := e.sel.Attr("selected")
	return checked || selected, nil
}

// FindElements searches under this element.
func (e *Element) FindElements(by core.By) ([]core.Element, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return nil, err
	}
	sel, err := query(e.sel, by)
	if err != nil {
		return nil, err
	}
	return e.b.wrap(e.win, sel), nil
}

// displayed walks the node and its ancestors looking for anything that
// removes it from rendering.
func displayed(sel *goquery.Selection) bool {
	if hiddenNode(sel) {
		return false
	}
	visible := true
	sel.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if hiddenNode(p) {
			visible = false
		}
		return visible
	})
	return visible
}

func hiddenNode(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "head", "script", "style", "title", "template", "noscript":
		return true
	case "input":
		if strings.EqualFold(s.AttrOr("type", ""), "hidden") {
			return true
		}
	}
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}
