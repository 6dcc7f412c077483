// Package locator parses the "strategy=selector" locator convention into
// typed lookups.
//
// Recognized prefixes (case-insensitive): xpath=, css=, id=, name=, class=.
// XPath selectors may be templates with %s placeholders filled from
// positional arguments:
//
//	loc, err := locator.Resolve("xpath=//input[@id='%s']", "email")
package locator

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

// Strategy is the lookup mechanism of a locator.
type Strategy int

const (
	StrategyXPath Strategy = iota
	StrategyCSS
	StrategyID
	StrategyName
	StrategyClass
)

var strategyPrefixes = map[string]Strategy{
	"xpath": StrategyXPath,
	"css":   StrategyCSS,
	"id":    StrategyID,
	"name":  StrategyName,
	"class": StrategyClass,
}

// String returns the lowercase prefix of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyXPath:
		return "xpath"
	case StrategyCSS:
		return "css"
	case StrategyID:
		return "id"
	case StrategyName:
		return "name"
	case StrategyClass:
		return "class"
	default:
		return "unknown"
	}
}

// Locator is a parsed locator: one strategy and its selector.
type Locator struct {
	Strategy Strategy
	Selector string
}

// XPath returns an XPath locator.
func XPath(sel string) Locator { return Locator{Strategy: StrategyXPath, Selector: sel} }

// CSS returns a CSS selector locator.
func CSS(sel string) Locator { return Locator{Strategy: StrategyCSS, Selector: sel} }

// ID returns a locator matching the id attribute.
func ID(id string) Locator { return Locator{Strategy: StrategyID, Selector: id} }

// Name returns a locator matching the name attribute.
func Name(name string) Locator { return Locator{Strategy: StrategyName, Selector: name} }

// Class returns a locator matching a single class name.
func Class(class string) Locator { return Locator{Strategy: StrategyClass, Selector: class} }

// String renders the locator in its "strategy=selector" form.
func (l Locator) String() string {
	return l.Strategy.String() + "=" + l.Selector
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Selector == ""
}

// By maps the locator to a W3C lookup. id, name and class are expressed as
// CSS selectors since W3C dropped those strategies.
func (l Locator) By() core.By {
	switch l.Strategy {
	case StrategyXPath:
		return core.By{Using: core.UsingXPath, Value: l.Selector}
	case StrategyID:
		return core.By{Using: core.UsingCSS, Value: `*[id="` + cssString(l.Selector) + `"]`}
	case StrategyName:
		return core.By{Using: core.UsingCSS, Value: `*[name="` + cssString(l.Selector) + `"]`}
	case StrategyClass:
		return core.By{Using: core.UsingCSS, Value: "." + cssIdent(l.Selector)}
	default:
		return core.By{Using: core.UsingCSS, Value: l.Selector}
	}
}

// Parse parses a raw locator string without template substitution.
func Parse(raw string) (Locator, error) {
	return Resolve(raw)
}

// MustParse is Parse that panics on error. Meant for package-level locators.
func MustParse(raw string) Locator {
	l, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return l
}

// Resolve parses raw and, for XPath locators, substitutes args into the
// selector template. Args given to non-XPath locators are ignored.
// Without args the selector is used verbatim even if it contains %s.
func Resolve(raw string, args ...string) (Locator, error) {
	prefix, sel, ok := strings.Cut(raw, "=")
	if !ok {
		return Locator{}, invalid(raw, "missing strategy prefix (want xpath=, css=, id=, name= or class=)")
	}

	strategy, known := strategyPrefixes[strings.ToLower(strings.TrimSpace(prefix))]
	if !known {
		return Locator{}, invalid(raw, fmt.Sprintf("unknown locator strategy %q", prefix))
	}
	if strings.TrimSpace(sel) == "" {
		return Locator{}, invalid(raw, "empty selector")
	}

	if len(args) > 0 {
		if strategy != StrategyXPath {
			logger.Debug("locator %s: ignoring %d template args for non-xpath strategy", raw, len(args))
		} else {
			filled, err := fillTemplate(sel, args)
			if err != nil {
				return Locator{}, core.ErrInvalidLocator.WithCause(err).WithDetails(map[string]interface{}{
					"locator": raw,
					"args":    len(args),
				})
			}
			sel = filled
		}
	}

	return Locator{Strategy: strategy, Selector: sel}, nil
}

func invalid(raw, msg string) error {
	return core.ErrInvalidLocator.WithMessage(fmt.Sprintf("invalid locator %q: %s", raw, msg)).
		WithDetails(map[string]interface{}{"locator": raw})
}

// fillTemplate replaces each %s with the next arg and %% with a literal
// percent. The number of placeholders must equal len(args).
func fillTemplate(tmpl string, args []string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))
	used := 0

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(tmpl) {
			return "", fmt.Errorf("dangling %% at end of template")
		}
		i++
		switch tmpl[i] {
		case '%':
			b.WriteByte('%')
		case 's':
			if used >= len(args) {
				return "", fmt.Errorf("template has more placeholders than the %d args given", len(args))
			}
			b.WriteString(args[used])
			used++
		default:
			return "", fmt.Errorf("unsupported verb %%%c (only %%s is allowed)", tmpl[i])
		}
	}

	if used != len(args) {
		return "", fmt.Errorf("template has %d placeholders but %d args were given", used, len(args))
	}
	return b.String(), nil
}

// cssString escapes a value for use inside a double-quoted CSS string.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return r.Replace(s)
}

// cssIdent escapes a class name for use as a CSS identifier.
func cssIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r >= 0x80:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, `\%x `, r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
