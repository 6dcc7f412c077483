package locator

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML parses a scalar "strategy=selector" node. Template args are
// not known at decode time, so the selector is kept verbatim.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: locator must be a string like id=email", node.Line)
	}
	parsed, err := Parse(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*l = parsed
	return nil
}

// MarshalYAML writes the locator back in its string form.
func (l Locator) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}
