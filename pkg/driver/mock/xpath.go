package mock

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// query runs a lookup under scope. Absolute XPath expressions ("//x")
// evaluated from an element still start at the document root.
func query(scope *goquery.Selection, by core.By) (*goquery.Selection, error) {
	switch by.Using {
	case core.UsingCSS:
		m, err := cascadia.Compile(by.Value)
		if err != nil {
			return nil, core.ErrInvalidLocator.WithMessage("invalid css selector " + by.Value).WithCause(err)
		}
		return scope.FindMatcher(m), nil
	case core.UsingXPath:
		return queryXPath(scope, by.Value)
	}
	return nil, core.ErrUnsupported.WithMessage("unsupported lookup strategy " + by.Using)
}

// queryXPath evaluates expr from every node in scope and returns the
// matched elements in document order, without duplicates.
func queryXPath(scope *goquery.Selection, expr string) (*goquery.Selection, error) {
	var found []*html.Node
	for _, n := range scope.Nodes {
		nodes, err := htmlquery.QueryAll(n, expr)
		if err != nil {
			return nil, core.ErrInvalidLocator.WithMessagef("invalid xpath %q", expr).WithCause(err)
		}
		for _, m := range nodes {
			// Text results resolve to their element; attribute results
			// are detached copies and are dropped.
			if m.Type == html.TextNode {
				m = m.Parent
			}
			if m != nil && m.Type == html.ElementNode && attached(m) {
				found = append(found, m)
			}
		}
	}
	// AddNodes keeps the document of scope and drops duplicates.
	return scope.Slice(0, 0).AddNodes(found...), nil
}

func attached(n *html.Node) bool {
	for n.Parent != nil {
		n = n.Parent
	}
	return n.Type == html.DocumentNode
}
