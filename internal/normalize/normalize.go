// Package normalize reduces rendered HTML to the canonical text used for
// change detection.
package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultStrip lists the elements whose content changes on every load
// independently of what the page actually shows.
var DefaultStrip = []string{"script", "style", "noscript"}

// Normalizer strips volatile markup and collapses whitespace.
type Normalizer struct {
	selector string
}

// New builds a Normalizer that removes DefaultStrip plus any extra CSS selectors.
func New(extra ...string) *Normalizer {
	selectors := make([]string, 0, len(DefaultStrip)+len(extra))
	selectors = append(selectors, DefaultStrip...)
	for _, sel := range extra {
		if sel = strings.TrimSpace(sel); sel != "" {
			selectors = append(selectors, sel)
		}
	}
	return &Normalizer{selector: strings.Join(selectors, ", ")}
}

// Normalize returns the single-line canonical text of raw. It never fails:
// malformed markup is repaired by the HTML5 parser and unparsable input falls
// back to whitespace collapsing of the raw string.
func (n *Normalizer) Normalize(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapse(raw)
	}
	doc.Find(n.selector).Remove()

	var b strings.Builder
	for _, node := range doc.Nodes {
		writeText(&b, node)
	}
	return collapse(b.String())
}

// Text normalizes raw with the default strip list.
func Text(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

var defaultNormalizer = New()

// writeText appends every text node under n, separated by a space so that
// adjacent elements never glue their words together.
func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
