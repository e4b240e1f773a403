package htmlutil

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseDocument parses an HTML fragment or full page into a goquery
// document for DOM selection.
func ParseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// TextFields walks each node matched by selector and extracts fields named
// by extractors (a sub-selector or attribute path), returning one map per
// matched node in document order. A sub-selector of "" extracts the
// matched node's own trimmed text.
func TextFields(doc *goquery.Selection, selector string, extractors map[string]string) []map[string]string {
	var rows []map[string]string
	doc.Find(selector).Each(func(_ int, node *goquery.Selection) {
		row := make(map[string]string, len(extractors))
		for field, sub := range extractors {
			if sub == "" {
				row[field] = strings.TrimSpace(node.Text())
				continue
			}
			row[field] = strings.TrimSpace(node.Find(sub).First().Text())
		}
		rows = append(rows, row)
	})
	return rows
}

// Attr returns a trimmed attribute value from the first match of selector
// within node, or "" if absent.
func Attr(node *goquery.Selection, selector, attr string) string {
	target := node
	if selector != "" {
		target = node.Find(selector).First()
	}
	value, _ := target.Attr(attr)
	return strings.TrimSpace(value)
}
