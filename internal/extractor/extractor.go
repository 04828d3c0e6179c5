package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"harvest/internal/acquire"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTableSelector matches the striped result tables used by screener
// listing pages.
const DefaultTableSelector = "table.table.table-striped"

// TableLinks extracts every anchor with an href from the first table that
// matches Selector.
type TableLinks struct {
	Selector string
}

// NewTableLinks creates a TableLinks extractor; an empty selector falls back
// to DefaultTableSelector.
func NewTableLinks(selector string) TableLinks {
	if selector == "" {
		selector = DefaultTableSelector
	}
	return TableLinks{Selector: selector}
}

// Extract parses body and returns the table's links resolved against page.
// A page without a matching table yields no items and no error.
func (e TableLinks) Extract(body []byte, page *url.URL) ([]acquire.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	sel := e.Selector
	if sel == "" {
		sel = DefaultTableSelector
	}
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		return nil, nil
	}

	var items []acquire.Item
	table.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		items = append(items, acquire.Item{
			Text: strings.Join(strings.Fields(a.Text()), " "),
			URL:  resolve(page, href),
		})
	})
	return items, nil
}

// resolve makes href absolute relative to page, leaving it untouched when it
// cannot be parsed.
func resolve(page *url.URL, href string) string {
	if page == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return page.ResolveReference(ref).String()
}
