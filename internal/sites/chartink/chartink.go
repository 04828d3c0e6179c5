// Package chartink registers the chartink.com screener listings. Each listing
// is paginated; a page holds a striped table of screener links.
package chartink

import (
	"harvest/internal/scraper"
	"harvest/internal/targets"
)

const (
	BullishURL = "https://chartink.com/screeners/bullish-screeners?page="
	BearishURL = "https://chartink.com/screeners/bearish-screeners?page="
)

func init() {
	scraper.Register(&Listing{name: "chartink.bullish", base: BullishURL})
	scraper.Register(&Listing{name: "chartink.bearish", base: BearishURL})
}

// Listing is one paginated screener listing.
type Listing struct {
	name string
	base string
}

func (l *Listing) Name() string { return l.name }

// Locators returns base+page for pages 1..PagesPerSite.
func (l *Listing) Locators(opts scraper.Options) ([]string, error) {
	return targets.Pages(l.base, 1, opts.PagesPerSite)
}
