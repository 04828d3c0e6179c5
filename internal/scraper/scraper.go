package scraper

// Scraper is a named logical source of targets, such as one screener
// listing. It only enumerates locators; fetching and extraction are shared.
type Scraper interface {
	Name() string
	Locators(opts Options) ([]string, error)
}

type Options struct {
	PagesPerSite int // pages enumerated per paginated source
}
