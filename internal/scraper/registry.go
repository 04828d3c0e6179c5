package scraper

import (
	"fmt"
	"sort"
	"strings"
)

var registry = map[string]Scraper{}

// Register adds s under its lower-cased name, replacing any source of the
// same name. Sources call it from init.
func Register(s Scraper) {
	registry[strings.ToLower(s.Name())] = s
}

// Get looks up a source by case-insensitive name.
func Get(name string) (Scraper, bool) {
	s, ok := registry[strings.ToLower(name)]
	return s, ok
}

// Names lists every registered source, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up each name, failing on the first unknown one.
func Resolve(names []string) ([]Scraper, error) {
	out := make([]Scraper, 0, len(names))
	for _, name := range names {
		s, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		out = append(out, s)
	}
	return out, nil
}
