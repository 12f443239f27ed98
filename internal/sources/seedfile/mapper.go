package seedfile

import (
	"strings"

	"github.com/marqd/marqd/internal/domain"
)

// Seed is one validated bookmark ready for import. URL is already in
// canonical form.
type Seed struct {
	Owner string
	Title string
	URL   string
}

// Mapper converts the parsed seed config into validated Seed entries.
type Mapper struct{}

// NewMapper creates a seed mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map validates and canonicalizes the config. Entries with an empty
// title, an empty owner or an unparsable URL are dropped; duplicate
// canonical URLs within one owner keep the first occurrence. A config
// with no valid entries maps to an empty slice.
func (m *Mapper) Map(config Config) []Seed {
	seeds := make([]Seed, 0)
	seen := make(map[string]struct{})

	for _, block := range config {
		owner := strings.TrimSpace(block.Owner)
		if owner == "" {
			continue
		}
		for _, entry := range block.Bookmarks {
			title := strings.TrimSpace(entry.Title)
			if title == "" {
				continue
			}
			canonical, err := domain.CanonicalURL(entry.URL)
			if err != nil {
				continue
			}
			key := owner + "\x00" + canonical
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			seeds = append(seeds, Seed{Owner: owner, Title: title, URL: canonical})
		}
	}

	return seeds
}
