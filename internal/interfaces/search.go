package interfaces

import "github.com/ternarybob/mercor/internal/models"

// SearchService shapes storefront search URLs and extracts product cards
// from result markup.
type SearchService interface {
	// BuildSearchURL derives the search page URL for a query from the
	// configured store URL, preserving any existing query parameters.
	BuildSearchURL(storeURL, query string) (string, error)

	// Extract parses result markup into products. Returns an error when
	// the results container cannot be found (unparseable page); a
	// recognized page with zero products is a valid empty result.
	Extract(html, query, searchURL string, limit int) (*models.SearchResult, error)
}
