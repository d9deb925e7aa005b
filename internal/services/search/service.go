// -----------------------------------------------------------------------
// Search Service - Storefront search URL shaping and result extraction
// -----------------------------------------------------------------------

package search

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

// searchPage is the drive storefront's search endpoint, always addressed
// relative to the configured store page.
const searchPage = "recherche.aspx"

// searchParam carries the query text on the search page
const searchParam = "TexteRecherche"

// Service implements SearchService for the drive storefront
type Service struct {
	config *common.Config
	logger arbor.ILogger
}

// NewService creates a new search service
func NewService(config *common.Config, logger arbor.ILogger) interfaces.SearchService {
	return &Service{
		config: config,
		logger: logger,
	}
}

// BuildSearchURL derives the search URL for a query from the store page
// URL. The store URL may be the store landing page ("...-lorival.aspx"),
// a bare directory, or already a search URL; existing query parameters
// are preserved and the query parameter is overwritten.
func (s *Service) BuildSearchURL(storeURL, query string) (string, error) {
	cleaned := strings.TrimSpace(storeURL)
	if cleaned == "" {
		return "", fmt.Errorf("store URL is required")
	}

	parsed, err := url.Parse(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid store URL %q: %w", storeURL, err)
	}

	path := parsed.Path
	switch {
	case strings.Contains(path, "/"+searchPage):
		// Already the search page
	case strings.HasSuffix(path, ".aspx"):
		path = strings.TrimSuffix(path, ".aspx") + "/" + searchPage
	case strings.HasSuffix(path, "/"):
		path = path + searchPage
	default:
		path = path + "/" + searchPage
	}
	parsed.Path = path

	params := parsed.Query()
	params.Set(searchParam, query)
	parsed.RawQuery = params.Encode()

	return parsed.String(), nil
}
