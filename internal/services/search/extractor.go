package search

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/mercor/internal/models"
)

// productTileSelectors are tried in order; the first selector that yields
// any tiles wins. The storefront's generated control ids shift between
// releases, so the list leans on stable class fragments.
var productTileSelectors = []string{
	"li[class*='_Product']",
	"div[class*='BlocProduit']",
	".liste-produits .produit",
	"[data-product-id]",
}

// resultContainerSelectors recognize the search results page itself. A
// page with a container but no tiles is a valid empty result; a page with
// neither is unparseable.
var resultContainerSelectors = []string{
	"[id*='ListeProduits']",
	"[class*='liste-produits']",
	"[id*='WCRS310']",
	"[class*='resultats']",
}

var productNameSelectors = []string{
	"[class*='Desc']",
	"[class*='libelle']",
	".nom-produit",
	"h3",
}

var productBrandSelectors = []string{
	"[class*='Marque']",
	"[class*='marque']",
}

var productPriceSelectors = []string{
	"[class*='PrixUnitaire']",
	"[class*='prix-produit']",
	"[class*='Prix']",
	"[class*='prix']",
}

var productPerUnitSelectors = []string{
	"[class*='ParQuantite']",
	"[class*='prix-unitaire']",
	"[class*='unite']",
}

// Extract parses search result markup into products. The query and
// searchURL ride along into the result record; limit caps the product
// list.
func (s *Service) Extract(html, query, searchURL string, limit int) (*models.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	base, err := url.Parse(searchURL)
	if err != nil {
		base = nil
	}

	if limit <= 0 {
		limit = s.config.Retailer.ResultLimit
	}

	tiles := findTiles(doc)
	if tiles == nil {
		if !hasResultContainer(doc) {
			return nil, fmt.Errorf("no results container found on page")
		}
		// Recognized results page with no tiles: a valid empty result
		return &models.SearchResult{
			Query:     query,
			SearchURL: searchURL,
			Products:  []models.Product{},
		}, nil
	}

	products := make([]models.Product, 0, limit)
	tiles.EachWithBreak(func(i int, tile *goquery.Selection) bool {
		product := extractTile(tile, base)
		if product.Name == "" {
			return true
		}
		products = append(products, product)
		return len(products) < limit
	})

	s.logger.Debug().
		Str("query", query).
		Int("count", len(products)).
		Msg("Extracted products")

	return &models.SearchResult{
		Query:     query,
		SearchURL: searchURL,
		Products:  products,
		Count:     len(products),
	}, nil
}

// findTiles returns the first non-empty tile selection, or nil
func findTiles(doc *goquery.Document) *goquery.Selection {
	for _, selector := range productTileSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func hasResultContainer(doc *goquery.Document) bool {
	for _, selector := range resultContainerSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}

// extractTile pulls one product card out of a tile. Missing fields stay
// empty; a tile without a name is dropped by the caller.
func extractTile(tile *goquery.Selection, base *url.URL) models.Product {
	product := models.Product{
		Name:             firstText(tile, productNameSelectors),
		Brand:            firstText(tile, productBrandSelectors),
		PriceText:        firstText(tile, productPriceSelectors),
		PricePerUnitText: firstText(tile, productPerUnitSelectors),
	}

	if product.Name == "" {
		if title, ok := tile.Find("a[title]").First().Attr("title"); ok {
			product.Name = normalize(title)
		}
	}

	if src, ok := tile.Find("img").First().Attr("src"); ok && src != "" {
		product.ImageURL = resolveRef(src, base)
	} else if src, ok := tile.Find("img").First().Attr("data-src"); ok {
		product.ImageURL = resolveRef(src, base)
	}

	if href, ok := tile.Find("a[href]").First().Attr("href"); ok {
		product.URL = resolveRef(href, base)
	}

	return product
}

// firstText returns the normalized text of the first selector that
// matches anything.
func firstText(sel *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		if found := sel.Find(selector).First(); found.Length() > 0 {
			if text := normalize(found.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// normalize collapses runs of whitespace into single spaces
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveRef resolves a possibly relative href against the search URL
func resolveRef(ref string, base *url.URL) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
