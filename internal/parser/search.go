package parser

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/storepulse/appscraper/internal/scrape"
)

// SearchPage parses one keyword search result page. Results are already
// separated by kind in the markup; built-in platform features are listed
// alongside apps and must never receive organic ranks.
func (p *Parser) SearchPage(html []byte, _ scrape.PageContext) (*scrape.SearchPage, error) {
	doc, err := document(html)
	if err != nil {
		return nil, err
	}

	page := &scrape.SearchPage{
		TotalResults: attrInt(doc.Find("[data-total-results]").First(), "data-total-results"),
		HasNextPage:  hasNextPage(doc),
	}

	doc.Find("[data-search-result]").Each(func(_ int, s *goquery.Selection) {
		result := scrape.SearchResult{
			Slug:          s.AttrOr("data-app-slug", ""),
			Name:          s.AttrOr("data-app-name", ""),
			IconURL:       s.AttrOr("data-icon-url", ""),
			AverageRating: attrFloat(s, "data-rating"),
		}
		if result.Slug == "" {
			return
		}
		switch s.AttrOr("data-result-kind", "organic") {
		case "sponsored":
			page.Sponsored = append(page.Sponsored, result)
		case "built_in":
			page.BuiltIn = append(page.BuiltIn, result)
		default:
			page.Organic = append(page.Organic, result)
		}
	})

	return page, nil
}
