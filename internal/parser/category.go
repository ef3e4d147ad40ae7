package parser

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/storepulse/appscraper/internal/scrape"
)

// CategoryPage parses a category listing or hub page. Hub pages carry no
// app-count attribute, which is how the crawler tells the two apart.
func (p *Parser) CategoryPage(html []byte, _ scrape.PageContext) (*scrape.CategoryPage, error) {
	doc, err := document(html)
	if err != nil {
		return nil, err
	}

	page := &scrape.CategoryPage{
		Title:       text(doc.Find("[data-category-title]").First()),
		Description: text(doc.Find("[data-category-description]").First()),
		AppCount:    attrInt(doc.Find("[data-app-count]").First(), "data-app-count"),
		HasNextPage: hasNextPage(doc),
	}

	doc.Find("[data-breadcrumb] a").Each(func(_ int, s *goquery.Selection) {
		if crumb := text(s); crumb != "" {
			page.Breadcrumb = append(page.Breadcrumb, crumb)
		}
	})

	doc.Find("[data-app-card]").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("[data-featured-section]").Length() > 0 {
			return
		}
		app := listedApp(s)
		if app.Slug != "" {
			page.Apps = append(page.Apps, app)
		}
	})

	doc.Find("a[data-subcategory]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		page.Subcategories = append(page.Subcategories, scrape.CategoryLink{
			Slug:  slugFromPath(href),
			Title: text(s),
		})
	})

	doc.Find("[data-featured-section]").Each(func(_ int, s *goquery.Selection) {
		section := scrape.FeaturedSection{
			Handle:        s.AttrOr("data-section-handle", ""),
			Title:         text(s.Find("h2").First()),
			SurfaceDetail: s.AttrOr("data-surface-detail", ""),
			URL:           s.AttrOr("data-section-url", ""),
		}
		s.Find("[data-app-card]").Each(func(_ int, card *goquery.Selection) {
			app := listedApp(card)
			if app.Slug != "" {
				section.Apps = append(section.Apps, app)
			}
		})
		page.FeaturedSections = append(page.FeaturedSections, section)
	})

	return page, nil
}
