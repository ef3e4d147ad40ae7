package parser

import (
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/storepulse/appscraper/internal/scrape"
)

// AppDetailPage parses an app detail page into its structured record.
func (p *Parser) AppDetailPage(html []byte, _ scrape.PageContext) (*scrape.AppDetailPage, error) {
	doc, err := document(html)
	if err != nil {
		return nil, err
	}

	page := &scrape.AppDetailPage{
		Name:          text(doc.Find("[data-app-name]").First()),
		Developer:     text(doc.Find("[data-developer]").First()),
		Introduction:  text(doc.Find("[data-app-introduction]").First()),
		Details:       text(doc.Find("[data-app-details]").First()),
		AverageRating: attrFloat(doc.Find("[data-average-rating]").First(), "data-average-rating"),
		RatingCount:   attrInt(doc.Find("[data-rating-count]").First(), "data-rating-count"),
		IconURL:       doc.Find("[data-app-icon]").First().AttrOr("src", ""),
	}

	if raw, ok := doc.Find("time[data-launched]").First().Attr("datetime"); ok {
		if launched, perr := time.Parse("2006-01-02", raw); perr == nil {
			page.LaunchDate = &launched
		}
	}

	doc.Find("[data-app-features] li").Each(func(_ int, s *goquery.Selection) {
		if feature := text(s); feature != "" {
			page.Features = append(page.Features, feature)
		}
	})

	doc.Find("[data-pricing-plan]").Each(func(_ int, s *goquery.Selection) {
		plan := scrape.PricingPlan{
			Name:     s.AttrOr("data-plan-name", ""),
			PriceUSD: attrFloat(s, "data-price-usd"),
			Interval: s.AttrOr("data-interval", ""),
		}
		s.Find("[data-plan-feature]").Each(func(_ int, f *goquery.Selection) {
			if feature := text(f); feature != "" {
				plan.Features = append(plan.Features, feature)
			}
		})
		page.PricingPlans = append(page.PricingPlans, plan)
	})

	doc.Find("a[data-app-category]").Each(func(_ int, s *goquery.Selection) {
		if category := text(s); category != "" {
			page.Categories = append(page.Categories, category)
		}
	})

	doc.Find("[data-similar-app]").Each(func(_ int, s *goquery.Selection) {
		app := listedApp(s)
		if app.Slug != "" {
			page.SimilarApps = append(page.SimilarApps, app)
		}
	})

	return page, nil
}
