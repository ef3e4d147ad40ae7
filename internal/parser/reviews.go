package parser

import (
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/storepulse/appscraper/internal/scrape"
)

// ReviewPage parses one review listing page. The source sorts newest-first;
// document order is preserved so callers can cut off on the first old
// review.
func (p *Parser) ReviewPage(html []byte, _ scrape.PageContext) (*scrape.ReviewPage, error) {
	doc, err := document(html)
	if err != nil {
		return nil, err
	}

	page := &scrape.ReviewPage{
		HasNextPage: hasNextPage(doc),
	}

	doc.Find("[data-review]").Each(func(_ int, s *goquery.Selection) {
		review := scrape.Review{
			Reviewer:       s.AttrOr("data-reviewer", ""),
			Content:        text(s.Find("[data-review-content]").First()),
			DeveloperReply: text(s.Find("[data-developer-reply]").First()),
		}
		if rating := attrInt(s, "data-rating"); rating != nil {
			review.Rating = *rating
		}
		raw, ok := s.Attr("data-review-date")
		if !ok {
			return
		}
		date, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			return
		}
		review.Date = date
		page.Reviews = append(page.Reviews, review)
	})

	return page, nil
}
