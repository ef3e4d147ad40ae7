package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/storepulse/appscraper/internal/scrape"
)

const testBaseURL = "https://apps.example.com"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFetcher serves canned bodies by URL; unknown URLs return 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string)}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ http.Header) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, &scrape.HTTPError{URL: url, StatusCode: http.StatusNotFound}
	}
	return []byte(body), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) callsTo(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

// Markup builders matching the marketplace's data-attribute format.

func appCard(slug string, sponsored bool) string {
	attr := ""
	if sponsored {
		attr = ` data-sponsored="true"`
	}
	return fmt.Sprintf(`<div data-app-card data-app-slug=%q data-app-name=%q data-rating="4.5"%s></div>`,
		slug, "App "+slug, attr)
}

func listingPage(title string, appCount int, cards []string, hasNext bool, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><h1 data-category-title>%s</h1>`, title)
	fmt.Fprintf(&b, `<span data-app-count="%d"></span>`, appCount)
	for _, card := range cards {
		b.WriteString(card)
	}
	b.WriteString(extra)
	if hasNext {
		b.WriteString(`<a data-next-page href="#">Next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func hubPage(title string, subcategories []string, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><h1 data-category-title>%s</h1>`, title)
	for _, slug := range subcategories {
		fmt.Fprintf(&b, `<a data-subcategory href="/categories/%s">%s</a>`, slug, slug)
	}
	b.WriteString(extra)
	b.WriteString(`</body></html>`)
	return b.String()
}

func featuredSection(handle, title, detail, url string, cards []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<section data-featured-section data-section-handle=%q data-surface-detail=%q data-section-url=%q><h2>%s</h2>`,
		handle, detail, url, title)
	for _, card := range cards {
		b.WriteString(card)
	}
	b.WriteString(`</section>`)
	return b.String()
}

func searchResult(slug, kind string) string {
	return fmt.Sprintf(`<div data-search-result data-app-slug=%q data-app-name=%q data-result-kind=%q></div>`,
		slug, "App "+slug, kind)
}

func searchPage(total int, results []string, hasNext bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><div data-total-results="%d"></div>`, total)
	for _, r := range results {
		b.WriteString(r)
	}
	if hasNext {
		b.WriteString(`<a data-next-page href="#">Next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func reviewRow(reviewer string, rating int, date, content string) string {
	return fmt.Sprintf(`<div data-review data-reviewer=%q data-rating="%d" data-review-date=%q><p data-review-content>%s</p></div>`,
		reviewer, rating, date, content)
}

func reviewsPage(rows []string, hasNext bool) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for _, row := range rows {
		b.WriteString(row)
	}
	if hasNext {
		b.WriteString(`<a data-next-page href="#">Next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func detailPage(name, developer, intro, details string, features []string, similar []string) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	fmt.Fprintf(&b, `<h1 data-app-name>%s</h1>`, name)
	fmt.Fprintf(&b, `<span data-developer>%s</span>`, developer)
	fmt.Fprintf(&b, `<p data-app-introduction>%s</p>`, intro)
	fmt.Fprintf(&b, `<div data-app-details>%s</div>`, details)
	b.WriteString(`<ul data-app-features>`)
	for _, feature := range features {
		fmt.Fprintf(&b, `<li>%s</li>`, feature)
	}
	b.WriteString(`</ul>`)
	for _, slug := range similar {
		fmt.Fprintf(&b, `<div data-similar-app data-app-slug=%q data-app-name=%q></div>`, slug, "App "+slug)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}
