package scraper

import (
	"fmt"
	"net/url"
	"strings"
)

func categoryAllURL(base, slug string) string {
	return fmt.Sprintf("%s/categories/%s/all", strings.TrimRight(base, "/"), slug)
}

func categoryURL(base, slug string) string {
	return fmt.Sprintf("%s/categories/%s", strings.TrimRight(base, "/"), slug)
}

func appURL(base, slug string) string {
	return fmt.Sprintf("%s/apps/%s", strings.TrimRight(base, "/"), slug)
}

func reviewsURL(base, slug string, page int) string {
	return fmt.Sprintf("%s/apps/%s/reviews?sort_by=newest&page=%d", strings.TrimRight(base, "/"), slug, page)
}

func searchURL(base, keyword string, page int) string {
	return fmt.Sprintf("%s/search?q=%s&page=%d", strings.TrimRight(base, "/"), url.QueryEscape(keyword), page)
}

func suggestURL(base, keyword string) string {
	return fmt.Sprintf("%s/search/suggestions?q=%s", strings.TrimRight(base, "/"), url.QueryEscape(keyword))
}

// pagedURL appends a page parameter to a listing URL.
func pagedURL(listingURL string, page int) string {
	sep := "?"
	if strings.Contains(listingURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", listingURL, sep, page)
}

// lastPathSegment extracts the trailing slug from a marketplace URL.
func lastPathSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
