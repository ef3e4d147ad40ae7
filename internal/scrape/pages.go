package scrape

import "time"

// PageContext tells a parser where the raw page came from.
type PageContext struct {
	Page    int
	BaseURL string
}

// ListedApp is one app card as it appears on a listing, featured section, or
// similar-apps block.
type ListedApp struct {
	Slug          string
	Name          string
	IconURL       string
	AverageRating *float64
	Sponsored     bool
}

// CategoryLink points at a subcategory node.
type CategoryLink struct {
	Slug  string
	Title string
}

// FeaturedSection is one curated block on a category page. URL is the
// section's own link; its slug is authoritative when the parsed handle is
// wrong (known upstream bug on primary recommendation blocks).
type FeaturedSection struct {
	Handle        string
	Title         string
	SurfaceDetail string
	URL           string
	Apps          []ListedApp
}

// CategoryPage is the parsed form of a category listing or hub page. A nil
// AppCount marks a hub page: an aggregation surface whose app order carries
// no ranking meaning.
type CategoryPage struct {
	Title            string
	Description      string
	Breadcrumb       []string
	AppCount         *int
	Apps             []ListedApp
	Subcategories    []CategoryLink
	FeaturedSections []FeaturedSection
	HasNextPage      bool
}

// SearchResult is one search result entry.
type SearchResult struct {
	Slug          string
	Name          string
	IconURL       string
	AverageRating *float64
}

// SearchPage is the parsed form of one keyword search result page. Organic,
// Sponsored, and BuiltIn are already separated by the parser; the same app
// may legitimately appear in more than one list.
type SearchPage struct {
	TotalResults *int
	Organic      []SearchResult
	Sponsored    []SearchResult
	BuiltIn      []SearchResult
	HasNextPage  bool
}

// PricingPlan is one pricing option on an app detail page.
type PricingPlan struct {
	Name     string   `json:"name"`
	PriceUSD *float64 `json:"price_usd,omitempty"`
	Interval string   `json:"interval,omitempty"`
	Features []string `json:"features,omitempty"`
}

// AppDetailPage is the parsed form of an app detail page. Nullable fields
// are pointers; the core must branch on presence, never on zero values.
type AppDetailPage struct {
	Name          string
	Developer     string
	Introduction  string
	Details       string
	Features      []string
	PricingPlans  []PricingPlan
	AverageRating *float64
	RatingCount   *int
	LaunchDate    *time.Time
	IconURL       string
	Categories    []string
	SimilarApps   []ListedApp
}

// Review is one parsed review entry, newest-first within a page.
type Review struct {
	Reviewer       string
	Rating         int
	Content        string
	DeveloperReply string
	Date           time.Time
}

// ReviewPage is the parsed form of one review listing page.
type ReviewPage struct {
	Reviews     []Review
	HasNextPage bool
}
