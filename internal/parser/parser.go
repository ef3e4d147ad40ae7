// Package parser implements the page parsers for the marketplace's page
// families using goquery. Parsers are pure: same bytes in, same record out.
// Every nullable field is a pointer so "absent" never collapses into "zero".
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/storepulse/appscraper/internal/scrape"
)

// Parser implements scrape.Parser against the marketplace's server-rendered
// markup, which annotates machine-readable values with data attributes.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

var _ scrape.Parser = (*Parser)(nil)

// Suggestions parses the keyword suggestion endpoint, a JSON array of
// strings.
func (p *Parser) Suggestions(data []byte) ([]string, error) {
	var suggestions []string
	if err := json.Unmarshal(data, &suggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	out := suggestions[:0]
	for _, s := range suggestions {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func document(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

// attrInt reads an integer data attribute. Missing or malformed attributes
// yield nil, never zero.
func attrInt(s *goquery.Selection, name string) *int {
	raw, ok := s.Attr(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &n
}

// attrFloat reads a float data attribute with the same nil semantics.
func attrFloat(s *goquery.Selection, name string) *float64 {
	raw, ok := s.Attr(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}

func hasNextPage(doc *goquery.Document) bool {
	if doc.Find("[data-next-page]").Length() > 0 {
		return true
	}
	return doc.Find(`link[rel="next"], a[rel="next"]`).Length() > 0
}

func listedApp(s *goquery.Selection) scrape.ListedApp {
	sponsored, _ := s.Attr("data-sponsored")
	return scrape.ListedApp{
		Slug:          s.AttrOr("data-app-slug", ""),
		Name:          s.AttrOr("data-app-name", ""),
		IconURL:       s.AttrOr("data-icon-url", ""),
		AverageRating: attrFloat(s, "data-rating"),
		Sponsored:     sponsored == "true",
	}
}

// slugFromPath returns the last path segment of a marketplace URL.
func slugFromPath(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
