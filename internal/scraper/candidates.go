package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/maltedev/silpo-price-scraper/internal/models"
	"github.com/maltedev/silpo-price-scraper/internal/parser"
)

const (
	// maxCandidates bounds how many cards are taken from one page.
	maxCandidates = 250
	// maxCardText bounds the text kept per candidate, in runes.
	maxCardText = 1500
	dedupPrefix = 100
)

// productLinkSelector matches anchors to product detail pages.
const productLinkSelector = `a[href^="/product/"]`

// PageURL returns the listing URL for page p. Page 1 is the category URL
// itself; later pages carry a page query parameter.
func PageURL(categoryURL string, p int) (string, error) {
	if p < 1 {
		return "", fmt.Errorf("invalid page number %d", p)
	}
	u, err := url.Parse(categoryURL)
	if err != nil {
		return "", fmt.Errorf("invalid category url: %w", err)
	}
	if p == 1 {
		return u.String(), nil
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(p))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExtractCandidates finds product links whose own visible text carries a
// price. Candidates are deduplicated by link and the leading part of their
// text.
func ExtractCandidates(page string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	var out []Candidate
	seen := make(map[string]struct{})

	doc.Find(productLinkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")

		text := visibleText(a)
		if !strings.Contains(text, parser.CurrencyMarker) {
			return true
		}
		text = models.Truncate(text, maxCardText)

		key := href + "::" + models.Truncate(text, dedupPrefix)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}

		out = append(out, Candidate{Href: href, Text: text})
		return len(out) < maxCandidates
	})

	return out, nil
}

// visibleText joins the text nodes under s with single spaces, skipping
// script and style content.
func visibleText(s *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// AbsoluteURL resolves a product link against the site origin. Links that
// are neither absolute nor rooted are dropped.
func AbsoluteURL(href string) *string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return nil
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return &href
	case strings.HasPrefix(href, "//"):
		return models.StringPtr("https:" + href)
	case strings.HasPrefix(href, "/"):
		return models.StringPtr(SiteOrigin + href)
	}
	return nil
}
