package pipeline

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is one outgoing anchor from a page
type Link struct {
	URL      string `json:"url"`
	Text     string `json:"text,omitempty"`
	External bool   `json:"external"`
}

// ExtractLinks harvests the anchors from a page, resolves them against the
// page URL, and deduplicates. Fragment-only and non-http(s) links are
// dropped.
func ExtractLinks(htmlContent, pageURL string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		abs := resolved.String()
		if seen[abs] {
			return
		}
		seen[abs] = true

		links = append(links, Link{
			URL:      abs,
			Text:     strings.Join(strings.Fields(sel.Text()), " "),
			External: resolved.Host != base.Host,
		})
	})
	return links, nil
}
