package pipeline

import (
	"strings"

	"golang.org/x/net/html"
)

// PageMeta is the head-level metadata of a page
type PageMeta struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Canonical   string `json:"canonical,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Language    string `json:"language,omitempty"`
}

// ExtractMeta walks the parsed document for title, description, canonical
// URL, and language. Open Graph values fill gaps left by the plain tags.
func ExtractMeta(htmlContent string) (*PageMeta, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	meta := &PageMeta{}
	og := make(map[string]string)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html":
				if v := attr(n, "lang"); v != "" {
					meta.Language = v
				}
			case "title":
				if meta.Title == "" && n.FirstChild != nil {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				content := attr(n, "content")
				switch strings.ToLower(attr(n, "name")) {
				case "description":
					meta.Description = content
				}
				if prop := strings.ToLower(attr(n, "property")); strings.HasPrefix(prop, "og:") {
					og[strings.TrimPrefix(prop, "og:")] = content
				}
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") {
					meta.Canonical = attr(n, "href")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.Title == "" {
		meta.Title = og["title"]
	}
	if meta.Description == "" {
		meta.Description = og["description"]
	}
	meta.SiteName = og["site_name"]
	return meta, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
