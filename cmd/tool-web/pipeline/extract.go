package pipeline

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// Article is the readable core of a page, stripped of navigation and chrome.
type Article struct {
	Title         string     `json:"title"`
	Markdown      string     `json:"markdown"`
	Text          string     `json:"text"`
	Byline        string     `json:"byline,omitempty"`
	Excerpt       string     `json:"excerpt,omitempty"`
	SiteName      string     `json:"site_name,omitempty"`
	WordCount     int        `json:"word_count"`
	PublishedTime *time.Time `json:"published_time,omitempty"`
	Language      string     `json:"language,omitempty"`
}

// ExtractArticle runs the readability pass over raw HTML and converts the
// surviving content to markdown.
func ExtractArticle(htmlContent, pageURL string) (*Article, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		parsedURL = &url.URL{Scheme: "https", Host: "localhost"}
	}

	article, err := readability.FromReader(strings.NewReader(htmlContent), parsedURL)
	if err != nil {
		return nil, err
	}

	var htmlBuf bytes.Buffer
	if err := article.RenderHTML(&htmlBuf); err != nil {
		return nil, err
	}
	var textBuf bytes.Buffer
	if err := article.RenderText(&textBuf); err != nil {
		return nil, err
	}

	markdown, err := ToMarkdown(htmlBuf.String(), pageURL)
	if err != nil {
		return nil, err
	}

	result := &Article{
		Title:    article.Title(),
		Markdown: markdown,
		Text:     textBuf.String(),
		Byline:   article.Byline(),
		Excerpt:  article.Excerpt(),
		SiteName: article.SiteName(),
		Language: article.Language(),
	}
	result.WordCount = len(strings.Fields(result.Text))

	if pubTime, err := article.PublishedTime(); err == nil && !pubTime.IsZero() {
		result.PublishedTime = &pubTime
	}
	return result, nil
}

// ToMarkdown converts HTML to markdown, resolving relative links against
// baseURL and collapsing runs of blank lines.
func ToMarkdown(htmlContent, baseURL string) (string, error) {
	markdown, err := htmltomarkdown.ConvertString(htmlContent,
		converter.WithDomain(baseURL))
	if err != nil {
		return "", err
	}

	lines := strings.Split(markdown, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blanks = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

// TruncateMarkdown cuts markdown at maxLen, preferring a paragraph break,
// then a sentence end, then a word boundary.
func TruncateMarkdown(markdown string, maxLen int) string {
	if maxLen <= 0 || len(markdown) <= maxLen {
		return markdown
	}
	cut := markdown[:maxLen]
	if idx := strings.LastIndex(cut, "\n\n"); idx > maxLen/2 {
		return strings.TrimSpace(cut[:idx])
	}
	if idx := strings.LastIndexAny(cut, ".!?"); idx > maxLen/2 {
		return strings.TrimSpace(cut[:idx+1])
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}
