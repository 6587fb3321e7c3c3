// Package pipeline holds the content machinery behind the web tool plugin:
// guarded fetching, readable-content extraction, link harvesting, and
// headless rendering.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
	maxRedirects    = 5
	userAgent       = "Mozilla/5.0 (compatible; LuciaWeb/1.0)"
)

// FetchResult is one fetched page
type FetchResult struct {
	StatusCode  int    `json:"status_code"`
	Body        string `json:"body"`
	FinalURL    string `json:"final_url"`
	ContentType string `json:"content_type"`
}

// Fetch retrieves a URL with SSRF validation applied to the initial URL and
// to every redirect hop.
func Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	redirects := 0
	client := &http.Client{
		Timeout: defaultTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return ValidateURL(req.URL.String())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	return &FetchResult{
		StatusCode:  resp.StatusCode,
		Body:        string(body),
		FinalURL:    resp.Request.URL.String(),
		ContentType: contentType,
	}, nil
}

// FetchHTML fetches a URL and returns its HTML and the final URL after
// redirects. Non-200 statuses are errors.
func FetchHTML(ctx context.Context, rawURL string) (string, string, error) {
	result, err := Fetch(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	if result.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d: %s", result.StatusCode, http.StatusText(result.StatusCode))
	}
	return result.Body, result.FinalURL, nil
}

// ValidateURL rejects non-http(s) schemes and hosts that resolve to
// private, loopback, or link-local addresses.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve %q: %w", hostname, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("host %q resolves to a blocked address %s", hostname, ip)
		}
	}
	return nil
}
