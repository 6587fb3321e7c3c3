package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Browser wraps a lazily-launched headless Chromium shared by the render
// and screenshot actions.
type Browser struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// RenderOptions configures a headless page load
type RenderOptions struct {
	Width    int
	Height   int
	WaitMS   int
	FullPage bool
}

// DefaultRenderOptions returns the viewport and wait defaults.
func DefaultRenderOptions() *RenderOptions {
	return &RenderOptions{Width: 1280, Height: 720, WaitMS: 0}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	path, _ := launcher.LookPath()
	u := launcher.New().Bin(path).Headless(true).MustLaunch()

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	b.browser = browser
	return browser, nil
}

// Close shuts the underlying browser down if it was ever started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

func (b *Browser) openPage(rawURL string, opts *RenderOptions) (*rod.Page, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	browser, err := b.connect()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  opts.Width,
		Height: opts.Height,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: userAgent,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	if err := page.Navigate(rawURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("wait for load: %w", err)
	}
	if opts.WaitMS > 0 {
		time.Sleep(time.Duration(opts.WaitMS) * time.Millisecond)
	}
	return page, nil
}

// Render loads a URL with JavaScript enabled and returns the settled HTML
// and the final URL after client-side redirects.
func (b *Browser) Render(rawURL string, opts *RenderOptions) (string, string, error) {
	if opts == nil {
		opts = DefaultRenderOptions()
	}
	page, err := b.openPage(rawURL, opts)
	if err != nil {
		return "", "", err
	}
	defer page.Close()

	html, err := page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("read page content: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return html, rawURL, nil
	}
	return html, info.URL, nil
}

// Screenshot captures a PNG of a URL.
func (b *Browser) Screenshot(rawURL string, opts *RenderOptions) ([]byte, error) {
	if opts == nil {
		opts = DefaultRenderOptions()
		opts.WaitMS = 1000
	}
	page, err := b.openPage(rawURL, opts)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	data, err := page.Screenshot(opts.FullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return data, nil
}
