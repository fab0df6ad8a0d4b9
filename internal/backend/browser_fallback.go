package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"
)

// browserFallback renders a backend's HTML results page with a headless,
// stealth-patched Chromium instance when the JSON API path is blocked by
// an anti-bot challenge (§7 BackendAntiBot). It is the last resort for a
// backend configured with UseBrowserFallback; most backends never touch
// this path.
type browserFallback struct {
	mu      sync.Mutex
	browser *rod.Browser
}

func newBrowserFallback() (*browserFallback, error) {
	launchURL, err := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &browserFallback{browser: browser}, nil
}

func (bf *browserFallback) close() error {
	if bf.browser == nil {
		return nil
	}
	return bf.browser.Close()
}

// fetchHTML navigates to rawURL behind a stealth-patched page and returns
// the rendered document, so a backend that only serves its results page
// to real browsers is still reachable.
func (bf *browserFallback) fetchHTML(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	page, err := stealth.Page(bf.browser)
	if err != nil {
		return "", fmt.Errorf("stealth page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	if err := page.Timeout(timeout).Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		// Rendering may still be usable even if the page never settles.
		_ = err
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// parseHTMLResults extracts results from a SearXNG-style results page:
// each hit is a `div.result` containing an `h3 > a` title/url and an
// optional `.content` snippet. Backends that emit a different HTML theme
// simply yield zero results here rather than an error.
func parseHTMLResults(html string, backend searchtypes.BackendID) ([]searchtypes.RawResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "parse html fallback response", err)
	}

	var out []searchtypes.RawResult
	doc.Find("div.result").Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("h3 a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		out = append(out, searchtypes.RawResult{
			URL:     href,
			Title:   strings.TrimSpace(link.Text()),
			Snippet: strings.TrimSpace(sel.Find(".content").First().Text()),
			Backend: backend,
		})
	})
	return out, nil
}
