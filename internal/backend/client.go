// Package backend implements the thin HTTP adapter to the metasearch
// backend (C10): request construction, response parsing into
// searchtypes.RawResult, optional browser TLS fingerprint impersonation,
// and the embedding collaborator used by the semantic cache (C3).
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"
)

// Config configures the backend client, per spec.md §6 External Interfaces.
type Config struct {
	BaseURL        string
	HTTPTimeout    time.Duration
	ImpersonateTLS bool
	SessionTTL     time.Duration

	// UseBrowserFallback enables the headless-browser HTML scraping path
	// (§7 BackendAntiBot) for a backend that blocks the format=json
	// request with a 403 or a captcha challenge page.
	UseBrowserFallback bool
}

// DefaultConfig returns spec.md's literal defaults.
func DefaultConfig() Config {
	return Config{HTTPTimeout: 30 * time.Second, SessionTTL: 300 * time.Second}
}

// Client issues JSON-format search requests to the metasearch backend.
type Client struct {
	cfg      Config
	http     *http.Client
	identity *identityRotator
	fallback *browserFallback

	fallbackOnce sync.Once
	fallbackErr  error
}

// ensureFallback lazily launches the headless browser backing the HTML
// fallback path, at most once per Client.
func (c *Client) ensureFallback() (*browserFallback, error) {
	c.fallbackOnce.Do(func() {
		c.fallback, c.fallbackErr = newBrowserFallback()
	})
	return c.fallback, c.fallbackErr
}

// New builds a Client. When cfg.ImpersonateTLS is set, requests are
// issued through a transport that uses a weighted-random browser
// identity's TLS cipher suites and header values and re-draws that
// identity every SessionTTL. When
// cfg.UseBrowserFallback is set, a headless browser is launched lazily on
// the first anti-bot response rather than at construction time, so a
// Client never pays the launch cost for a backend that never blocks it.
func New(cfg Config) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 300 * time.Second
	}

	c := &Client{cfg: cfg}
	if cfg.ImpersonateTLS {
		c.identity = newIdentityRotator(cfg.SessionTTL)
		c.http = &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: newStealthTransport(c.identity),
		}
	} else {
		c.http = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return c
}

// Close releases the headless browser backing the HTML fallback, if one
// was ever launched.
func (c *Client) Close() error {
	if c.fallback == nil {
		return nil
	}
	return c.fallback.close()
}

// QueryParams mirrors the external search request parameters spec.md
// §4.9 requires the adapter to support.
type QueryParams struct {
	Text       string
	Backends   []searchtypes.BackendID
	Categories []searchtypes.Category
	Language   string
	TimeRange  searchtypes.TimeWindow
	Page       int
	Safesearch searchtypes.SafetyLevel
}

type backendResponseResult struct {
	URL         string                 `json:"url"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	Engine      string                 `json:"engine"`
	Score       *float64               `json:"score,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Thumbnail   string                 `json:"thumbnail,omitempty"`
	PublishedAt string                 `json:"publishedDate,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

type backendResponse struct {
	Results []json.RawMessage `json:"results"`
}

// knownFields lists the JSON keys modeled explicitly by
// backendResponseResult; anything else is preserved in RawResult.Metadata.
var knownFields = map[string]struct{}{
	"url": {}, "title": {}, "content": {}, "engine": {}, "score": {},
	"category": {}, "thumbnail": {}, "publishedDate": {},
}

// Search issues one request to the backend and parses its JSON response
// into a list of RawResult, preserving any non-standard fields in
// Metadata.
func (c *Client) Search(ctx context.Context, p QueryParams) ([]searchtypes.RawResult, error) {
	u, err := c.buildURL(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "build backend request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "create backend request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "backend request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.New(apperrors.CodeBackendRateLimit, "backend rate limited")
	}
	if resp.StatusCode == http.StatusForbidden {
		if out, ferr := c.tryBrowserFallback(ctx, p); ferr == nil {
			return out, nil
		}
		return nil, apperrors.New(apperrors.CodeBackendAntiBot, "backend returned 403")
	}
	if resp.StatusCode >= 500 {
		return nil, apperrors.New(apperrors.CodeBackendTransient, fmt.Sprintf("backend returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.CodeBackendTransient, fmt.Sprintf("backend returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "read backend response", err)
	}
	if containsCaptchaMarker(body) {
		if out, ferr := c.tryBrowserFallback(ctx, p); ferr == nil {
			return out, nil
		}
		return nil, apperrors.New(apperrors.CodeBackendAntiBot, "backend response contains a captcha challenge")
	}

	var parsed backendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendTransient, "decode backend response", err)
	}

	out := make([]searchtypes.RawResult, 0, len(parsed.Results))
	for _, raw := range parsed.Results {
		r, err := parseResult(raw)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// tryBrowserFallback renders the backend's HTML results page with a
// headless browser when the JSON path has just been blocked by an
// anti-bot challenge. It only runs when the client is configured for it,
// and a failure here simply falls back to propagating the original
// anti-bot error so the circuit breaker still sees the failure.
func (c *Client) tryBrowserFallback(ctx context.Context, p QueryParams) ([]searchtypes.RawResult, error) {
	if !c.cfg.UseBrowserFallback {
		return nil, fmt.Errorf("browser fallback disabled")
	}
	fb, err := c.ensureFallback()
	if err != nil {
		return nil, fmt.Errorf("browser fallback unavailable: %w", err)
	}

	u, err := c.buildHTMLURL(p)
	if err != nil {
		return nil, fmt.Errorf("build fallback url: %w", err)
	}
	html, err := fb.fetchHTML(ctx, u, c.cfg.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("fetch fallback html: %w", err)
	}

	backend := searchtypes.BackendID("")
	if len(p.Backends) > 0 {
		backend = p.Backends[0]
	}
	results, err := parseHTMLResults(html, backend)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("browser fallback yielded no results")
	}
	return results, nil
}

func parseResult(raw json.RawMessage) (searchtypes.RawResult, error) {
	var typed backendResponseResult
	if err := json.Unmarshal(raw, &typed); err != nil {
		return searchtypes.RawResult{}, err
	}

	var everything map[string]interface{}
	_ = json.Unmarshal(raw, &everything)
	metadata := make(map[string]string)
	for k, v := range everything {
		if _, known := knownFields[k]; known {
			continue
		}
		switch vv := v.(type) {
		case string:
			metadata[k] = vv
		default:
			if encoded, err := json.Marshal(vv); err == nil {
				metadata[k] = string(encoded)
			}
		}
	}

	result := searchtypes.RawResult{
		URL:       typed.URL,
		Title:     typed.Title,
		Snippet:   typed.Content,
		Backend:   searchtypes.BackendID(typed.Engine),
		Category:  searchtypes.Category(typed.Category),
		Thumbnail: typed.Thumbnail,
		Metadata:  metadata,
	}
	if typed.Score != nil {
		result.Score = *typed.Score
		result.HasScore = true
	}
	if typed.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, typed.PublishedAt); err == nil {
			result.PublishedAt = t
		}
	}
	return result, nil
}

func (c *Client) buildURL(p QueryParams) (string, error) {
	base, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/search")
	if err != nil {
		return "", err
	}
	q := base.Query()
	q.Set("q", p.Text)
	q.Set("format", "json")
	if len(p.Backends) > 0 {
		names := make([]string, len(p.Backends))
		for i, b := range p.Backends {
			names[i] = string(b)
		}
		q.Set("engines", strings.Join(names, ","))
	}
	if len(p.Categories) > 0 {
		names := make([]string, len(p.Categories))
		for i, cat := range p.Categories {
			names[i] = string(cat)
		}
		q.Set("categories", strings.Join(names, ","))
	}
	if p.Language != "" {
		q.Set("language", p.Language)
	}
	if p.TimeRange != searchtypes.TimeWindowNone {
		q.Set("time_range", string(p.TimeRange))
	}
	if p.Page > 0 {
		q.Set("pageno", strconv.Itoa(p.Page))
	}
	q.Set("safesearch", safesearchLevel(p.Safesearch))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// buildHTMLURL builds the same request as buildURL but omits format=json,
// so the backend renders its normal HTML results theme instead of the
// JSON API response the browser fallback exists to work around.
func (c *Client) buildHTMLURL(p QueryParams) (string, error) {
	u, err := c.buildURL(p)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Del("format")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// captchaMarkers are substrings seen in anti-bot challenge pages
// returned with a 200 status by some metasearch backends and the
// upstream engines they proxy.
var captchaMarkers = []string{
	"captcha", "recaptcha", "hcaptcha", "are you a human", "are you a robot",
	"unusual traffic", "verify you are human", "access denied",
}

// containsCaptchaMarker does a cheap case-insensitive scan of a response
// body for anti-bot challenge markers, feeding §7's CodeBackendAntiBot ->
// throttle.FailureCaptcha recovery-doubling path.
func containsCaptchaMarker(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func safesearchLevel(s searchtypes.SafetyLevel) string {
	switch s {
	case searchtypes.SafetyOff:
		return "0"
	case searchtypes.SafetyModerate:
		return "1"
	case searchtypes.SafetyStrict:
		return "2"
	default:
		return "1"
	}
}
