package upstream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultUserAgent is the browser identity presented on every upstream request.
// The origin serves different markup to non-browser agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

var defaultHeaders = map[string]string{
	"User-Agent":      DefaultUserAgent,
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
	"Cache-Control":   "no-cache",
	"Pragma":          "no-cache",
}

// Client fetches resources from the upstream origin with a fixed browser
// header set. It follows redirects and never caches.
type Client struct {
	host string
	hc   *http.Client
	log  *slog.Logger
}

// New returns a Client rooted at the given origin host (scheme + authority,
// no trailing slash).
func New(host string, log *slog.Logger) *Client {
	return &Client{
		host: host,
		hc:   &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// Host returns the configured origin host.
func (c *Client) Host() string { return c.host }

// NewCookie mints a fresh anti-bot cookie value accepted by the origin.
func NewCookie() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "__ddg2_=" + hex.EncodeToString(b)
}

// Headers builds a header set carrying the session cookie and referrer,
// to be merged over the default browser headers by Get.
func Headers(cookie, referer string) http.Header {
	h := http.Header{}
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

// Get issues a GET to rawURL with the default browser headers; entries in
// extra override defaults. Transport failures are returned as errors; any
// HTTP status is returned to the caller as-is.
func (c *Client) Get(ctx context.Context, rawURL string, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", rawURL, err)
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	return resp, nil
}

// Bytes fetches rawURL and returns the whole response body, failing on
// non-2xx statuses.
func (c *Client) Bytes(ctx context.Context, rawURL string, extra http.Header) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, extra)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return b, nil
}

// Text is Bytes with a string result.
func (c *Client) Text(ctx context.Context, rawURL string, extra http.Header) (string, error) {
	b, err := c.Bytes(ctx, rawURL, extra)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Origin returns the scheme://host part of rawURL, or "" if it cannot
// be parsed.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
