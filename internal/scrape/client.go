// Package scrape fetches news homepages and article pages and turns them into
// plain article records.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultBodyByteLimit = 4 * 1024 * 1024

	defaultUserAgent = "MediaTrends/1.0 (+https://horse.fit/mediatrends)"
)

type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Client fetches HTML pages with a bounded body size.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	bodyLimit int64
	userAgent string
}

// Page is a fetched response body with the URL it was finally served from.
type Page struct {
	URL         *url.URL
	ContentType string
	Body        []byte
}

func NewClient(opts FetchOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:      client,
		timeout:   timeout,
		bodyLimit: bodyLimit,
		userAgent: userAgent,
	}
}

func (c *Client) Fetch(ctx context.Context, rawURL string) (Page, error) {
	page := strings.TrimSpace(rawURL)
	if page == "" {
		return Page{}, fmt.Errorf("page url is required")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "az,en;q=0.8,tr;q=0.6,ru;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("fetch %s status %d", page, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.bodyLimit))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}

	final := resp.Request.URL
	if final == nil {
		if final, err = url.Parse(page); err != nil {
			return Page{}, fmt.Errorf("parse page url: %w", err)
		}
	}
	return Page{
		URL:         final,
		ContentType: strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type"))),
		Body:        body,
	}, nil
}
