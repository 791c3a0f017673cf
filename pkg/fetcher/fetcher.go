package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Getter issues a single GET. Sessions implement it.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// TransportError wraps a failed request or a non-200 response
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports a page that arrived but lacks the expected structure
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

type Config struct {
	BaseURL      string
	SellerParams map[string]string
}

// Client builds the three page URLs for a release and extracts their
// fragments. Each call issues exactly one GET and never retries.
type Client struct {
	baseURL      string
	sellerParams url.Values
}

func NewClient(config Config) *Client {
	base := strings.TrimRight(config.BaseURL, "/")
	if base == "" {
		base = "https://www.discogs.com"
	}
	params := url.Values{}
	for k, v := range config.SellerParams {
		params.Set(k, v)
	}
	return &Client{baseURL: base, sellerParams: params}
}

func (c *Client) DetailURL(releaseID string) string {
	return c.baseURL + "/release/" + url.PathEscape(releaseID)
}

func (c *Client) StatsURL(releaseID string) string {
	return c.baseURL + "/release/stats/" + url.PathEscape(releaseID)
}

func (c *Client) SellersURL(releaseID string) string {
	u := c.baseURL + "/sell/release/" + url.PathEscape(releaseID)
	if len(c.sellerParams) > 0 {
		u += "?" + c.sellerParams.Encode()
	}
	return u
}

func (c *Client) document(ctx context.Context, g Getter, rawURL string) (*goquery.Document, error) {
	body, err := g.Get(ctx, rawURL)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: rawURL, Reason: err.Error()}
	}
	return doc, nil
}
