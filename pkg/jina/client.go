// Package jina wraps the Jina reader (r.jina.ai) and search (s.jina.ai)
// endpoints used to pull venue details from the open web.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/pkg/apierror"
)

// Client reads pages and searches the web.
type Client interface {
	// Read returns the page at targetURL rendered as markdown.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the reader envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is one rendered page.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage reports tokens billed for a read.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the search envelope. An empty result set comes back
// with Code 422 and no error.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one hit with its page content inlined.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption narrows a search.
type SearchOption func(url.Values)

// WithSiteFilter restricts hits to domain.
func WithSiteFilter(domain string) SearchOption {
	return func(q url.Values) { q.Set("site", domain) }
}

// WithLocale sets the country (gl) and language (hl) the search ranks for.
func WithLocale(country, language string) SearchOption {
	return func(q url.Values) {
		if country != "" {
			q.Set("gl", country)
		}
		if language != "" {
			q.Set("hl", language)
		}
	}
}

// WithCount caps the number of hits returned.
func WithCount(n int) SearchOption {
	return func(q url.Values) {
		if n > 0 {
			q.Set("num", strconv.Itoa(n))
		}
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the reader endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithSearchBaseURL overrides the search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBaseURL = u }
}

// WithHTTPClient replaces the HTTP client, typically with a paced one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey        string
	baseURL       string
	searchBaseURL string
	http          *http.Client
}

// NewClient creates a client. An empty apiKey sends anonymous requests,
// which Jina serves at a lower rate.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	var out ReadResponse
	headers := map[string]string{"X-Return-Format": "markdown"}
	if _, err := c.get(ctx, c.baseURL+"/"+targetURL, headers, &out); err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	reqURL := c.searchBaseURL + "/" + url.PathEscape(query)
	params := url.Values{}
	for _, opt := range opts {
		opt(params)
	}
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var out SearchResponse
	status, err := c.get(ctx, reqURL, nil, &out)
	if status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: status}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "jina: search %q", query)
	}
	return &out, nil
}

// get issues one GET and decodes a 200 body into out. Retries belong to the
// caller's fetch executor.
func (c *httpClient) get(ctx context.Context, reqURL string, headers map[string]string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, eris.Wrap(err, "read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, apierror.FromResponse("jina", resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, eris.Wrap(err, "unmarshal response")
	}
	return resp.StatusCode, nil
}
