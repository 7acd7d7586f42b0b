// Package naver provides a client for the Naver local search API.
package naver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/pkg/apierror"
)

const defaultBaseURL = "https://openapi.naver.com"

// Client performs Naver search API operations.
type Client interface {
	LocalSearch(ctx context.Context, query string) (*LocalResponse, error)
}

// LocalResponse is the response from local search.
type LocalResponse struct {
	LastBuildDate string `json:"lastBuildDate"`
	Total         int    `json:"total"`
	Start         int    `json:"start"`
	Display       int    `json:"display"`
	Items         []Item `json:"items"`
}

// Item is one place. Title may contain <b> highlight tags; MapX/MapY are
// WGS84 longitude/latitude scaled by 1e7.
type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Telephone   string `json:"telephone"`
	Address     string `json:"address"`
	RoadAddress string `json:"roadAddress"`
	MapX        string `json:"mapx"`
	MapY        string `json:"mapy"`
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// PlainTitle returns the title without markup.
func (i Item) PlainTitle() string {
	return strings.TrimSpace(tagRe.ReplaceAllString(i.Title, ""))
}

// LatLng decodes MapY/MapX. ok is false if either is missing or malformed.
func (i Item) LatLng() (lat, lng float64, ok bool) {
	x, errX := strconv.ParseFloat(strings.TrimSpace(i.MapX), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(i.MapY), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return y / 1e7, x / 1e7, true
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	http         *http.Client
}

// NewClient creates a Naver search API client.
func NewClient(clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) LocalSearch(ctx context.Context, query string) (*LocalResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("display", "5")
	params.Set("sort", "random")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/search/local.json?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "naver: create request")
	}
	req.Header.Set("X-Naver-Client-Id", c.clientID)
	req.Header.Set("X-Naver-Client-Secret", c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "naver: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "naver: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apierror.FromResponse("naver", resp, body)
	}

	var result LocalResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "naver: unmarshal response")
	}
	return &result, nil
}
