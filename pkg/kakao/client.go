// Package kakao provides a client for the Kakao Local keyword search API.
package kakao

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

const defaultBaseURL = "https://dapi.kakao.com"

// Client performs Kakao Local API operations.
type Client interface {
	KeywordSearch(ctx context.Context, query string) (*KeywordResponse, error)
}

// KeywordResponse is the response from keyword search.
type KeywordResponse struct {
	Documents []Document `json:"documents"`
	Meta      Meta       `json:"meta"`
}

// Document is one place. X is longitude and Y is latitude, both as strings.
type Document struct {
	ID              string `json:"id"`
	PlaceName       string `json:"place_name"`
	CategoryName    string `json:"category_name"`
	CategoryGroup   string `json:"category_group_code"`
	Phone           string `json:"phone"`
	AddressName     string `json:"address_name"`
	RoadAddressName string `json:"road_address_name"`
	X               string `json:"x"`
	Y               string `json:"y"`
	PlaceURL        string `json:"place_url"`
}

// Meta holds paging information.
type Meta struct {
	TotalCount    int  `json:"total_count"`
	PageableCount int  `json:"pageable_count"`
	IsEnd         bool `json:"is_end"`
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

// WithPageSize sets the number of documents requested (1-15).
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= 15 {
			c.size = n
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	size    int
	http    *http.Client
}

// NewClient creates a Kakao Local API client using a REST API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		size:    15,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) KeywordSearch(ctx context.Context, query string) (*KeywordResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("size", strconv.Itoa(c.size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/local/search/keyword.json?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "kakao: create request")
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "kakao: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "kakao: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apierror.FromResponse("kakao", resp, body)
	}

	var result KeywordResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "kakao: unmarshal response")
	}
	return &result, nil
}
