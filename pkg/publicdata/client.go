// Package publicdata provides a client for the data.go.kr local licensing
// feed of fitness facilities (체력단련장업).
package publicdata

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/pkg/apierror"
)

const defaultBaseURL = "https://apis.data.go.kr/1741000/fitness_centers/info"

// Client performs public-data feed operations.
type Client interface {
	// Search returns facilities whose business name matches query.
	Search(ctx context.Context, query string, page int) (*Page, error)
	// List returns one page of the full feed.
	List(ctx context.Context, page, size int) (*Page, error)
}

// Facility is one licensed facility row. Lat/Lng are WGS84 strings and may
// be empty.
type Facility struct {
	ManageNo    string `json:"mgtNo"`
	Name        string `json:"bplcNm"`
	RoadAddress string `json:"rdnWhlAddr"`
	LotAddress  string `json:"siteWhlAddr"`
	Phone       string `json:"siteTel"`
	Lat         string `json:"lat"`
	Lng         string `json:"lng"`
	Status      string `json:"trdStateNm"`
	UpdatedAt   string `json:"lastModTs"`
}

// Open reports whether the facility is currently licensed as operating.
func (f Facility) Open() bool {
	return f.Status == "" || strings.HasPrefix(f.Status, "영업")
}

// Page is one page of results.
type Page struct {
	Items      []Facility
	TotalCount int
	PageNo     int
	NumOfRows  int
}

// HasMore reports whether further pages exist.
func (p *Page) HasMore() bool {
	return p.PageNo*p.NumOfRows < p.TotalCount
}

type envelope struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items      itemList `json:"items"`
			TotalCount int      `json:"totalCount"`
			PageNo     int      `json:"pageNo"`
			NumOfRows  int      `json:"numOfRows"`
		} `json:"body"`
	} `json:"response"`
}

// itemList accepts the feed's three encodings of items: an object wrapping
// an array, an object wrapping a single item, or an empty string.
type itemList []Facility

func (l *itemList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '"' || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	var wrapper struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	raw := bytes.TrimSpace(wrapper.Item)
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	if raw[0] == '[' {
		var items []Facility
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var one Facility
	if err := json.Unmarshal(raw, &one); err != nil {
		return err
	}
	*l = []Facility{one}
	return nil
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
	serviceKey string
	baseURL    string
	http       *http.Client
}

// NewClient creates a public-data feed client.
func NewClient(serviceKey string, opts ...Option) Client {
	c := &httpClient{
		serviceKey: serviceKey,
		baseURL:    defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, page int) (*Page, error) {
	params := url.Values{}
	params.Set("bplcNm", query)
	return c.get(ctx, params, page, 20)
}

func (c *httpClient) List(ctx context.Context, page, size int) (*Page, error) {
	return c.get(ctx, url.Values{}, page, size)
}

func (c *httpClient) get(ctx context.Context, params url.Values, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 100
	}
	params.Set("serviceKey", c.serviceKey)
	params.Set("pageNo", strconv.Itoa(page))
	params.Set("numOfRows", strconv.Itoa(size))
	params.Set("type", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "publicdata: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "publicdata: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "publicdata: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apierror.FromResponse("publicdata", resp, body)
	}

	// Gateway errors arrive as XML regardless of the requested type.
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '<' {
		return nil, gatewayError(string(trimmed))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "publicdata: unmarshal response")
	}

	code := env.Response.Header.ResultCode
	switch code {
	case "", "00", "0", "03":
	default:
		return nil, &apierror.Error{
			Service:    "publicdata",
			StatusCode: statusForResultCode(code),
			Body:       code + " " + env.Response.Header.ResultMsg,
		}
	}

	b := env.Response.Body
	return &Page{
		Items:      b.Items,
		TotalCount: b.TotalCount,
		PageNo:     b.PageNo,
		NumOfRows:  b.NumOfRows,
	}, nil
}

// statusForResultCode maps data.go.kr result codes onto HTTP statuses.
func statusForResultCode(code string) int {
	switch code {
	case "22":
		return http.StatusTooManyRequests
	case "20":
		return http.StatusForbidden
	case "30", "31", "32", "33":
		return http.StatusUnauthorized
	case "05":
		return http.StatusGatewayTimeout
	case "04":
		return http.StatusBadGateway
	case "10", "11", "12":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func gatewayError(body string) error {
	status := http.StatusBadGateway
	switch {
	case strings.Contains(body, "LIMITED_NUMBER_OF_SERVICE_REQUESTS"):
		status = http.StatusTooManyRequests
	case strings.Contains(body, "SERVICE_KEY"):
		status = http.StatusUnauthorized
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return &apierror.Error{Service: "publicdata", StatusCode: status, Body: body}
}
