package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/pkg/apierror"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.location")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.regularOpeningHours")

		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "에이블짐 역삼점", body.TextQuery)
		assert.Equal(t, "ko", body.LanguageCode)
		assert.Equal(t, "KR", body.RegionCode)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"places":[{
			"id":"abc",
			"displayName":{"text":"에이블짐 역삼점","languageCode":"ko"},
			"formattedAddress":"대한민국 서울특별시 강남구 테헤란로 123",
			"location":{"latitude":37.5001,"longitude":127.0362},
			"nationalPhoneNumber":"02-555-1234",
			"rating":4.6,
			"userRatingCount":210,
			"regularOpeningHours":{"periods":[{"open":{"day":1,"hour":6,"minute":0},"close":{"day":1,"hour":23,"minute":0}}]}
		}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "에이블짐 역삼점")

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "에이블짐 역삼점", p.DisplayName.Text)
	assert.InDelta(t, 37.5001, p.Location.Latitude, 1e-9)
	assert.Equal(t, "02-555-1234", p.NationalPhoneNumber)
	assert.Equal(t, 210, p.UserRatingCount)
	require.NotNil(t, p.RegularOpeningHours)
	require.Len(t, p.RegularOpeningHours.Periods, 1)
	require.NotNil(t, p.RegularOpeningHours.Periods[0].Close)
	assert.Equal(t, 23, p.RegularOpeningHours.Periods[0].Close.Hour)
}

func TestTextSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithLanguage("en", "US"))
	resp, err := client.TextSearch(context.Background(), "nothing")

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestTextSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), "x")

	require.Error(t, err)
	var ae *apierror.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "google", ae.Service)
	assert.Equal(t, http.StatusTooManyRequests, ae.StatusCode)
	assert.Equal(t, 12*time.Second, ae.RetryAfter)
}

func TestTextSearch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := client.TextSearch(ctx, "x")
	require.Error(t, err)
}
