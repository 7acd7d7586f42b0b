package naver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/pkg/apierror"
)

func TestLocalSearch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search/local.json", r.URL.Path)
		assert.Equal(t, "id", r.Header.Get("X-Naver-Client-Id"))
		assert.Equal(t, "secret", r.Header.Get("X-Naver-Client-Secret"))
		assert.Equal(t, "에이블짐", r.URL.Query().Get("query"))

		_, _ = w.Write([]byte(`{"total":1,"start":1,"display":1,"items":[{
			"title":"<b>에이블짐</b> 역삼점","category":"스포츠시설>헬스장",
			"telephone":"","address":"서울특별시 강남구 역삼동 123",
			"roadAddress":"서울특별시 강남구 테헤란로 123","mapx":"1270362000","mapy":"375001000"
		}]}`))
	}))
	defer srv.Close()

	client := NewClient("id", "secret", WithBaseURL(srv.URL))
	resp, err := client.LocalSearch(context.Background(), "에이블짐")

	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	item := resp.Items[0]
	assert.Equal(t, "에이블짐 역삼점", item.PlainTitle())

	lat, lng, ok := item.LatLng()
	require.True(t, ok)
	assert.InDelta(t, 37.5001, lat, 1e-9)
	assert.InDelta(t, 127.0362, lng, 1e-9)
}

func TestItem_LatLngMalformed(t *testing.T) {
	t.Parallel()

	_, _, ok := Item{MapX: "abc", MapY: "1"}.LatLng()
	assert.False(t, ok)
	_, _, ok = Item{}.LatLng()
	assert.False(t, ok)
}

func TestLocalSearch_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errorMessage":"Rate limit exceeded","errorCode":"012"}`))
	}))
	defer srv.Close()

	_, err := NewClient("id", "secret", WithBaseURL(srv.URL)).LocalSearch(context.Background(), "x")
	var ae *apierror.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "naver", ae.Service)
	assert.Equal(t, http.StatusTooManyRequests, ae.StatusCode)
}
