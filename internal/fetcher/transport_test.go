package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAdaptiveLimiter_Adjusts(t *testing.T) {
	t.Parallel()

	a := NewAdaptiveLimiter("api.example.com", 10, 10)
	a.OnSuccess()
	assert.InDelta(t, 12.0, float64(a.Limit()), 0.001)

	for i := 0; i < 10; i++ {
		a.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(a.Limit()), 0.001)

	for i := 0; i < 10; i++ {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(a.Limit()), 0.001)
}

func TestPerMinute(t *testing.T) {
	t.Parallel()

	a := PerMinute("dapi.kakao.com", 120)
	assert.InDelta(t, 2.0, float64(a.Limit()), 0.001)

	small := PerMinute("x", 3)
	assert.InDelta(t, 0.05, float64(small.Limit()), 1e-9)
}

func TestPacedTransport_TunesFromStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	lim := NewAdaptiveLimiter(u.Host, 100, 100)
	client := NewHTTPClient(5*time.Second, lim)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.InDelta(t, 50.0, float64(lim.Limit()), 0.001)

	resp, err = client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.InDelta(t, 60.0, float64(lim.Limit()), 0.001)
}

func TestPacedTransport_ContextCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	lim := NewAdaptiveLimiter(u.Host, rate.Every(time.Hour), 1)
	tr := NewPacedTransport(nil, lim)
	client := &http.Client{Transport: tr}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.Error(t, err)
}

func TestPacedTransport_UnknownHostPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewPacedTransport(nil)
	assert.Nil(t, tr.LimiterFor("nowhere"))
	tr.SetLimiter(PerMinute("nowhere", 60))
	assert.NotNil(t, tr.LimiterFor("nowhere"))

	resp, err := (&http.Client{Transport: tr}).Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
