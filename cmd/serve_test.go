package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/monitoring"
	"github.com/sells-group/venue-fusion/internal/ratelimit"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/scheduler"
	"github.com/sells-group/venue-fusion/internal/store"
)

// fakeUpdater records manual runs and signals each on done. A non-nil
// release holds every run until it is closed.
type fakeUpdater struct {
	done    chan model.UpdateType
	release chan struct{}
}

func (f *fakeUpdater) RunUpdate(_ context.Context, typ model.UpdateType) (*model.RunReport, error) {
	f.done <- typ
	if f.release != nil {
		<-f.release
	}
	return &model.RunReport{ID: "run-1", Type: typ, State: model.RunCompleted}, nil
}

func newTestServer(t *testing.T) (*controlServer, *fakeUpdater) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "venues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	up := &fakeUpdater{done: make(chan model.UpdateType, 1)}
	sched := scheduler.New(scheduler.DefaultConfig(), up, st)
	t.Cleanup(sched.Stop)

	lim := ratelimit.New()
	lim.Register("kakao_local", ratelimit.Budget{PerMinute: 100})
	handler := resilience.NewHandler(resilience.HandlerConfig{})
	env := &appEnv{
		Store:     st,
		Limiter:   lim,
		Handler:   handler,
		Breakers:  resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
		Scheduler: sched,
		Alerter:   monitoring.NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.2}),
		Collector: monitoring.NewCollector(st, handler),
	}
	return newControlServer(context.Background(), env, scheduler.DefaultConfig()), up
}

func serve(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(t, buildRouter(s), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_CORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	buildRouter(s).ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Status(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(t, buildRouter(s), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Scheduler scheduler.Status      `json:"scheduler"`
		Venues    *model.VenueStats     `json:"venues"`
		Freshness *model.FreshnessStats `json:"freshness"`
		DLQDepth  int                   `json:"dlq_depth"`
		Limits    []ratelimit.Usage     `json:"limits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Scheduler.Enabled)
	assert.Equal(t, "every 3 day(s) at 06:00", body.Scheduler.Schedule)
	require.NotNil(t, body.Venues)
	assert.Zero(t, body.Venues.Total)
	require.NotNil(t, body.Freshness)
	assert.Zero(t, body.DLQDepth)
	require.Len(t, body.Limits, 1)
	assert.Equal(t, "kakao_local", body.Limits[0].ID)
}

func TestRouter_SchedulerStartStop(t *testing.T) {
	s, _ := newTestServer(t)
	h := buildRouter(s)

	rr := serve(t, h, http.MethodPost, "/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.True(t, st.Enabled)
	require.NotNil(t, st.NextRun)
	assert.True(t, st.NextRun.After(time.Now()))

	rr = serve(t, h, http.MethodPost, "/scheduler/start", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(t, h, http.MethodPost, "/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.False(t, st.Enabled)
	assert.Nil(t, st.NextRun)
}

func TestRouter_StartRun(t *testing.T) {
	s, up := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"type": "incremental"})

	rr := serve(t, buildRouter(s), http.MethodPost, "/runs", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "incremental", resp["type"])

	select {
	case typ := <-up.done:
		assert.Equal(t, model.UpdateIncremental, typ)
	case <-time.After(2 * time.Second):
		t.Fatal("manual run was not started")
	}
}

func TestRouter_StartRun_DefaultsToFull(t *testing.T) {
	s, up := newTestServer(t)

	rr := serve(t, buildRouter(s), http.MethodPost, "/runs", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	select {
	case typ := <-up.done:
		assert.Equal(t, model.UpdateFull, typ)
	case <-time.After(2 * time.Second):
		t.Fatal("manual run was not started")
	}
}

func TestRouter_StartRun_ConcurrentRequestsStartOneRun(t *testing.T) {
	s, up := newTestServer(t)
	up.release = make(chan struct{})
	h := buildRouter(s)

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = serve(t, h, http.MethodPost, "/runs", []byte(`{"type":"full"}`)).Code
		}()
	}
	wg.Wait()

	accepted, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, conflicts)
	assert.True(t, s.env.Scheduler.Status().IsRunning)

	select {
	case typ := <-up.done:
		assert.Equal(t, model.UpdateFull, typ)
	case <-time.After(2 * time.Second):
		t.Fatal("manual run was not started")
	}
	close(up.release)
	assert.Eventually(t, func() bool { return !s.env.Scheduler.Status().IsRunning }, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_StartRun_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := buildRouter(s)

	rr := serve(t, h, http.MethodPost, "/runs", []byte(`{"type":"weekly"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown update type")

	rr = serve(t, h, http.MethodPost, "/runs", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_ListRuns(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, s.env.Store.SaveRun(ctx, &model.RunReport{
		ID: "run-a", Type: model.UpdateFull, StartedAt: started, State: model.RunCompleted, Success: 3, Total: 3,
	}))
	require.NoError(t, s.env.Store.SaveRun(ctx, &model.RunReport{
		ID: "run-b", Type: model.UpdateIncremental, StartedAt: started.Add(time.Hour), State: model.RunFailed, Failed: 1, Total: 1,
	}))
	h := buildRouter(s)

	rr := serve(t, h, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.RunReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rr = serve(t, h, http.MethodGet, "/runs?state=failed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-b", runs[0].ID)
}

func TestRouter_LastRun_NoneYet(t *testing.T) {
	s, _ := newTestServer(t)
	rr := serve(t, buildRouter(s), http.MethodGet, "/runs/last", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	s.env.Handler.HandleError(model.ErrorContext{
		EntityName: "강남 헬스",
		Source:     "kakao_local",
		Err:        eris.New("429 too many requests"),
	})
	ent := model.Entity{Name: "폐업 헬스", Address: "서울"}
	require.NoError(t, s.env.Store.EnqueueDLQ(ctx,
		resilience.NewDLQEntry(ent, "run-1", "public_data", eris.New("record not found"), 3)))

	rr := serve(t, buildRouter(s), http.MethodGet, "/errors?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body errorsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Recent, 1)
	assert.Equal(t, resilience.TypeRateLimit, body.Recent[0].Type)
	assert.Equal(t, 1, body.Stats.TotalErrors)
	assert.Equal(t, resilience.TypeRateLimit, body.Analysis.MostCommon)
	require.Len(t, body.DLQ, 1)
	assert.Equal(t, "폐업 헬스", body.DLQ[0].Entity.Name)
}

func TestRouter_Metrics(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.env.Store.SaveRun(ctx, &model.RunReport{
		ID: "run-a", Type: model.UpdateFull, StartedAt: time.Now().UTC().Add(-time.Hour),
		State: model.RunCompleted, Success: 5, Failed: 5, Total: 10, AvgQuality: 0.8,
	}))

	rr := serve(t, buildRouter(s), http.MethodGet, "/metrics?hours=24", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Metrics monitoring.MetricsSnapshot `json:"metrics"`
		Alerts  []monitoring.Alert         `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Metrics.RunsTotal)
	require.NotEmpty(t, body.Alerts)
	assert.Equal(t, monitoring.AlertEntityFailureRate, body.Alerts[0].Type)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/runs?limit=7&bad=x&neg=-2", nil)
	assert.Equal(t, 7, queryInt(req, "limit", 20))
	assert.Equal(t, 20, queryInt(req, "bad", 20))
	assert.Equal(t, 20, queryInt(req, "neg", 20))
	assert.Equal(t, 20, queryInt(req, "missing", 20))
}
