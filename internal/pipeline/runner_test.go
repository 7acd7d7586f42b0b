package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/batch"
	"github.com/sells-group/venue-fusion/internal/connector"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/quality"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/snapshot"
	"github.com/sells-group/venue-fusion/internal/store"
)

type feedConnector struct {
	stubConnector
	records []model.SourceRecord
	listErr error
}

func (f *feedConnector) ListAll(context.Context) ([]model.SourceRecord, error) {
	return f.records, f.listErr
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []*model.RunReport
}

func (n *recordingNotifier) NotifyRun(_ context.Context, rep *model.RunReport, _ resilience.Analysis) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, rep)
	return 0
}

type failingSnapshot struct{ calls int }

func (f *failingSnapshot) Write([]model.MergedRecord, any) (string, error) {
	f.calls++
	return "", eris.New("snapshot: create data/backups: permission denied")
}

func newRunnerStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "venues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// upsertProcess persists each seed as-is and fails entities named "폐업".
func upsertProcess(st store.Store) batch.ProcessFunc {
	return func(ctx context.Context, ent model.Entity) (*model.MergedRecord, error) {
		if ent.Name == "폐업" {
			return nil, resilience.NewConnectorError(connector.IDPublicData, resilience.TypeParseError, eris.New("closed venue"))
		}
		rec := &model.MergedRecord{
			Venue:       model.Venue{Name: ent.Name, Address: ent.Address},
			Source:      connector.IDPublicData,
			Sources:     []string{connector.IDPublicData},
			Confidence:  0.9,
			DataQuality: 0.8,
			MemberCount: 1,
		}
		return st.Upsert(ctx, rec)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

type runnerFixture struct {
	store    *store.SQLiteStore
	dataDir  string
	notifier *recordingNotifier
	feed     *feedConnector
	runner   *Runner
}

func newRunnerFixture(t *testing.T, process func(store.Store) batch.ProcessFunc, snap SnapshotWriter) *runnerFixture {
	t.Helper()
	st := newRunnerStore(t)
	dir := filepath.Join(t.TempDir(), "data")
	if snap == nil {
		snap = snapshot.NewWriter(dir, "venue-fusion", "test")
	}
	feed := &feedConnector{stubConnector: stubConnector{id: connector.IDPublicData}}
	reg := connector.NewRegistry()
	reg.Register(feed)

	n := &recordingNotifier{}
	orch := batch.New(process(st), batch.WithDLQ(st), batch.WithSleep(noSleep))
	r := NewRunner(RunnerConfig{Batch: batch.Config{BatchSize: 2, Concurrency: 2}, PageSize: 2}, RunnerDeps{
		Orchestrator: orch,
		Connectors:   reg,
		Store:        st,
		Snapshot:     snap,
		Notifier:     n,
		Analyzer:     resilience.NewHandler(resilience.HandlerConfig{}),
	})
	return &runnerFixture{store: st, dataDir: dir, notifier: n, feed: feed, runner: r}
}

func seedRecord(name, addr string) model.SourceRecord {
	return venue(connector.IDPublicData, 0.9, name, addr, "", 37.5, 127.03)
}

func TestRunner_FullRun(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	f.feed.records = []model.SourceRecord{
		seedRecord("강남 헬스", "서울 강남구 1"),
		seedRecord("역삼 짐", "서울 강남구 2"),
		seedRecord("강남  헬스", "서울 강남구 1"),
		seedRecord("폐업", "서울 강남구 3"),
	}
	ctx := context.Background()

	rep, err := f.runner.RunUpdate(ctx, model.UpdateFull)
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, model.RunCompleted, rep.State)
	assert.Equal(t, model.UpdateFull, rep.Type)
	assert.Equal(t, 3, rep.Total, "duplicate seeds are dropped")
	assert.Equal(t, 2, rep.Success)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.ErrorSample, 1)
	assert.Equal(t, "폐업", rep.ErrorSample[0].EntityName)
	assert.InDelta(t, 0.8, rep.AvgQuality, 1e-9)
	assert.NotEmpty(t, rep.ID)

	snap, err := snapshot.Read(filepath.Join(f.dataDir, snapshot.FileName))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Metadata.TotalCount)
	assert.Len(t, snap.Records, 2)

	runs, err := f.store.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.ID, runs[0].ID)

	dlq, err := f.store.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dlq)

	require.Len(t, f.notifier.reports, 1)
	assert.Same(t, rep, f.notifier.reports[0])
	assert.Same(t, rep, f.runner.Last())
}

func TestRunner_FullRunWithoutFeedsUsesPersistedVenues(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	ctx := context.Background()
	_, err := f.store.UpsertMany(ctx, []model.MergedRecord{
		{Venue: model.Venue{Name: "A", Address: "a"}, Source: "kakao_local"},
		{Venue: model.Venue{Name: "B", Address: "b"}, Source: "kakao_local"},
		{Venue: model.Venue{Name: "C", Address: "c"}, Source: "kakao_local"},
	})
	require.NoError(t, err)

	r := NewRunner(RunnerConfig{PageSize: 2}, RunnerDeps{Connectors: connector.NewRegistry(), Store: f.store})
	ents, err := r.Entities(ctx, model.UpdateFull)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	for _, e := range ents {
		assert.Nil(t, e.Seed)
	}
}

func TestRunner_IncrementalSelectsStaleVenues(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := f.store.UpsertMany(ctx, []model.MergedRecord{
		{Venue: model.Venue{Name: "오래된 헬스", Address: "서울 1"}, Source: "kakao_local", UpdatedAt: now.Add(-10 * 24 * time.Hour)},
		{Venue: model.Venue{Name: "새 헬스", Address: "서울 2"}, Source: "kakao_local", UpdatedAt: now},
	})
	require.NoError(t, err)

	ents, err := f.runner.Entities(ctx, model.UpdateIncremental)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "오래된 헬스", ents[0].Name)
	assert.Equal(t, "서울 1", ents[0].Address)
	assert.Nil(t, ents[0].Seed)
}

func TestRunner_IncrementalUpdatesVenueInPlace(t *testing.T) {
	google := &stubConnector{id: connector.IDGooglePlaces, byQuery: map[string][]model.SourceRecord{
		gymName: {venue(connector.IDGooglePlaces, 0.85, gymName, "서울특별시 강남구 테헤란로 123, 2층", "02-555-1234", 37.5001, 127.0301)},
	}}
	fusing := func(st store.Store) batch.ProcessFunc { return newPipeline(st, google).Process }
	f := newRunnerFixture(t, fusing, nil)
	ctx := context.Background()

	_, err := f.store.UpsertMany(ctx, []model.MergedRecord{{
		Venue:     model.Venue{Name: gymName, Address: "서울 강남구 테헤란로 123", Latitude: 37.5, Longitude: 127.03},
		Source:    connector.IDKakaoLocal,
		Sources:   []string{connector.IDKakaoLocal},
		UpdatedAt: time.Now().UTC().Add(-20 * 24 * time.Hour),
	}})
	require.NoError(t, err)
	stored, err := f.store.FindByName(ctx, gymName)
	require.NoError(t, err)
	require.NotNil(t, stored)

	for i := range 2 {
		f.runner.now = func() time.Time { return time.Now().Add(time.Duration(i) * 30 * 24 * time.Hour) }
		rep, err := f.runner.RunUpdate(ctx, model.UpdateIncremental)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Total, "run %d", i+1)
		assert.Equal(t, 1, rep.Success, "run %d", i+1)
	}

	all, err := f.runner.Venues(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, stored.ID, all[0].ID)
	assert.Contains(t, all[0].Address, "2층")
	assert.Contains(t, all[0].Sources, connector.IDGooglePlaces)
}

func TestRunner_FullRunDropsInvalidSeeds(t *testing.T) {
	google := &stubConnector{id: connector.IDGooglePlaces}
	fusing := func(st store.Store) batch.ProcessFunc { return newPipeline(st, google).Process }
	f := newRunnerFixture(t, fusing, nil)
	invalid := map[int]bool{3: true, 7: true, 11: true}
	for i := range 15 {
		rec := seedRecord(fmt.Sprintf("헬스장 %02d", i), fmt.Sprintf("서울 강남구 테헤란로 %d", 100+i))
		rec.Latitude += float64(i) * 0.001
		if invalid[i] {
			rec.Latitude = 999
		}
		f.feed.records = append(f.feed.records, rec)
	}
	ctx := context.Background()

	rep, err := f.runner.RunUpdate(ctx, model.UpdateFull)
	require.NoError(t, err)
	assert.Equal(t, 15, rep.Total)
	assert.Equal(t, 12, rep.Success)
	assert.Equal(t, 3, rep.Failed)
	for _, e := range rep.ErrorSample {
		assert.Equal(t, string(resilience.TypeParseError), e.ErrorType, e.EntityName)
	}

	all, err := f.runner.Venues(ctx)
	require.NoError(t, err)
	require.Len(t, all, 12)
	for _, v := range all {
		assert.NotEqual(t, 999.0, v.Latitude, v.Name)
		for i := range invalid {
			assert.NotEqual(t, fmt.Sprintf("헬스장 %02d", i), v.Name)
		}
	}

	snap, err := snapshot.Read(filepath.Join(f.dataDir, snapshot.FileName))
	require.NoError(t, err)
	assert.Len(t, snap.Records, 12)

	dlq, err := f.store.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dlq)
}

func TestRunner_EveryFeedFails(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	f.feed.listErr = eris.New("public_data: unexpected status 503")

	rep, err := f.runner.RunUpdate(context.Background(), model.UpdateFull)
	assert.Error(t, err)
	assert.Nil(t, rep)
	assert.Empty(t, f.notifier.reports)
}

func TestRunner_UnknownType(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	_, err := f.runner.Entities(context.Background(), "partial")
	assert.Error(t, err)
}

func TestRunner_SnapshotFailureIsFatal(t *testing.T) {
	snap := &failingSnapshot{}
	f := newRunnerFixture(t, upsertProcess, snap)
	f.feed.records = []model.SourceRecord{seedRecord("강남 헬스", "서울 강남구 1")}

	rep, err := f.runner.RunUpdate(context.Background(), model.UpdateFull)
	require.Error(t, err)
	var fatal *batch.FatalError
	assert.True(t, errors.As(err, &fatal))
	require.NotNil(t, rep)
	assert.Equal(t, model.RunFailed, rep.State)
	assert.Equal(t, 1, rep.Success)
	assert.Equal(t, 1, snap.calls)

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunFailed, runs[0].State)
}

func TestRunner_FatalProcessSkipsSnapshot(t *testing.T) {
	snap := &failingSnapshot{}
	fatalProcess := func(store.Store) batch.ProcessFunc {
		return func(context.Context, model.Entity) (*model.MergedRecord, error) {
			return nil, batch.Fatal(eris.New("failed to connect to database"))
		}
	}
	f := newRunnerFixture(t, fatalProcess, snap)
	f.feed.records = []model.SourceRecord{seedRecord("A", "a"), seedRecord("B", "b"), seedRecord("C", "c")}

	rep, err := f.runner.RunUpdate(context.Background(), model.UpdateFull)
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, model.RunFailed, rep.State)
	assert.Zero(t, snap.calls)
	require.Len(t, f.notifier.reports, 1)
}

func TestRunner_Revalidate(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	ctx := context.Background()
	updated := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	_, err := f.store.UpsertMany(ctx, []model.MergedRecord{
		{
			Venue:      model.Venue{Name: "강남 헬스", Address: "서울 강남구 1", Phone: "02-555-1234", Latitude: 37.5, Longitude: 127.03},
			Source:     connector.IDGooglePlaces,
			Sources:    []string{connector.IDGooglePlaces},
			Confidence: 0.9,
			UpdatedAt:  updated,
		},
		{
			Venue:      model.Venue{Name: "이름만", Address: ""},
			Source:     connector.IDWebSearch,
			Confidence: 0.3,
			UpdatedAt:  updated,
		},
	})
	require.NoError(t, err)

	scorer := quality.NewScorer(quality.DefaultConfig())
	sum, err := f.runner.Revalidate(ctx, scorer)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Checked)
	assert.Equal(t, 2, sum.Valid+sum.Invalid)
	assert.GreaterOrEqual(t, sum.Invalid, 1)
	assert.Equal(t, int64(2), sum.Updated)
	require.Len(t, sum.Worst, 2)
	assert.LessOrEqual(t, sum.Worst[0].Overall, sum.Worst[1].Overall)
	assert.Greater(t, sum.Issues[model.SeverityCritical], 0)

	got, err := f.store.FindByName(ctx, "강남 헬스")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Greater(t, got.DataQuality, 0.0)
	assert.True(t, got.UpdatedAt.Equal(updated), "revalidation keeps UpdatedAt")

	again, err := f.runner.Revalidate(ctx, scorer)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestRunner_Import(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	ctx := context.Background()
	recs := []model.MergedRecord{
		{ID: 41, Venue: model.Venue{Name: "A", Address: "a"}, Source: "kakao_local"},
		{ID: 42, Venue: model.Venue{Name: "B", Address: "b"}, Source: "kakao_local"},
		{ID: 43, Venue: model.Venue{Name: "C", Address: "c"}, Source: "kakao_local"},
	}

	n, err := f.runner.Import(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(41), recs[0].ID, "input is not modified")

	all, err := f.store.List(ctx, store.VenueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunner_VenuesReadsEveryPage(t *testing.T) {
	f := newRunnerFixture(t, upsertProcess, nil)
	ctx := context.Background()
	var recs []model.MergedRecord
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		recs = append(recs, model.MergedRecord{Venue: model.Venue{Name: name, Address: name}, Source: "kakao_local"})
	}
	_, err := f.runner.Import(ctx, recs)
	require.NoError(t, err)

	all, err := f.runner.Venues(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestInsertWorst(t *testing.T) {
	var worst []RevalidatedVenue
	for i := 0; i < revalidateSampleSize+5; i++ {
		worst = insertWorst(worst, RevalidatedVenue{ID: int64(i), Overall: float64((i*7)%15) / 15})
	}
	require.Len(t, worst, revalidateSampleSize)
	for i := 1; i < len(worst); i++ {
		assert.LessOrEqual(t, worst[i-1].Overall, worst[i].Overall)
	}
	assert.Zero(t, worst[0].Overall)
}
