package fusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/match"
	"github.com/sells-group/venue-fusion/internal/model"
)

var testTrust = map[string]float64{
	"public_data":   0.95,
	"google_places": 0.9,
	"kakao_local":   0.85,
	"naver_local":   0.8,
	"web_search":    0.6,
}

func newEngine() *Engine {
	return NewEngine(DefaultConfig(testTrust))
}

func group(recs ...model.SourceRecord) model.EntityGroup {
	g := model.EntityGroup{Records: recs}
	for range recs {
		g.Scores = append(g.Scores, 1)
	}
	return g
}

func src(source string, conf float64, v model.Venue) model.SourceRecord {
	return model.SourceRecord{Venue: v, Source: source, Confidence: conf}
}

func TestMerge_HigherTrustCoordinatesWin(t *testing.T) {
	a := src("web_search", 0.8, model.Venue{
		Name: "바디텍 피트니스", Address: "서울특별시 강남구 테헤란로 1 102호",
		Latitude: 37.50036, Longitude: 127.03,
	})
	b := src("public_data", 0.8, model.Venue{
		Name: "바디텍 피트니스", Address: "서울특별시 강남구 테헤란로 1 101호",
		Latitude: 37.5, Longitude: 127.03,
	})
	groups := match.Group([]model.SourceRecord{a, b}, match.DefaultThreshold)
	require.Len(t, groups, 1)

	rec, err := newEngine().Merge(groups[0])
	require.NoError(t, err)
	assert.InDelta(t, 37.5, rec.Latitude, 1e-9)
	assert.Equal(t, []string{"public_data", "web_search"}, rec.Sources)
	assert.Equal(t, "public_data,web_search", rec.Source)
	assert.Equal(t, 2, rec.MemberCount)
}

func TestMerge_FillsMissingFields(t *testing.T) {
	a := src("kakao_local", 0.8, model.Venue{
		Name: "바디텍 피트니스", Address: "서울 강남구 테헤란로 1",
		Latitude: 37.5, Longitude: 127.03,
	})
	b := src("naver_local", 0.8, model.Venue{
		Name: "바디텍 피트니스", Phone: "02-555-1234",
		Latitude: 37.5001, Longitude: 127.0301,
		HasShower: model.Bool(true),
	})
	groups := match.Group([]model.SourceRecord{a, b}, match.DefaultThreshold)
	require.Len(t, groups, 1)

	rec, err := newEngine().Merge(groups[0])
	require.NoError(t, err)
	assert.Equal(t, "서울 강남구 테헤란로 1", rec.Address)
	assert.Equal(t, "02-555-1234", rec.Phone)
	assert.Equal(t, "샤워 시설", rec.Facilities)
}

func TestMerge_CoordinateOverride(t *testing.T) {
	far := 37.51 // ~1.1 km north
	top := src("public_data", 0.7, model.Venue{Name: "A 짐", Address: "서울 1", Latitude: 37.5, Longitude: 127})
	t.Run("more confident member moves the pair", func(t *testing.T) {
		other := src("web_search", 0.9, model.Venue{Name: "A 짐", Address: "서울 1", Latitude: far, Longitude: 127.001})
		rec, err := newEngine().Merge(group(top, other))
		require.NoError(t, err)
		assert.InDelta(t, far, rec.Latitude, 1e-9)
		assert.InDelta(t, 127.001, rec.Longitude, 1e-9)
	})
	t.Run("less confident member does not", func(t *testing.T) {
		other := src("web_search", 0.5, model.Venue{Name: "A 짐", Address: "서울 1", Latitude: far, Longitude: 127.001})
		rec, err := newEngine().Merge(group(top, other))
		require.NoError(t, err)
		assert.InDelta(t, 37.5, rec.Latitude, 1e-9)
	})
	t.Run("nearby member does not", func(t *testing.T) {
		other := src("web_search", 0.99, model.Venue{Name: "A 짐", Address: "서울 1", Latitude: 37.5003, Longitude: 127})
		rec, err := newEngine().Merge(group(top, other))
		require.NoError(t, err)
		assert.InDelta(t, 37.5, rec.Latitude, 1e-9)
	})
}

func TestMerge_DetailAndCounters(t *testing.T) {
	top := src("public_data", 0.9, model.Venue{
		Name: "바디텍", Address: "서울 강남구", Latitude: 37.5, Longitude: 127,
		Rating: 4.1, ReviewCount: 10, Is24Hours: model.Bool(false),
	})
	other := src("web_search", 0.5, model.Venue{
		Name: "바디텍", Address: "서울특별시 강남구 테헤란로 1, 2층",
		Rating: 4.5, ReviewCount: 3, Is24Hours: model.Bool(true),
	})
	rec, err := newEngine().Merge(group(top, other))
	require.NoError(t, err)
	assert.Equal(t, "서울특별시 강남구 테헤란로 1, 2층", rec.Address)
	assert.InDelta(t, 4.5, rec.Rating, 1e-9)
	assert.Equal(t, 10, rec.ReviewCount)
	require.NotNil(t, rec.Is24Hours)
	assert.False(t, *rec.Is24Hours)
}

func TestMerge_Rejections(t *testing.T) {
	e := newEngine()
	tests := []struct {
		name   string
		rec    model.SourceRecord
		reason string
	}{
		{"no address", src("public_data", 0.9, model.Venue{Name: "a", Latitude: 37.5, Longitude: 127}), ReasonMissingAddress},
		{"no name", src("public_data", 0.9, model.Venue{Address: "b", Latitude: 37.5, Longitude: 127}), ReasonMissingName},
		{"zero coordinates", src("public_data", 0.9, model.Venue{Name: "a", Address: "b"}), ReasonZeroCoordinates},
		{"low confidence", src("web_search", 0.3, model.Venue{Name: "a", Address: "b", Latitude: 37.5, Longitude: 127}), ReasonLowConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := e.Merge(group(tt.rec))
			assert.Nil(t, rec)
			var rej *RejectedError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}

	_, err := e.Merge(model.EntityGroup{})
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonEmptyGroup, rej.Reason)
}

func TestMerge_ConfidenceBonus(t *testing.T) {
	base := model.Venue{Name: "a", Address: "b", Latitude: 37.5, Longitude: 127}
	rec, err := newEngine().Merge(group(
		src("public_data", 0.7, base),
		src("kakao_local", 0.7, base),
		src("naver_local", 0.7, base),
	))
	require.NoError(t, err)
	assert.InDelta(t, 0.76, rec.Confidence, 1e-9)

	var recs []model.SourceRecord
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		recs = append(recs, src(s, 1, base))
	}
	rec, err = newEngine().Merge(group(recs...))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
}

func TestMerge_Bounds(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	e := newEngine()
	sources := []string{"public_data", "google_places", "kakao_local", "web_search", "other"}
	for i := 0; i < 300; i++ {
		n := 1 + r.Intn(4)
		var recs []model.SourceRecord
		for j := 0; j < n; j++ {
			v := model.Venue{Name: "짐", Address: "서울", Latitude: 37 + r.Float64(), Longitude: 127 + r.Float64()}
			recs = append(recs, src(sources[r.Intn(len(sources))], r.Float64(), v))
		}
		rec, err := e.Merge(group(recs...))
		if err != nil {
			var rej *RejectedError
			require.ErrorAs(t, err, &rej)
			continue
		}
		require.GreaterOrEqual(t, rec.Confidence, DefaultConfidenceThreshold)
		require.LessOrEqual(t, rec.Confidence, 1.0)
		require.GreaterOrEqual(t, rec.DataQuality, 0.0)
		require.LessOrEqual(t, rec.DataQuality, 1.0)
	}
}

func TestDetail(t *testing.T) {
	assert.Greater(t, Detail("서울 강남구 테헤란로 1"), Detail("서울 강남구"))
	assert.Greater(t, Detail("02-555-1234"), Detail("025551234"))
	assert.Zero(t, Detail(""))
}

func TestDataScore(t *testing.T) {
	e := newEngine()
	v := model.Venue{Name: "a", Address: "b"}
	hi := e.DataScore(src("public_data", 0.5, v))
	lo := e.DataScore(src("unknown", 0.5, v))
	assert.InDelta(t, 0.4*(0.95-0.5), hi-lo, 1e-9)
}
