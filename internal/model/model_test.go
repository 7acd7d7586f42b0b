package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacilitySummary(t *testing.T) {
	t.Parallel()

	v := Venue{
		Is24Hours:           Bool(true),
		HasParking:          Bool(false),
		HasShower:           Bool(true),
		HasPersonalTraining: Bool(true),
	}
	assert.Equal(t, "24시간 운영, 샤워 시설, PT", FacilitySummary(v))
	assert.Empty(t, FacilitySummary(Venue{}))
}

func TestDefaultFields(t *testing.T) {
	t.Parallel()

	reg := DefaultFields()

	t.Run("priorities", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 1.0, reg.Priority(FieldName), 1e-9)
		assert.InDelta(t, 0.85, reg.Priority(FieldLatitude), 1e-9)
		assert.InDelta(t, 0.5, reg.Priority(FieldReviewCount), 1e-9)
		assert.Zero(t, reg.Priority("nonexistent"))
		assert.Nil(t, reg.ByKey("nonexistent"))
	})

	t.Run("completeness bounds", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, reg.Completeness(Venue{}))

		full := Venue{
			Name: "a", Address: "b", Phone: "02-123-4567",
			Latitude: 37.5, Longitude: 127,
			Is24Hours: Bool(false), HasParking: Bool(false), HasShower: Bool(false),
			HasPersonalTraining: Bool(false), HasGroupExercise: Bool(false), HasGroupPT: Bool(false),
			OpenHour: "06:00", CloseHour: "23:00", Price: "50000",
			Rating: 4.5, ReviewCount: 10,
		}
		assert.InDelta(t, 1.0, reg.Completeness(full), 1e-9)
		assert.Empty(t, reg.Missing(full))
	})

	t.Run("partial", func(t *testing.T) {
		t.Parallel()
		v := Venue{Name: "a", Address: "b"}
		c := reg.Completeness(v)
		assert.Greater(t, c, 0.0)
		assert.Less(t, c, 1.0)
		missing := reg.Missing(v)
		require.NotEmpty(t, missing)
		assert.Equal(t, FieldPhone, missing[0])
	})
}

func TestEntityGroupSources(t *testing.T) {
	t.Parallel()

	g := EntityGroup{Records: []SourceRecord{
		{Source: "kakao_local"},
		{Source: "google_places"},
		{Source: "kakao_local"},
	}}
	assert.Equal(t, []string{"kakao_local", "google_places"}, g.Sources())
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, "kakao_local", g.Seed().Source)
}

func TestNewProgress(t *testing.T) {
	t.Parallel()

	p := NewProgress(3, 12)
	assert.Equal(t, 3, p.Processed)
	assert.Equal(t, 9, p.Remaining)
	assert.InDelta(t, 25.0, p.Percentage, 1e-9)

	assert.Zero(t, NewProgress(0, 0).Percentage)
}

func TestNewRunReport(t *testing.T) {
	t.Parallel()

	res := &BatchResult{
		Success: 2, Failed: 1, Total: 3, State: RunCompleted,
		Duration: time.Second,
		Errors:   make([]ItemError, ErrorSampleSize+5),
		Records:  []*MergedRecord{{DataQuality: 0.8}, {DataQuality: 0.6}},
	}
	rep := NewRunReport("id-1", UpdateFull, time.Now(), res)
	assert.Equal(t, "id-1", rep.ID)
	assert.Len(t, rep.ErrorSample, ErrorSampleSize)
	assert.InDelta(t, 0.7, rep.AvgQuality, 1e-9)
	assert.Equal(t, RunCompleted, rep.State)
}
