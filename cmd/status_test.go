package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/pipeline"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

func TestFormatStatus(t *testing.T) {
	stats := &model.VenueStats{
		Total:       120,
		AvgQuality:  0.812,
		AvgConf:     0.77,
		BySource:    map[string]int{"public_data": 100, "kakao_local": 20},
		LastUpdated: time.Date(2026, 3, 2, 6, 15, 0, 0, time.UTC),
	}
	fresh := &model.FreshnessStats{Total: 120, Fresh: 96, Overdue: 4}

	var buf bytes.Buffer
	formatStatus(&buf, stats, fresh, 7)

	out := buf.String()
	assert.Contains(t, out, "120")
	assert.Contains(t, out, "0.812")
	assert.Contains(t, out, "2026-03-02 06:15")
	assert.Contains(t, out, "96 (80%)")
	assert.Contains(t, out, "Dead letters:")
	assert.Contains(t, out, "public_data:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("kakao_local")), bytes.Index(buf.Bytes(), []byte("public_data")))
}

func TestFormatStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatStatus(&buf, &model.VenueStats{}, &model.FreshnessStats{}, 0)

	out := buf.String()
	assert.NotContains(t, out, "Last updated")
	assert.NotContains(t, out, "%")
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	runs := []model.RunReport{
		{
			ID: "abc12345-6789-0000-0000-000000000000", Type: model.UpdateFull, State: model.RunCompleted,
			Success: 90, Failed: 10, Total: 100, AvgQuality: 0.8, StartedAt: started, Duration: 95 * time.Second,
		},
		{
			ID: "def12345-6789-0000-0000-000000000000", Type: model.UpdateIncremental, State: model.RunFailed,
			Failed: 3, Total: 3, StartedAt: started.Add(72 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "STATE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "incremental")
	assert.Contains(t, out, "2026-03-04 06:00")
	assert.Contains(t, out, "1m35s")
}

func TestFormatDLQList(t *testing.T) {
	entries := []resilience.DLQEntry{{
		ID:           "0f0f0f0f-aaaa-bbbb-cccc-000000000000",
		Entity:       model.Entity{Name: "역삼 피트니스"},
		ErrorType:    resilience.TypeNotFound,
		Source:       "naver_local",
		RunID:        "run-1234567890",
		Error:        "naver_local: not found",
		LastFailedAt: time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	formatDLQList(&buf, entries)

	out := buf.String()
	assert.Contains(t, out, "역삼 피트니스")
	assert.Contains(t, out, "not_found")
	assert.Contains(t, out, "run-1234")
	assert.Contains(t, out, "2026-03-01 06:30")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 8))
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "헬스", truncate("헬스장", 2))
}

func TestFormatRunReport(t *testing.T) {
	rep := &model.RunReport{
		ID: "run-1", Type: model.UpdateFull, State: model.RunCompleted,
		Success: 2, Failed: 1, Total: 3, AvgQuality: 0.75, Duration: 1500 * time.Millisecond,
		ErrorSample: []model.ItemError{{EntityName: "폐업 헬스", ErrorType: "parse_error", Message: "closed venue"}},
	}

	var buf bytes.Buffer
	formatRunReport(&buf, rep)

	out := buf.String()
	assert.Contains(t, out, "Run run-1 (full): completed")
	assert.Contains(t, out, "success 2, failed 1, total 3")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "폐업 헬스 [parse_error]: closed venue")
}

func TestParseUpdateType(t *testing.T) {
	typ, err := parseUpdateType("full")
	require.NoError(t, err)
	assert.Equal(t, model.UpdateFull, typ)

	typ, err = parseUpdateType("incremental")
	require.NoError(t, err)
	assert.Equal(t, model.UpdateIncremental, typ)

	_, err = parseUpdateType("nightly")
	require.Error(t, err)
}

func TestFormatRevalidateSummary(t *testing.T) {
	sum := &pipeline.RevalidateSummary{
		Checked: 3, Valid: 2, Invalid: 1, Updated: 1, AvgQuality: 0.6,
		Issues: map[model.Severity]int{model.SeverityCritical: 1, model.SeverityWarning: 2},
		Worst: []pipeline.RevalidatedVenue{
			{ID: 3, Name: "주소없음 짐", Overall: 0.2, Recommendations: []string{"add a street address"}},
			{ID: 1, Name: "강남 헬스", Overall: 0.9},
		},
	}

	var buf bytes.Buffer
	formatRevalidateSummary(&buf, sum)

	out := buf.String()
	assert.Contains(t, out, "Checked 3 venues: 2 valid, 1 invalid, 1 updated")
	assert.Contains(t, out, "critical=1 warning=2 info=0")
	assert.Contains(t, out, "주소없음 짐")
	assert.Contains(t, out, "add a street address")
	assert.Contains(t, out, "0.200")
}
