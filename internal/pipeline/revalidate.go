package pipeline

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/quality"
	"github.com/sells-group/venue-fusion/internal/store"
)

// RevalidateSummary reports a re-validation pass over persisted venues.
type RevalidateSummary struct {
	Checked    int                    `json:"checked"`
	Valid      int                    `json:"valid"`
	Invalid    int                    `json:"invalid"`
	Updated    int64                  `json:"updated"`
	AvgQuality float64                `json:"avg_quality"`
	Issues     map[model.Severity]int `json:"issues"`
	// Worst lists the lowest-scoring venues, at most revalidateSampleSize.
	Worst []RevalidatedVenue `json:"worst,omitempty"`
}

// RevalidatedVenue is one entry of RevalidateSummary.Worst.
type RevalidatedVenue struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Overall         float64  `json:"overall"`
	Recommendations []string `json:"recommendations,omitempty"`
}

const revalidateSampleSize = 10

// qualityEpsilon is the smallest DataQuality change that is written back.
const qualityEpsilon = 1e-6

// Revalidate re-scores every persisted venue with scorer and writes back
// the venues whose DataQuality changed. UpdatedAt is preserved.
func (r *Runner) Revalidate(ctx context.Context, scorer *quality.Scorer) (*RevalidateSummary, error) {
	sum := &RevalidateSummary{Issues: make(map[model.Severity]int)}
	var (
		changed []model.MergedRecord
		total   float64
	)
	err := r.eachPage(ctx, store.VenueFilter{}, func(page []model.MergedRecord) error {
		for i := range page {
			rec := page[i]
			res := scorer.EvaluateMerged(&rec)
			sum.Checked++
			total += res.Score.Overall
			if res.IsValid {
				sum.Valid++
			} else {
				sum.Invalid++
			}
			for _, is := range res.Issues {
				sum.Issues[is.Severity]++
			}
			sum.Worst = insertWorst(sum.Worst, RevalidatedVenue{
				ID: rec.ID, Name: rec.Name, Overall: res.Score.Overall, Recommendations: res.Recommendations,
			})
			if math.Abs(rec.DataQuality-res.Score.Overall) > qualityEpsilon {
				rec.DataQuality = res.Score.Overall
				changed = append(changed, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sum.Checked > 0 {
		sum.AvgQuality = total / float64(sum.Checked)
	}

	if len(changed) > 0 {
		n, err := r.deps.Store.UpsertMany(ctx, changed)
		if err != nil {
			return sum, eris.Wrap(err, "runner: write revalidated venues")
		}
		sum.Updated = n
	}

	zap.L().Info("runner: revalidation complete",
		zap.Int("checked", sum.Checked),
		zap.Int("valid", sum.Valid),
		zap.Int("invalid", sum.Invalid),
		zap.Int64("updated", sum.Updated),
		zap.Float64("avg_quality", sum.AvgQuality),
	)
	return sum, nil
}

// insertWorst keeps worst sorted ascending by Overall and bounded.
func insertWorst(worst []RevalidatedVenue, v RevalidatedVenue) []RevalidatedVenue {
	i := len(worst)
	for i > 0 && worst[i-1].Overall > v.Overall {
		i--
	}
	if i >= revalidateSampleSize {
		return worst
	}
	worst = append(worst, RevalidatedVenue{})
	copy(worst[i+1:], worst[i:])
	worst[i] = v
	if len(worst) > revalidateSampleSize {
		worst = worst[:revalidateSampleSize]
	}
	return worst
}

// Import upserts every record of a restored snapshot and returns the number
// of rows written.
func (r *Runner) Import(ctx context.Context, recs []model.MergedRecord) (int64, error) {
	var written int64
	for start := 0; start < len(recs); start += r.cfg.PageSize {
		end := min(start+r.cfg.PageSize, len(recs))
		page := make([]model.MergedRecord, end-start)
		copy(page, recs[start:end])
		for i := range page {
			page[i].ID = 0
		}
		n, err := r.deps.Store.UpsertMany(ctx, page)
		if err != nil {
			return written, eris.Wrapf(err, "runner: import records %d-%d", start, end)
		}
		written += n
	}
	zap.L().Info("runner: import complete", zap.Int("records", len(recs)), zap.Int64("written", written))
	return written, nil
}
