package quality

import (
	"github.com/sells-group/venue-fusion/internal/model"
)

var recommendations = map[string]string{
	model.FieldName:        "look up the venue name in the public-data feed",
	model.FieldAddress:     "fill the address from a map search source",
	model.FieldLatitude:    "geocode the address or take coordinates from a map source",
	model.FieldPhone:       "verify the phone number against a map source",
	model.FieldOpenHour:    "re-check opening hours",
	model.FieldCloseHour:   "re-check opening hours",
	model.FieldIs24Hours:   "re-check opening hours",
	model.FieldRating:      "refresh rating from a review source",
	model.FieldReviewCount: "refresh rating from a review source",
	"confidence":           "corroborate the record with another connector",
	"facilities":           "rebuild the facilities summary",
	"updated_at":           "schedule the venue for an incremental update",
}

// Recommend derives one recommendation per distinct remediation, critical
// issues first.
func Recommend(issues []model.Issue) []string {
	var out []string
	seen := make(map[string]bool)
	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityWarning, model.SeverityInfo} {
		for _, i := range issues {
			if i.Severity != sev {
				continue
			}
			r, ok := recommendations[i.Field]
			if !ok || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
