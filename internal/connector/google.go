package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/pkg/google"
)

const googleConfidence = 0.85

// GooglePlaces searches Google Places text search.
type GooglePlaces struct {
	base
	client google.Client
}

// NewGooglePlaces creates a Google Places connector.
func NewGooglePlaces(client google.Client, opts ...Option) *GooglePlaces {
	return &GooglePlaces{base: newBase(IDGooglePlaces, opts), client: client}
}

// Search runs a text search and converts each place.
func (g *GooglePlaces) Search(ctx context.Context, query string) ([]model.SourceRecord, error) {
	resp, err := g.client.TextSearch(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "google_places: search %q", query)
	}
	out := make([]model.SourceRecord, 0, len(resp.Places))
	for _, p := range resp.Places {
		out = append(out, g.toRecord(query, p))
	}
	return out, nil
}

func (g *GooglePlaces) toRecord(query string, p google.Place) model.SourceRecord {
	rec := model.SourceRecord{
		Venue: model.Venue{
			Name:        p.DisplayName.Text,
			Address:     strings.TrimPrefix(p.FormattedAddress, "대한민국 "),
			Phone:       p.NationalPhoneNumber,
			Latitude:    p.Location.Latitude,
			Longitude:   p.Location.Longitude,
			Rating:      p.Rating,
			ReviewCount: p.UserRatingCount,
		},
		Source:         g.id,
		Confidence:     matchConfidence(googleConfidence, query, p.DisplayName.Text),
		AdditionalInfo: map[string]string{"place_id": p.ID},
		FetchedAt:      nowFunc(),
	}
	if len(p.Types) > 0 {
		rec.AdditionalInfo["types"] = strings.Join(p.Types, ",")
	}
	applyOpeningHours(&rec.Venue, p.RegularOpeningHours)
	if p.RegularOpeningHours != nil {
		InferFacilities(strings.Join(p.RegularOpeningHours.WeekdayDescriptions, " "), &rec.Venue)
	}
	return rec
}

// applyOpeningHours reads the first period. A single period opening at
// 00:00 with no close means the place never closes.
func applyOpeningHours(v *model.Venue, oh *google.OpeningHours) {
	if oh == nil || len(oh.Periods) == 0 {
		return
	}
	first := oh.Periods[0]
	if first.Close == nil {
		if first.Open.Hour == 0 && first.Open.Minute == 0 {
			v.Is24Hours = model.Bool(true)
		}
		return
	}
	v.Is24Hours = model.Bool(false)
	v.OpenHour = fmt.Sprintf("%02d:%02d", first.Open.Hour, first.Open.Minute)
	v.CloseHour = fmt.Sprintf("%02d:%02d", first.Close.Hour, first.Close.Minute)
}
