package connector

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/pkg/naver"
)

const naverConfidence = 0.75

// NaverLocal searches Naver local search.
type NaverLocal struct {
	base
	client naver.Client
}

// NewNaverLocal creates a Naver local connector.
func NewNaverLocal(client naver.Client, opts ...Option) *NaverLocal {
	return &NaverLocal{base: newBase(IDNaverLocal, opts), client: client}
}

// Search runs a local search and converts each item.
func (n *NaverLocal) Search(ctx context.Context, query string) ([]model.SourceRecord, error) {
	resp, err := n.client.LocalSearch(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "naver_local: search %q", query)
	}
	out := make([]model.SourceRecord, 0, len(resp.Items))
	for _, it := range resp.Items {
		name := it.PlainTitle()
		addr := it.RoadAddress
		if addr == "" {
			addr = it.Address
		}
		rec := model.SourceRecord{
			Venue: model.Venue{
				Name:    name,
				Address: addr,
				Phone:   it.Telephone,
			},
			Source:         n.id,
			Confidence:     matchConfidence(naverConfidence, query, name),
			AdditionalInfo: map[string]string{"category": it.Category},
			FetchedAt:      nowFunc(),
		}
		if lat, lng, ok := it.LatLng(); ok {
			rec.Latitude, rec.Longitude = lat, lng
		} else if it.MapX != "" || it.MapY != "" {
			rec.Latitude, rec.Longitude = math.NaN(), math.NaN()
		}
		if it.Link != "" {
			rec.AdditionalInfo["link"] = it.Link
		}
		InferFacilities(it.Description, &rec.Venue)
		out = append(out, rec)
	}
	return out, nil
}
