package connector

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/pkg/kakao"
)

const kakaoConfidence = 0.8

// KakaoLocal searches Kakao Local keyword search.
type KakaoLocal struct {
	base
	client kakao.Client
}

// NewKakaoLocal creates a Kakao Local connector.
func NewKakaoLocal(client kakao.Client, opts ...Option) *KakaoLocal {
	return &KakaoLocal{base: newBase(IDKakaoLocal, opts), client: client}
}

// Search runs a keyword search and converts each document.
func (k *KakaoLocal) Search(ctx context.Context, query string) ([]model.SourceRecord, error) {
	resp, err := k.client.KeywordSearch(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "kakao_local: search %q", query)
	}
	out := make([]model.SourceRecord, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		addr := d.RoadAddressName
		if addr == "" {
			addr = d.AddressName
		}
		rec := model.SourceRecord{
			Venue: model.Venue{
				Name:      d.PlaceName,
				Address:   addr,
				Phone:     d.Phone,
				Latitude:  parseCoord(d.Y),
				Longitude: parseCoord(d.X),
			},
			Source:     k.id,
			Confidence: matchConfidence(kakaoConfidence, query, d.PlaceName),
			AdditionalInfo: map[string]string{
				"place_id": d.ID,
				"category": d.CategoryName,
			},
			FetchedAt: nowFunc(),
		}
		if d.PlaceURL != "" {
			rec.AdditionalInfo["place_url"] = d.PlaceURL
		}
		InferFacilities(d.PlaceName, &rec.Venue)
		out = append(out, rec)
	}
	return out, nil
}
