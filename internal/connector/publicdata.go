package connector

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/pkg/publicdata"
)

const (
	publicDataConfidence = 0.9
	publicDataPageSize   = 100
	publicDataMaxPages   = 200
)

// PublicData is the licensed-facility feed connector. It also seeds full
// runs via ListAll.
type PublicData struct {
	base
	client   publicdata.Client
	maxPages int
}

// NewPublicData creates a public-data connector.
func NewPublicData(client publicdata.Client, opts ...Option) *PublicData {
	return &PublicData{
		base:     newBase(IDPublicData, opts),
		client:   client,
		maxPages: publicDataMaxPages,
	}
}

// Search returns operating facilities whose business name matches query.
func (p *PublicData) Search(ctx context.Context, query string) ([]model.SourceRecord, error) {
	page, err := p.client.Search(ctx, query, 1)
	if err != nil {
		return nil, eris.Wrapf(err, "public_data: search %q", query)
	}
	out := make([]model.SourceRecord, 0, len(page.Items))
	for _, f := range page.Items {
		if !f.Open() {
			continue
		}
		out = append(out, p.toRecord(f))
	}
	return out, nil
}

// ListAll pages through the whole feed and returns every operating facility.
func (p *PublicData) ListAll(ctx context.Context) ([]model.SourceRecord, error) {
	var out []model.SourceRecord
	for n := 1; n <= p.maxPages; n++ {
		page, err := p.client.List(ctx, n, publicDataPageSize)
		if err != nil {
			return out, eris.Wrapf(err, "public_data: list page %d", n)
		}
		for _, f := range page.Items {
			if f.Open() {
				out = append(out, p.toRecord(f))
			}
		}
		if !page.HasMore() || len(page.Items) == 0 {
			break
		}
	}
	return out, nil
}

func (p *PublicData) toRecord(f publicdata.Facility) model.SourceRecord {
	addr := strings.TrimSpace(f.RoadAddress)
	if addr == "" {
		addr = strings.TrimSpace(f.LotAddress)
	}
	info := map[string]string{}
	if f.ManageNo != "" {
		info["manage_no"] = f.ManageNo
	}
	if f.Status != "" {
		info["status"] = f.Status
	}
	if f.LotAddress != "" && f.LotAddress != addr {
		info["lot_address"] = f.LotAddress
	}
	if f.UpdatedAt != "" {
		info["source_updated_at"] = f.UpdatedAt
	}
	return model.SourceRecord{
		Venue: model.Venue{
			Name:      f.Name,
			Address:   addr,
			Phone:     f.Phone,
			Latitude:  parseCoord(f.Lat),
			Longitude: parseCoord(f.Lng),
		},
		Source:         p.id,
		Confidence:     publicDataConfidence,
		AdditionalInfo: info,
		FetchedAt:      nowFunc(),
	}
}
