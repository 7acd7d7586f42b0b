// Package connector defines the uniform source contract and the concrete
// connectors for public-data feeds, map search APIs and web search.
package connector

import (
	"context"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/ratelimit"
)

// Connector ids.
const (
	IDPublicData   = "public_data"
	IDGooglePlaces = "google_places"
	IDKakaoLocal   = "kakao_local"
	IDNaverLocal   = "naver_local"
	IDWebSearch    = "web_search"
)

// DefaultTrust is the static per-connector trust table.
var DefaultTrust = map[string]float64{
	IDPublicData:   0.95,
	IDGooglePlaces: 0.9,
	IDKakaoLocal:   0.85,
	IDNaverLocal:   0.8,
	IDWebSearch:    0.6,
}

// UnknownTrust is the trust weight of a connector missing from the table.
const UnknownTrust = 0.5

// DefaultBudgets is the default request allowance per connector.
var DefaultBudgets = map[string]ratelimit.Budget{
	IDPublicData:   {PerMinute: 30, PerDay: 1000},
	IDGooglePlaces: {PerMinute: 60},
	IDKakaoLocal:   {PerMinute: 100},
	IDNaverLocal:   {PerMinute: 60},
	IDWebSearch:    {PerMinute: 20},
}

// Connector is one external venue source. Records returned by Search are raw
// observations; the caller normalizes them.
type Connector interface {
	// ID returns the stable connector id used for trust, limits and provenance.
	ID() string
	// TrustWeight returns the static trust of this source in [0,1].
	TrustWeight() float64
	// RateLimit returns the request allowance for this source.
	RateLimit() ratelimit.Budget
	// Search returns candidate records for query.
	Search(ctx context.Context, query string) ([]model.SourceRecord, error)
}

// Lister is implemented by feed connectors that can enumerate every venue.
// Full runs are seeded from it.
type Lister interface {
	ListAll(ctx context.Context) ([]model.SourceRecord, error)
}

// Settings holds the trust and budget shared by every concrete connector.
type Settings struct {
	Trust  float64
	Budget ratelimit.Budget
}

func defaultSettings(id string) Settings {
	s := Settings{Trust: UnknownTrust, Budget: DefaultBudgets[id]}
	if t, ok := DefaultTrust[id]; ok {
		s.Trust = t
	}
	return s
}

// base implements the static half of Connector.
type base struct {
	id       string
	settings Settings
}

func (b base) ID() string                  { return b.id }
func (b base) TrustWeight() float64        { return b.settings.Trust }
func (b base) RateLimit() ratelimit.Budget { return b.settings.Budget }
