package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

// VenueFilter specifies criteria for listing venues.
type VenueFilter struct {
	// UpdatedBefore selects venues not updated since this time.
	UpdatedBefore time.Time `json:"updated_before,omitempty"`
	// MaxQuality selects venues whose data quality is at most this value.
	MaxQuality float64 `json:"max_quality,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	State  model.RunState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for venue fusion.
type Store interface {
	// Venues. FindByName returns nil, nil when no venue has the name.
	FindByName(ctx context.Context, name string) (*model.MergedRecord, error)
	// Upsert updates venue rec.ID in place when set, else matches on name
	// and address.
	Upsert(ctx context.Context, rec *model.MergedRecord) (*model.MergedRecord, error)
	// UpsertMany keeps each record's UpdatedAt when set.
	UpsertMany(ctx context.Context, recs []model.MergedRecord) (int64, error)
	List(ctx context.Context, filter VenueFilter) ([]model.MergedRecord, error)
	Stats(ctx context.Context) (*model.VenueStats, error)
	FreshnessStats(ctx context.Context, freshWithin, overdueAfter time.Duration) (*model.FreshnessStats, error)

	// Runs
	SaveRun(ctx context.Context, rep *model.RunReport) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunReport, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// errVenueGone marks an update by id whose row no longer exists.
var errVenueGone = eris.New("store: venue no longer exists")

// NameKey is the lookup key for a venue name.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// AddressKey is the lookup key for a venue address.
func AddressKey(addr string) string {
	return strings.ToLower(strings.Join(strings.Fields(addr), " "))
}

// updatedOr returns rec.UpdatedAt in UTC, or now when it is unset.
func updatedOr(rec *model.MergedRecord, now time.Time) time.Time {
	if rec.UpdatedAt.IsZero() {
		return now
	}
	return rec.UpdatedAt.UTC()
}

const defaultListLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
