// Package pipeline runs one entity through expand, fetch, normalize, group,
// fuse, score and persist.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/venue-fusion/internal/batch"
	"github.com/sells-group/venue-fusion/internal/connector"
	"github.com/sells-group/venue-fusion/internal/fusion"
	"github.com/sells-group/venue-fusion/internal/match"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/normalize"
	"github.com/sells-group/venue-fusion/internal/quality"
	"github.com/sells-group/venue-fusion/internal/query"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/store"
)

// DefaultMaxQueriesPerConnector bounds how many query variants are tried
// against one connector before giving up on it.
const DefaultMaxQueriesPerConnector = 3

// Fetcher performs one rate-limited, error-handled connector search.
type Fetcher interface {
	Fetch(ctx context.Context, c connector.Connector, entityName, query string) ([]model.SourceRecord, error)
}

// VenueStore is the persistence contract the pipeline needs.
type VenueStore interface {
	FindByName(ctx context.Context, name string) (*model.MergedRecord, error)
	Upsert(ctx context.Context, rec *model.MergedRecord) (*model.MergedRecord, error)
}

// Config tunes a Pipeline.
type Config struct {
	MaxQueriesPerConnector int     `mapstructure:"max_queries_per_connector"`
	MatchThreshold         float64 `mapstructure:"match_threshold"`
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	Connectors *connector.Registry
	Fetcher    Fetcher
	Expander   *query.Expander
	Normalizer *normalize.Normalizer
	Fusion     *fusion.Engine
	Scorer     *quality.Scorer
	Store      VenueStore
}

// Pipeline processes single entities. It is safe for concurrent use.
type Pipeline struct {
	cfg   Config
	deps  Deps
	retry resilience.RetryConfig
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.MaxQueriesPerConnector <= 0 {
		cfg.MaxQueriesPerConnector = DefaultMaxQueriesPerConnector
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = match.DefaultThreshold
	}
	return &Pipeline{cfg: cfg, deps: deps, retry: resilience.PersistenceRetryConfig()}
}

// SetPersistenceRetry overrides the retry policy used around Upsert.
func (p *Pipeline) SetPersistenceRetry(cfg resilience.RetryConfig) {
	p.retry = cfg
}

// Process fuses everything the connectors know about ent into one persisted
// record. An unreachable store is returned as a *batch.FatalError. When every
// connector fails and the venue is already persisted, the persisted record
// is returned unchanged.
func (p *Pipeline) Process(ctx context.Context, ent model.Entity) (*model.MergedRecord, error) {
	var records []model.SourceRecord
	seedSource := ""
	name := ent.Name
	if ent.Seed != nil {
		res, err := p.deps.Normalizer.Normalize(*ent.Seed)
		if err != nil {
			return nil, resilience.NewConnectorError(ent.Seed.Source, resilience.TypeParseError,
				eris.Wrap(err, "pipeline: invalid seed"))
		}
		records = append(records, res.Record)
		seedSource = res.Record.Source
		if name == "" {
			name = res.Record.Name
		}
	}
	if name == "" {
		return nil, resilience.NewConnectorError("", resilience.TypeParseError, eris.New("pipeline: entity has no name"))
	}

	log := zap.L().With(zap.String("component", "pipeline"), zap.String("entity", name))
	queries := p.deps.Expander.Expand(name)
	if len(queries) > p.cfg.MaxQueriesPerConnector {
		queries = queries[:p.cfg.MaxQueriesPerConnector]
	}

	found, errs, attempted := p.gather(ctx, name, seedSource, queries)
	for _, r := range found {
		res, err := p.deps.Normalizer.Normalize(r)
		if err != nil {
			log.Debug("pipeline: dropping invalid record", zap.String("source", r.Source), zap.Error(err))
			continue
		}
		records = append(records, res.Record)
	}
	log.Debug("pipeline: gathered records",
		zap.Strings("queries", queries),
		zap.Int("records", len(records)),
		zap.Int("failed_sources", len(errs)),
	)

	if len(records) == 0 {
		if attempted > 0 && len(errs) == attempted {
			if cached := p.cached(ctx, name); cached != nil {
				log.Info("pipeline: all sources failed, keeping cached record", zap.Int64("id", cached.ID))
				return cached, nil
			}
			return nil, eris.Wrapf(errs[0], "pipeline: all sources failed for %q", name)
		}
		return nil, resilience.NewConnectorError("", resilience.TypeNotFound,
			eris.Errorf("pipeline: no source returned %q", name))
	}

	g, ok := p.selectGroup(records, ent, name)
	if !ok {
		return nil, resilience.NewConnectorError("", resilience.TypeNotFound,
			eris.Errorf("pipeline: no result resembles %q", name))
	}

	merged, err := p.deps.Fusion.Merge(g)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: merge")
	}

	vr := p.deps.Scorer.EvaluateMerged(merged)
	merged.DataQuality = vr.Score.Overall
	if !vr.IsValid {
		log.Info("pipeline: merged record below quality bar",
			zap.Float64("overall", vr.Score.Overall),
			zap.Int("critical", len(vr.Critical())),
			zap.Strings("recommendations", vr.Recommendations),
		)
	}

	if err := p.resolve(ctx, ent, merged); err != nil {
		return nil, batch.Fatal(eris.Wrapf(err, "pipeline: resolve %q", name))
	}

	saved, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*model.MergedRecord, error) {
		return p.deps.Store.Upsert(ctx, merged)
	})
	if err != nil {
		if resilience.IsPersistence(resilience.Classify(err)) {
			return nil, batch.Fatal(eris.Wrapf(err, "pipeline: persist %q", name))
		}
		return nil, eris.Wrapf(err, "pipeline: persist %q", name)
	}

	log.Info("pipeline: entity fused",
		zap.Strings("sources", saved.Sources),
		zap.Int("members", saved.MemberCount),
		zap.Float64("confidence", saved.Confidence),
		zap.Float64("quality", saved.DataQuality),
	)
	return saved, nil
}

// gather queries every connector except the seed's own concurrently. Each
// connector tries the query variants in order and stops at the first
// non-empty answer or at its first terminal error. Results keep registry
// order.
func (p *Pipeline) gather(ctx context.Context, name, skip string, queries []string) ([]model.SourceRecord, []error, int) {
	conns := p.deps.Connectors.All()
	results := make([][]model.SourceRecord, len(conns))
	failures := make([]error, len(conns))

	var g errgroup.Group
	attempted := 0
	for i, c := range conns {
		if c.ID() == skip {
			continue
		}
		attempted++
		g.Go(func() error {
			for _, q := range queries {
				recs, err := p.deps.Fetcher.Fetch(ctx, c, name, q)
				if err != nil {
					failures[i] = err
					return nil
				}
				if len(recs) > 0 {
					results[i] = recs
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []model.SourceRecord
	var errs []error
	for i := range conns {
		out = append(out, results[i]...)
		if failures[i] != nil {
			errs = append(errs, failures[i])
		}
	}
	return out, errs, attempted
}

// selectGroup returns the group describing ent: the seed's group when there
// is a seed, else the group closest to the entity's name and address.
func (p *Pipeline) selectGroup(records []model.SourceRecord, ent model.Entity, name string) (model.EntityGroup, bool) {
	groups := match.Group(records, p.cfg.MatchThreshold)
	if len(groups) == 0 {
		return model.EntityGroup{}, false
	}
	if ent.Seed != nil {
		return groups[0], true
	}

	target := model.SourceRecord{Venue: model.Venue{Name: name, Address: ent.Address}}
	idx := match.Best(groups, target, p.cfg.MatchThreshold)
	if idx < 0 {
		idx = match.Best(groups, target, 0)
	}
	if idx < 0 {
		return model.EntityGroup{}, false
	}
	return groups[idx], true
}

// resolve points merged at the persisted venue it describes so Upsert
// updates that row in place. Revisited entities carry their id; otherwise a
// venue with the fused or entity name at the same place is reused. A lookup
// failure is returned only when persistence is unreachable.
func (p *Pipeline) resolve(ctx context.Context, ent model.Entity, merged *model.MergedRecord) error {
	if ent.ID != 0 {
		merged.ID = ent.ID
		return nil
	}
	names := []string{merged.Name}
	if ent.Name != "" && store.NameKey(ent.Name) != store.NameKey(merged.Name) {
		names = append(names, ent.Name)
	}
	for _, n := range names {
		existing, err := p.deps.Store.FindByName(ctx, n)
		if err != nil {
			if resilience.IsPersistence(resilience.Classify(err)) {
				return err
			}
			zap.L().Warn("pipeline: venue lookup failed", zap.String("entity", n), zap.Error(err))
			return nil
		}
		if existing == nil {
			continue
		}
		if match.SamePlace(model.SourceRecord{Venue: existing.Venue}, model.SourceRecord{Venue: merged.Venue}) {
			merged.ID = existing.ID
			merged.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	return nil
}

func (p *Pipeline) cached(ctx context.Context, name string) *model.MergedRecord {
	rec, err := p.deps.Store.FindByName(ctx, name)
	if err != nil {
		zap.L().Warn("pipeline: cache lookup failed", zap.String("entity", name), zap.Error(err))
		return nil
	}
	return rec
}
