// Package fusion merges groups of source records into one canonical venue
// record using trust, confidence and completeness weighting.
package fusion

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/geo"
	"github.com/sells-group/venue-fusion/internal/model"
)

// Defaults.
const (
	DefaultConfidenceThreshold   = 0.6
	DefaultCoordinateDeltaMeters = 100.0
	DefaultUnknownTrust          = 0.5

	diversityBonus    = 0.02
	maxDiversityBonus = 0.1
	// Fields with at least this priority may override a differing numeric value.
	overridePriority = 0.8
)

// Config controls merging.
type Config struct {
	Trust                 map[string]float64
	UnknownTrust          float64
	ConfidenceThreshold   float64
	CoordinateDeltaMeters float64
	Fields                *model.FieldRegistry
}

// DefaultConfig returns the default fusion config for the given trust table.
func DefaultConfig(trust map[string]float64) Config {
	return Config{
		Trust:                 trust,
		UnknownTrust:          DefaultUnknownTrust,
		ConfidenceThreshold:   DefaultConfidenceThreshold,
		CoordinateDeltaMeters: DefaultCoordinateDeltaMeters,
		Fields:                model.DefaultFields(),
	}
}

// Rejection reasons.
const (
	ReasonEmptyGroup      = "empty group"
	ReasonMissingName     = "missing name"
	ReasonMissingAddress  = "missing address"
	ReasonZeroCoordinates = "zero coordinates"
	ReasonLowConfidence   = "confidence below threshold"
)

// RejectedError reports a group that produced no persistable record.
type RejectedError struct {
	Name       string
	Reason     string
	Confidence float64
}

func (e *RejectedError) Error() string {
	if e.Reason == ReasonLowConfidence {
		return fmt.Sprintf("fusion: rejected %q: %s (%.3f)", e.Name, e.Reason, e.Confidence)
	}
	return fmt.Sprintf("fusion: rejected %q: %s", e.Name, e.Reason)
}

// Engine merges entity groups.
type Engine struct {
	cfg     Config
	nowFunc func() time.Time
}

// NewEngine creates an Engine. Zero config values fall back to defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.UnknownTrust <= 0 {
		cfg.UnknownTrust = DefaultUnknownTrust
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.CoordinateDeltaMeters <= 0 {
		cfg.CoordinateDeltaMeters = DefaultCoordinateDeltaMeters
	}
	if cfg.Fields == nil {
		cfg.Fields = model.DefaultFields()
	}
	return &Engine{cfg: cfg, nowFunc: time.Now}
}

// TrustOf returns the static trust weight of a connector.
func (e *Engine) TrustOf(source string) float64 {
	if t, ok := e.cfg.Trust[source]; ok {
		return t
	}
	return e.cfg.UnknownTrust
}

// DataScore ranks a record: 0.4 trust + 0.4 confidence + 0.2 completeness.
func (e *Engine) DataScore(r model.SourceRecord) float64 {
	return 0.4*e.TrustOf(r.Source) + 0.4*r.Confidence + 0.2*e.cfg.Fields.Completeness(r.Venue)
}

// Merge fuses g into a single record. The best-scoring member seeds the
// result and every other member may fill or improve individual fields.
// Results without name, address or coordinates, or below the confidence
// threshold, are returned as *RejectedError.
func (e *Engine) Merge(g model.EntityGroup) (*model.MergedRecord, error) {
	if g.Len() == 0 {
		return nil, &RejectedError{Reason: ReasonEmptyGroup}
	}

	ranked := make([]model.SourceRecord, len(g.Records))
	copy(ranked, g.Records)
	scores := make([]float64, len(ranked))
	idx := make([]int, len(ranked))
	for i := range ranked {
		idx[i] = i
		scores[i] = e.DataScore(ranked[i])
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	top := ranked[idx[0]]
	v := top.Venue
	info := make(map[string]string, len(top.AdditionalInfo))
	for k, val := range top.AdditionalInfo {
		info[k] = val
	}
	coordConf := -1.0
	if v.HasCoordinates() {
		coordConf = top.Confidence
	}

	for _, i := range idx[1:] {
		m := ranked[i]
		e.mergeStrings(&v, m.Venue)
		coordConf = e.mergeCoordinates(&v, m, coordConf)
		mergeFlags(&v, m.Venue)
		if m.Rating > v.Rating {
			v.Rating = m.Rating
		}
		if m.ReviewCount > v.ReviewCount {
			v.ReviewCount = m.ReviewCount
		}
		for k, val := range m.AdditionalInfo {
			if _, ok := info[k]; !ok {
				info[k] = val
			}
		}
	}

	sources := make([]string, 0, len(ranked))
	seen := make(map[string]bool, len(ranked))
	for _, i := range idx {
		if s := ranked[i].Source; s != "" && !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}

	now := e.nowFunc()
	rec := &model.MergedRecord{
		Venue:          v,
		Facilities:     model.FacilitySummary(v),
		Source:         strings.Join(sources, ","),
		Sources:        sources,
		Confidence:     e.confidence(ranked, len(sources)),
		DataQuality:    e.cfg.Fields.Completeness(v),
		MemberCount:    g.Len(),
		AdditionalInfo: info,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.check(rec); err != nil {
		zap.L().Info("fusion: record rejected",
			zap.String("name", rec.Name),
			zap.String("source", rec.Source),
			zap.Int("members", rec.MemberCount),
			zap.Error(err),
		)
		return nil, err
	}
	return rec, nil
}

func (e *Engine) check(rec *model.MergedRecord) error {
	rej := &RejectedError{Name: rec.Name, Confidence: rec.Confidence}
	switch {
	case strings.TrimSpace(rec.Name) == "":
		rej.Reason = ReasonMissingName
	case strings.TrimSpace(rec.Address) == "":
		rej.Reason = ReasonMissingAddress
	case !rec.HasCoordinates():
		rej.Reason = ReasonZeroCoordinates
	case rec.Confidence < e.cfg.ConfidenceThreshold:
		rej.Reason = ReasonLowConfidence
	default:
		return nil
	}
	return rej
}

// confidence is the trust-weighted mean of member confidences plus a bonus
// per distinct source, clamped to [0,1].
func (e *Engine) confidence(members []model.SourceRecord, distinct int) float64 {
	var sum, weight float64
	for _, m := range members {
		t := e.TrustOf(m.Source)
		sum += t * m.Confidence
		weight += t
	}
	var c float64
	if weight > 0 {
		c = sum / weight
	}
	bonus := diversityBonus * float64(distinct)
	if bonus > maxDiversityBonus {
		bonus = maxDiversityBonus
	}
	return clamp01(c + bonus)
}

func (e *Engine) mergeStrings(dst *model.Venue, in model.Venue) {
	fields := []struct {
		cur *string
		in  string
	}{
		{&dst.Name, in.Name},
		{&dst.Address, in.Address},
		{&dst.Phone, in.Phone},
		{&dst.OpenHour, in.OpenHour},
		{&dst.CloseHour, in.CloseHour},
		{&dst.Price, in.Price},
	}
	for _, f := range fields {
		if f.in == "" {
			continue
		}
		if *f.cur == "" || Detail(f.in) > Detail(*f.cur) {
			*f.cur = f.in
		}
	}
}

// mergeCoordinates treats latitude/longitude as one pair. A missing pair is
// filled; a present pair is replaced only when the member is far enough away
// and at least as confident as the member that supplied the current pair.
func (e *Engine) mergeCoordinates(dst *model.Venue, m model.SourceRecord, supplierConf float64) float64 {
	if !m.HasCoordinates() {
		return supplierConf
	}
	if !dst.HasCoordinates() {
		dst.Latitude, dst.Longitude = m.Latitude, m.Longitude
		return m.Confidence
	}
	if e.cfg.Fields.Priority(model.FieldLatitude) < overridePriority {
		return supplierConf
	}
	d := geo.HaversineMeters(dst.Latitude, dst.Longitude, m.Latitude, m.Longitude)
	if d > e.cfg.CoordinateDeltaMeters && m.Confidence >= supplierConf {
		dst.Latitude, dst.Longitude = m.Latitude, m.Longitude
		return m.Confidence
	}
	return supplierConf
}

func mergeFlags(dst *model.Venue, in model.Venue) {
	for _, f := range model.Facilities {
		if f.Get(dst) == nil {
			if b := f.Get(&in); b != nil {
				f.Set(dst, b)
			}
		}
	}
}

// Detail scores how informative a string is: one point each for digits,
// punctuation and Hangul, plus up to one point for length.
func Detail(s string) float64 {
	var digit, punct, hangul bool
	n := 0
	for _, r := range s {
		n++
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r):
			punct = true
		case unicode.Is(unicode.Hangul, r):
			hangul = true
		}
	}
	score := float64(n) / 20
	if score > 1 {
		score = 1
	}
	for _, b := range []bool{digit, punct, hangul} {
		if b {
			score++
		}
	}
	return score
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
