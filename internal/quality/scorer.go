// Package quality computes composite data-quality scores and issue lists for
// source and merged venue records.
package quality

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/venue-fusion/internal/geo"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/normalize"
)

// Weights are the component weights of the overall score. They should sum to 1.
type Weights struct {
	Completeness float64 `mapstructure:"completeness"`
	Accuracy     float64 `mapstructure:"accuracy"`
	Consistency  float64 `mapstructure:"consistency"`
	Timeliness   float64 `mapstructure:"timeliness"`
	Validity     float64 `mapstructure:"validity"`
}

// DefaultWeights returns the default component weights.
func DefaultWeights() Weights {
	return Weights{
		Completeness: 0.3,
		Accuracy:     0.25,
		Consistency:  0.15,
		Timeliness:   0.15,
		Validity:     0.15,
	}
}

// Config controls scoring.
type Config struct {
	Weights             Weights
	FreshDays           int
	StaleDays           int
	MinOverall          float64
	ConfidenceThreshold float64
	Bounds              geo.Bounds
	Fields              *model.FieldRegistry
}

// DefaultConfig returns the default scoring config.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		FreshDays:           7,
		StaleDays:           30,
		MinOverall:          0.5,
		ConfidenceThreshold: 0.6,
		Bounds:              geo.KoreaBounds,
		Fields:              model.DefaultFields(),
	}
}

// Meta is the record metadata that is not part of the venue itself.
type Meta struct {
	Confidence float64
	UpdatedAt  time.Time
	// Facilities is the stored facilities summary; checked only when
	// CheckFacilities is set.
	Facilities      string
	CheckFacilities bool
}

// Scorer evaluates venues.
type Scorer struct {
	cfg     Config
	nowFunc func() time.Time
}

// NewScorer creates a Scorer.
func NewScorer(cfg Config) *Scorer {
	if cfg.Fields == nil {
		cfg.Fields = model.DefaultFields()
	}
	if cfg.StaleDays <= cfg.FreshDays {
		cfg.StaleDays = cfg.FreshDays + 1
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Scorer{cfg: cfg, nowFunc: time.Now}
}

// EvaluateSource scores a normalized source record before merging.
func (s *Scorer) EvaluateSource(r model.SourceRecord) model.ValidationResult {
	return s.Evaluate(r.Venue, Meta{Confidence: r.Confidence, UpdatedAt: r.FetchedAt})
}

// EvaluateMerged scores a merged or persisted record.
func (s *Scorer) EvaluateMerged(r *model.MergedRecord) model.ValidationResult {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = r.CreatedAt
	}
	return s.Evaluate(r.Venue, Meta{
		Confidence:      r.Confidence,
		UpdatedAt:       updated,
		Facilities:      r.Facilities,
		CheckFacilities: true,
	})
}

// checks accumulates pass/fail results and issues for one component.
type checks struct {
	passed, total int
	issues        *[]model.Issue
}

func (c *checks) check(ok bool, field string, sev model.Severity, format string, args ...any) {
	c.total++
	if ok {
		c.passed++
		return
	}
	*c.issues = append(*c.issues, model.Issue{Field: field, Severity: sev, Message: fmt.Sprintf(format, args...)})
}

// ratio is 1 when nothing was applicable.
func (c *checks) ratio() float64 {
	if c.total == 0 {
		return 1
	}
	return float64(c.passed) / float64(c.total)
}

// Evaluate scores v. IsValid requires every validity check to pass and the
// overall score to reach MinOverall.
func (s *Scorer) Evaluate(v model.Venue, meta Meta) model.ValidationResult {
	var issues []model.Issue

	for _, key := range s.cfg.Fields.Missing(v) {
		f := s.cfg.Fields.ByKey(key)
		if f.Required || key == model.FieldLongitude || key == model.FieldLatitude {
			continue // reported by validity
		}
		if f.Priority >= 0.9 {
			issues = append(issues, model.Issue{Field: key, Severity: model.SeverityInfo, Message: "missing " + key})
		}
	}

	acc := checks{issues: &issues}
	if v.Phone != "" {
		formatted, ok := normalize.FormatPhone(v.Phone)
		acc.check(ok && formatted == v.Phone, model.FieldPhone, model.SeverityWarning, "phone %q is not in dashed form", v.Phone)
	}
	if v.HasCoordinates() {
		acc.check(s.cfg.Bounds.Contains(v.Latitude, v.Longitude), model.FieldLatitude, model.SeverityWarning,
			"coordinates %.5f,%.5f outside service area", v.Latitude, v.Longitude)
	}
	if v.OpenHour != "" {
		acc.check(normalize.ValidHour(v.OpenHour), model.FieldOpenHour, model.SeverityWarning, "invalid open hour %q", v.OpenHour)
	}
	if v.CloseHour != "" {
		acc.check(normalize.ValidHour(v.CloseHour), model.FieldCloseHour, model.SeverityWarning, "invalid close hour %q", v.CloseHour)
	}
	if v.Rating != 0 {
		acc.check(v.Rating > 0 && v.Rating <= 5, model.FieldRating, model.SeverityWarning, "rating %v out of range", v.Rating)
	}
	if v.ReviewCount != 0 {
		acc.check(v.ReviewCount > 0, model.FieldReviewCount, model.SeverityWarning, "negative review count %d", v.ReviewCount)
	}

	con := checks{issues: &issues}
	openM, okOpen := minutes(v.OpenHour)
	closeM, okClose := minutes(v.CloseHour)
	if okOpen && okClose {
		// A close before the open wraps past midnight; only an empty day is
		// inconsistent.
		con.check(openM != closeM || openM == 0, model.FieldCloseHour, model.SeverityWarning,
			"opens and closes at the same time (%s)", v.OpenHour)
	}
	if v.Is24Hours != nil && okOpen && okClose {
		allDay := openM == 0 && (closeM == 0 || closeM == 24*60)
		con.check(*v.Is24Hours == allDay, model.FieldIs24Hours, model.SeverityWarning,
			"24-hour flag %t disagrees with hours %s-%s", *v.Is24Hours, v.OpenHour, v.CloseHour)
	}
	if v.Name != "" && v.Address != "" {
		con.check(!strings.EqualFold(strings.TrimSpace(v.Name), strings.TrimSpace(v.Address)),
			model.FieldName, model.SeverityWarning, "name equals address")
	}
	if meta.CheckFacilities {
		want := model.FacilitySummary(v)
		con.check(meta.Facilities == want, "facilities", model.SeverityInfo,
			"facilities summary %q does not match flags (%q)", meta.Facilities, want)
	}

	val := checks{issues: &issues}
	val.check(strings.TrimSpace(v.Name) != "", model.FieldName, model.SeverityCritical, "missing name")
	val.check(strings.TrimSpace(v.Address) != "", model.FieldAddress, model.SeverityCritical, "missing address")
	val.check(v.HasCoordinates(), model.FieldLatitude, model.SeverityCritical, "missing coordinates")
	val.check(meta.Confidence >= s.cfg.ConfidenceThreshold, "confidence", model.SeverityCritical,
		"confidence %.2f below %.2f", meta.Confidence, s.cfg.ConfidenceThreshold)

	timeliness := s.timeliness(meta.UpdatedAt)
	if timeliness < 1 {
		sev := model.SeverityInfo
		if timeliness == 0 {
			sev = model.SeverityWarning
		}
		issues = append(issues, model.Issue{Field: "updated_at", Severity: sev, Message: "record is stale"})
	}

	score := model.QualityScore{
		Completeness: s.cfg.Fields.Completeness(v),
		Accuracy:     acc.ratio(),
		Consistency:  con.ratio(),
		Timeliness:   timeliness,
		Validity:     val.ratio(),
	}
	w := s.cfg.Weights
	score.Overall = clamp01(w.Completeness*score.Completeness +
		w.Accuracy*score.Accuracy +
		w.Consistency*score.Consistency +
		w.Timeliness*score.Timeliness +
		w.Validity*score.Validity)

	return model.ValidationResult{
		IsValid:         score.Validity == 1 && score.Overall >= s.cfg.MinOverall,
		Score:           score,
		Issues:          issues,
		Recommendations: Recommend(issues),
	}
}

// timeliness is 1 up to FreshDays old, then decays linearly to 0 at StaleDays.
// An unknown update time scores 0.
func (s *Scorer) timeliness(updated time.Time) float64 {
	if updated.IsZero() {
		return 0
	}
	age := s.nowFunc().Sub(updated)
	fresh := time.Duration(s.cfg.FreshDays) * 24 * time.Hour
	stale := time.Duration(s.cfg.StaleDays) * 24 * time.Hour
	switch {
	case age <= fresh:
		return 1
	case age >= stale:
		return 0
	}
	return 1 - float64(age-fresh)/float64(stale-fresh)
}

func minutes(hhmm string) (int, bool) {
	if !normalize.ValidHour(hhmm) {
		return 0, false
	}
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h*60 + m, true
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
