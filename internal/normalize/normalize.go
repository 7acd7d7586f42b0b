// Package normalize validates and coerces raw connector output into the
// canonical SourceRecord form.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/venue-fusion/internal/geo"
	"github.com/sells-group/venue-fusion/internal/model"
)

// DefaultConfidence replaces a missing record confidence.
const DefaultConfidence = 0.5

// Rejection causes.
var (
	ErrInvalidCoordinates = eris.New("normalize: invalid coordinates")
	ErrMissingName        = eris.New("normalize: missing name")
	ErrMissingSource      = eris.New("normalize: missing source")
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	hourRe  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Config controls normalization.
type Config struct {
	// Bounds rejects coordinates outside the area. Zero accepts any valid point.
	Bounds            geo.Bounds
	DefaultConfidence float64
}

// Normalizer is the type guard between connectors and the rest of the pipeline.
type Normalizer struct {
	cfg Config
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	if cfg.DefaultConfidence <= 0 || cfg.DefaultConfidence > 1 {
		cfg.DefaultConfidence = DefaultConfidence
	}
	return &Normalizer{cfg: cfg}
}

// Result is a canonical record plus the non-fatal issues found on the way.
type Result struct {
	Record model.SourceRecord
	Issues []model.Issue
}

// Normalize returns the canonical form of rec. Records without a name or
// source, or with unusable coordinates, are rejected. Other bad fields are
// cleared and reported as issues. rec is not modified.
func (n *Normalizer) Normalize(rec model.SourceRecord) (Result, error) {
	out := rec
	out.AdditionalInfo = copyInfo(rec.AdditionalInfo)
	var issues []model.Issue
	warn := func(field, format string, args ...any) {
		issues = append(issues, model.Issue{
			Field:    field,
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	out.Source = strings.TrimSpace(out.Source)
	if out.Source == "" {
		return Result{}, ErrMissingSource
	}
	out.Name = CleanText(out.Name)
	if out.Name == "" {
		return Result{}, eris.Wrapf(ErrMissingName, "source %s", out.Source)
	}
	out.Address = CleanText(out.Address)

	lat, lng, err := n.coordinates(out.Latitude, out.Longitude)
	if err != nil {
		return Result{}, eris.Wrapf(err, "%s (%s): lat=%v lng=%v", out.Name, out.Source, out.Latitude, out.Longitude)
	}
	out.Latitude, out.Longitude = lat, lng

	if raw := strings.TrimSpace(out.Phone); raw != "" {
		phone, ok := FormatPhone(raw)
		if !ok {
			warn(model.FieldPhone, "invalid phone %q", raw)
		}
		out.Phone = phone
	}

	if h, ok := normalizeHour(out.OpenHour); ok {
		out.OpenHour = h
	} else {
		warn(model.FieldOpenHour, "invalid open hour %q", out.OpenHour)
		out.OpenHour = ""
	}
	if h, ok := normalizeHour(out.CloseHour); ok {
		out.CloseHour = h
	} else {
		warn(model.FieldCloseHour, "invalid close hour %q", out.CloseHour)
		out.CloseHour = ""
	}

	out.Price = strings.TrimSpace(out.Price)

	switch {
	case math.IsNaN(out.Rating) || out.Rating < 0:
		if out.Rating != 0 {
			warn(model.FieldRating, "rating %v out of range", out.Rating)
		}
		out.Rating = 0
	case out.Rating > 5:
		warn(model.FieldRating, "rating %v out of range", out.Rating)
		out.Rating = 5
	}
	if out.ReviewCount < 0 {
		warn(model.FieldReviewCount, "negative review count %d", out.ReviewCount)
		out.ReviewCount = 0
	}

	switch {
	case math.IsNaN(out.Confidence) || out.Confidence <= 0:
		out.Confidence = n.cfg.DefaultConfidence
	case out.Confidence > 1:
		out.Confidence = 1
	}

	return Result{Record: out, Issues: issues}, nil
}

// coordinates treats 0/0 as absent and rejects anything not finite, out of
// WGS84 range or outside the configured bounds.
func (n *Normalizer) coordinates(lat, lng float64) (float64, float64, error) {
	if lat == 0 && lng == 0 {
		return 0, 0, nil
	}
	if !geo.ValidLatLng(lat, lng) || !n.cfg.Bounds.Contains(lat, lng) {
		return 0, 0, ErrInvalidCoordinates
	}
	return lat, lng, nil
}

// CleanText applies NFKC, trims and collapses whitespace.
func CleanText(s string) string {
	s = norm.NFKC.String(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// normalizeHour accepts H:MM or HH:MM between 00:00 and 24:00. Empty is valid.
func normalizeHour(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	m := hourRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 24 || mm > 59 || (h == 24 && mm != 0) {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, mm), true
}

// ValidHour reports whether s is a canonical HH:MM time.
func ValidHour(s string) bool {
	h, ok := normalizeHour(s)
	return ok && h == s && s != ""
}

func copyInfo(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
