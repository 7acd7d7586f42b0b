// Package match scores pairwise similarity between source records and groups
// records that describe the same venue.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/venue-fusion/internal/geo"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/normalize"
)

// Term weights of the similarity blend.
const (
	WeightName    = 0.4
	WeightAddress = 0.3
	WeightPhone   = 0.2
	WeightGeo     = 0.1
)

// DefaultThreshold is the similarity a record must exceed to join a group.
const DefaultThreshold = 0.8

// Breakdown exposes the individual terms of a similarity score. A term is
// nil when either record lacks the field.
type Breakdown struct {
	Name    *float64
	Address *float64
	Phone   *float64
	Geo     *float64
	Score   float64
}

// Similarity returns the weighted similarity of a and b in [0,1]. Terms for
// fields missing on either side are dropped and the remaining weights
// renormalized. Two records sharing no comparable field score 0.
func Similarity(a, b model.SourceRecord) float64 {
	return Compare(a, b).Score
}

// Compare returns the full similarity breakdown of a and b.
func Compare(a, b model.SourceRecord) Breakdown {
	var (
		bd          Breakdown
		sum, weight float64
	)
	add := func(dst **float64, v, w float64) {
		*dst = &v
		sum += v * w
		weight += w
	}

	if ta, tb := Tokens(a.Name), Tokens(b.Name); len(ta) > 0 && len(tb) > 0 {
		add(&bd.Name, Jaccard(ta, tb), WeightName)
	}
	if ta, tb := Tokens(a.Address), Tokens(b.Address); len(ta) > 0 && len(tb) > 0 {
		add(&bd.Address, Jaccard(ta, tb), WeightAddress)
	}
	if pa, pb := normalize.PhoneDigits(a.Phone), normalize.PhoneDigits(b.Phone); pa != "" && pb != "" {
		add(&bd.Phone, PhoneMatch(pa, pb), WeightPhone)
	}
	if a.HasCoordinates() && b.HasCoordinates() {
		d := geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		add(&bd.Geo, GeoBucket(d), WeightGeo)
	}

	if weight > 0 {
		bd.Score = sum / weight
	}
	return bd
}

// Tokens lower-cases s, maps punctuation to spaces and splits on whitespace.
// The result is a set.
func Tokens(s string) map[string]struct{} {
	s = strings.ToLower(norm.NFKC.String(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// PhoneMatch returns the fraction of positions at which two digit strings
// agree, measured over the longer string.
func PhoneMatch(a, b string) float64 {
	longer, shorter := a, b
	if len(b) > len(a) {
		longer, shorter = b, a
	}
	if len(longer) == 0 {
		return 0
	}
	same := 0
	for i := 0; i < len(shorter); i++ {
		if shorter[i] == longer[i] {
			same++
		}
	}
	return float64(same) / float64(len(longer))
}

// GeoBucket maps a distance in meters to a proximity score.
func GeoBucket(meters float64) float64 {
	switch {
	case meters <= 100:
		return 1.0
	case meters <= 1000:
		return 0.8
	case meters <= 5000:
		return 0.5
	default:
		return 0
	}
}

// SamePlace reports whether two records already known to share a name sit
// at the same place: within 1 km when both carry coordinates, else sharing at
// least half their address tokens. Records with neither field agree.
func SamePlace(a, b model.SourceRecord) bool {
	if a.HasCoordinates() && b.HasCoordinates() {
		return geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude) <= 1000
	}
	ta, tb := Tokens(a.Address), Tokens(b.Address)
	if len(ta) == 0 || len(tb) == 0 {
		return true
	}
	return Jaccard(ta, tb) >= 0.5
}
