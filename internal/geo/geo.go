// Package geo provides distance, bounds and encoding helpers for venue
// coordinates.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is the spatial reference used for stored locations (WGS84).
const SRID = 4326

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Bounds is a lat/lng bounding box.
type Bounds struct {
	MinLat float64 `mapstructure:"min_lat" json:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat" json:"max_lat"`
	MinLng float64 `mapstructure:"min_lng" json:"min_lng"`
	MaxLng float64 `mapstructure:"max_lng" json:"max_lng"`
}

// KoreaBounds covers the Korean peninsula and nearby islands.
var KoreaBounds = Bounds{MinLat: 33.0, MaxLat: 38.9, MinLng: 124.5, MaxLng: 132.0}

// IsZero reports whether no bounds are configured.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Contains reports whether the point lies inside b. A zero Bounds contains
// every valid point.
func (b Bounds) Contains(lat, lng float64) bool {
	if !ValidLatLng(lat, lng) {
		return false
	}
	if b.IsZero() {
		return true
	}
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ValidLatLng reports whether lat/lng are finite and within WGS84 range.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// EncodePoint returns the EWKB encoding of a WGS84 point.
func EncodePoint(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// DecodePoint parses an EWKB point into lat/lng.
func DecodePoint(data []byte) (lat, lng float64, err error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geo: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, eris.Errorf("geo: expected point, got %T", g)
	}
	return p.Y(), p.X(), nil
}
