// Package model defines the shared venue, grouping, quality and run types used
// across the fusion pipeline.
package model

import (
	"strings"
	"time"
)

// Venue holds the observable facts about a fitness venue. It is shared by
// SourceRecord (one connector's observation) and MergedRecord (the fused view).
type Venue struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`

	// Latitude/Longitude of 0/0 means the location is unknown.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Facility flags. nil means the source did not say.
	Is24Hours           *bool `json:"is_24_hours,omitempty"`
	HasParking          *bool `json:"has_parking,omitempty"`
	HasShower           *bool `json:"has_shower,omitempty"`
	HasPersonalTraining *bool `json:"has_personal_training,omitempty"`
	HasGroupExercise    *bool `json:"has_group_exercise,omitempty"`
	HasGroupPT          *bool `json:"has_group_pt,omitempty"`

	OpenHour  string `json:"open_hour,omitempty"`
	CloseHour string `json:"close_hour,omitempty"`
	Price     string `json:"price,omitempty"`

	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
}

// HasCoordinates reports whether the venue carries a non-zero location.
func (v Venue) HasCoordinates() bool {
	return v.Latitude != 0 || v.Longitude != 0
}

// SourceRecord is one connector's observation of one venue.
type SourceRecord struct {
	Venue
	Source         string            `json:"source"`
	Confidence     float64           `json:"confidence"`
	AdditionalInfo map[string]string `json:"additional_info,omitempty"`
	FetchedAt      time.Time         `json:"fetched_at"`
}

// MergedRecord is the canonical fused venue record handed to persistence.
type MergedRecord struct {
	ID int64 `json:"id,omitempty"`
	Venue
	Facilities     string            `json:"facilities,omitempty"`
	Source         string            `json:"source"`
	Sources        []string          `json:"sources"`
	Confidence     float64           `json:"confidence"`
	DataQuality    float64           `json:"data_quality"`
	MemberCount    int               `json:"member_count"`
	AdditionalInfo map[string]string `json:"additional_info,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Facility identifies one boolean facility flag.
type Facility struct {
	Key   string
	Label string
	Get   func(v *Venue) *bool
	Set   func(v *Venue, b *bool)
}

// Facilities lists the boolean facility flags in display order.
var Facilities = []Facility{
	{
		Key: "is_24_hours", Label: "24시간 운영",
		Get: func(v *Venue) *bool { return v.Is24Hours },
		Set: func(v *Venue, b *bool) { v.Is24Hours = b },
	},
	{
		Key: "has_parking", Label: "주차 가능",
		Get: func(v *Venue) *bool { return v.HasParking },
		Set: func(v *Venue, b *bool) { v.HasParking = b },
	},
	{
		Key: "has_shower", Label: "샤워 시설",
		Get: func(v *Venue) *bool { return v.HasShower },
		Set: func(v *Venue, b *bool) { v.HasShower = b },
	},
	{
		Key: "has_personal_training", Label: "PT",
		Get: func(v *Venue) *bool { return v.HasPersonalTraining },
		Set: func(v *Venue, b *bool) { v.HasPersonalTraining = b },
	},
	{
		Key: "has_group_exercise", Label: "GX",
		Get: func(v *Venue) *bool { return v.HasGroupExercise },
		Set: func(v *Venue, b *bool) { v.HasGroupExercise = b },
	},
	{
		Key: "has_group_pt", Label: "그룹 PT",
		Get: func(v *Venue) *bool { return v.HasGroupPT },
		Set: func(v *Venue, b *bool) { v.HasGroupPT = b },
	},
}

// FacilitySummary joins the labels of every flag that is set to true.
func FacilitySummary(v Venue) string {
	var labels []string
	for _, f := range Facilities {
		if b := f.Get(&v); b != nil && *b {
			labels = append(labels, f.Label)
		}
	}
	return strings.Join(labels, ", ")
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}
