package model

// FieldSpec describes one venue field and how much it matters when ranking
// records and scoring completeness.
type FieldSpec struct {
	Key      string  `json:"key"`
	Priority float64 `json:"priority"`
	Required bool    `json:"required"`
	Numeric  bool    `json:"numeric"`
}

// Field keys.
const (
	FieldName                = "name"
	FieldAddress             = "address"
	FieldPhone               = "phone"
	FieldLatitude            = "latitude"
	FieldLongitude           = "longitude"
	FieldIs24Hours           = "is_24_hours"
	FieldHasParking          = "has_parking"
	FieldHasShower           = "has_shower"
	FieldHasPersonalTraining = "has_personal_training"
	FieldHasGroupExercise    = "has_group_exercise"
	FieldHasGroupPT          = "has_group_pt"
	FieldOpenHour            = "open_hour"
	FieldCloseHour           = "close_hour"
	FieldPrice               = "price"
	FieldRating              = "rating"
	FieldReviewCount         = "review_count"
)

// FieldRegistry is an indexed, ordered collection of field specs.
type FieldRegistry struct {
	Fields []FieldSpec
	byKey  map[string]*FieldSpec
	total  float64
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byKey[f.Key] = f
		r.total += f.Priority
	}
	return r
}

// DefaultFields returns the field-priority table used for ranking and scoring.
func DefaultFields() *FieldRegistry {
	return NewFieldRegistry([]FieldSpec{
		{Key: FieldName, Priority: 1.0, Required: true},
		{Key: FieldAddress, Priority: 0.95, Required: true},
		{Key: FieldPhone, Priority: 0.9},
		{Key: FieldLatitude, Priority: 0.85, Numeric: true},
		{Key: FieldLongitude, Priority: 0.85, Numeric: true},
		{Key: FieldIs24Hours, Priority: 0.8},
		{Key: FieldHasPersonalTraining, Priority: 0.8},
		{Key: FieldHasParking, Priority: 0.75},
		{Key: FieldHasShower, Priority: 0.75},
		{Key: FieldHasGroupExercise, Priority: 0.7},
		{Key: FieldHasGroupPT, Priority: 0.7},
		{Key: FieldOpenHour, Priority: 0.6},
		{Key: FieldCloseHour, Priority: 0.6},
		{Key: FieldPrice, Priority: 0.5},
		{Key: FieldRating, Priority: 0.5, Numeric: true},
		{Key: FieldReviewCount, Priority: 0.5, Numeric: true},
	})
}

// ByKey returns the field definition for key, or nil if unknown.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// Priority returns the priority of key, or 0 if unknown.
func (r *FieldRegistry) Priority(key string) float64 {
	if f := r.byKey[key]; f != nil {
		return f.Priority
	}
	return 0
}

// Completeness returns the priority-weighted fraction of fields present on v.
func (r *FieldRegistry) Completeness(v Venue) float64 {
	if r.total == 0 {
		return 0
	}
	var have float64
	for _, f := range r.Fields {
		if Present(v, f.Key) {
			have += f.Priority
		}
	}
	return have / r.total
}

// Missing returns the keys of fields absent from v, in registry order.
func (r *FieldRegistry) Missing(v Venue) []string {
	var out []string
	for _, f := range r.Fields {
		if !Present(v, f.Key) {
			out = append(out, f.Key)
		}
	}
	return out
}

// Present reports whether the field named key carries a value on v.
func Present(v Venue, key string) bool {
	switch key {
	case FieldName:
		return v.Name != ""
	case FieldAddress:
		return v.Address != ""
	case FieldPhone:
		return v.Phone != ""
	case FieldLatitude, FieldLongitude:
		return v.HasCoordinates()
	case FieldOpenHour:
		return v.OpenHour != ""
	case FieldCloseHour:
		return v.CloseHour != ""
	case FieldPrice:
		return v.Price != ""
	case FieldRating:
		return v.Rating > 0
	case FieldReviewCount:
		return v.ReviewCount > 0
	}
	for _, f := range Facilities {
		if f.Key == key {
			return f.Get(&v) != nil
		}
	}
	return false
}
