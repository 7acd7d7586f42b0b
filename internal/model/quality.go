package model

// Severity ranks a quality issue.
type Severity string

// Issue severities.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is a single quality finding on one field.
type Issue struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// QualityScore holds the composite score and its components, each in [0,1].
type QualityScore struct {
	Overall      float64 `json:"overall"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Timeliness   float64 `json:"timeliness"`
	Validity     float64 `json:"validity"`
}

// ValidationResult is the outcome of a quality evaluation.
type ValidationResult struct {
	IsValid         bool         `json:"is_valid"`
	Score           QualityScore `json:"score"`
	Issues          []Issue      `json:"issues,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// Critical returns the critical issues only.
func (r ValidationResult) Critical() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			out = append(out, i)
		}
	}
	return out
}
