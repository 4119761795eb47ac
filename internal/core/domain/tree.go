package domain

type HealthCategory string

const (
	HealthHealthy  HealthCategory = "healthy"
	HealthModerate HealthCategory = "moderate"
	HealthStressed HealthCategory = "stressed"
	HealthCritical HealthCategory = "critical"
	HealthUnknown  HealthCategory = "unknown"
)

// HealthCategories lists every category in display order.
var HealthCategories = []HealthCategory{
	HealthHealthy,
	HealthModerate,
	HealthStressed,
	HealthCritical,
	HealthUnknown,
}

// ParseHealthCategory folds free-form labels into a known category.
func ParseHealthCategory(raw string) HealthCategory {
	switch HealthCategory(raw) {
	case HealthHealthy, HealthModerate, HealthStressed, HealthCritical:
		return HealthCategory(raw)
	default:
		return HealthUnknown
	}
}

type NDVIStats struct {
	Mean *float64 `json:"mean,omitempty"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// DetectedTree is one classified tree in a completed survey, in canonical form.
type DetectedTree struct {
	ID            string         `json:"id"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	CrownDiameter *float64       `json:"crown_diameter,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Health        HealthCategory `json:"health_category"`
	NDVI          *float64       `json:"ndvi,omitempty"`
	NDVIStats     *NDVIStats     `json:"ndvi_stats,omitempty"`
}

// HealthSummary is the aggregate view of a completed survey.
type HealthSummary struct {
	SurveyID              string                 `json:"survey_id"`
	TotalTrees            int                    `json:"total_trees"`
	TreesPerAcre          *float64               `json:"trees_per_acre,omitempty"`
	Categories            map[HealthCategory]int `json:"categories"`
	AverageNDVI           *float64               `json:"average_ndvi,omitempty"`
	CanopyCoveragePercent *float64               `json:"canopy_coverage_percent,omitempty"`
	AverageConfidence     *float64               `json:"average_confidence,omitempty"`
	Inconsistent          bool                   `json:"inconsistent,omitempty"`
}

func (h HealthSummary) CategoryTotal() int {
	total := 0
	for _, n := range h.Categories {
		total += n
	}
	return total
}

// Consistent reports whether the category counts sum to the declared total.
func (h HealthSummary) Consistent() bool {
	return h.CategoryTotal() == h.TotalTrees
}

// RawRecord is an undecoded tree or summary object as produced by the detection job.
type RawRecord map[string]any
