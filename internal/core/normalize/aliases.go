// Package normalize resolves the field-name variants found in detection payloads into the
// canonical tree and summary schema. Every accepted alias is listed in this file.
package normalize

// Keys are tried in order; the first present, non-null value wins.
type treeAliasTable struct {
	ID                []string
	Latitude          []string
	Longitude         []string
	PositionObjects   []string
	GeometryObjects   []string
	PropertiesObjects []string
	CrownDiameter     []string
	Confidence        []string
	ConfidencePercent []string
	Health            []string
	NDVI              []string
	NDVIStats         []string
	NDVIMin           []string
	NDVIMax           []string
	StatsMean         []string
	StatsMin          []string
	StatsMax          []string
}

type summaryAliasTable struct {
	Wrappers          []string
	TotalTrees        []string
	TreesPerAcre      []string
	Categories        []string
	AverageNDVI       []string
	CanopyCoverage    []string
	AverageConfidence []string
}

var treeAliases = treeAliasTable{
	ID:                []string{"id", "tree_id", "uuid"},
	Latitude:          []string{"latitude", "lat", "y"},
	Longitude:         []string{"longitude", "lng", "lon", "long", "x"},
	PositionObjects:   []string{"position", "location", "coordinates", "coords"},
	GeometryObjects:   []string{"geometry", "geom"},
	PropertiesObjects: []string{"properties"},
	CrownDiameter:     []string{"crown_diameter", "crown_diameter_m", "canopy_diameter", "diameter"},
	Confidence:        []string{"confidence", "detection_confidence", "score"},
	ConfidencePercent: []string{"confidence_pct", "confidence_percent"},
	Health:            []string{"health_category", "health_status", "health", "category"},
	NDVI:              []string{"ndvi", "ndvi_mean", "mean_ndvi"},
	NDVIStats:         []string{"ndvi_stats", "ndvi_statistics"},
	NDVIMin:           []string{"ndvi_min", "min_ndvi"},
	NDVIMax:           []string{"ndvi_max", "max_ndvi"},
	StatsMean:         []string{"mean", "avg", "average"},
	StatsMin:          []string{"min"},
	StatsMax:          []string{"max"},
}

var summaryAliases = summaryAliasTable{
	Wrappers:          []string{"summary", "health_summary"},
	TotalTrees:        []string{"total_trees", "tree_count", "total_count", "count"},
	TreesPerAcre:      []string{"trees_per_acre", "density_per_acre", "tree_density"},
	Categories:        []string{"health_distribution", "category_counts", "health_breakdown", "health_counts", "categories"},
	AverageNDVI:       []string{"average_ndvi", "avg_ndvi", "mean_ndvi"},
	CanopyCoverage:    []string{"canopy_coverage_percent", "canopy_coverage_pct", "canopy_coverage"},
	AverageConfidence: []string{"average_confidence", "avg_confidence", "mean_confidence"},
}

// healthLabels maps lower-cased upstream labels onto canonical categories.
var healthLabels = map[string]string{
	"healthy":  "healthy",
	"good":     "healthy",
	"moderate": "moderate",
	"fair":     "moderate",
	"medium":   "moderate",
	"stressed": "stressed",
	"poor":     "stressed",
	"critical": "critical",
	"severe":   "critical",
	"dying":    "critical",
	"dead":     "critical",
	"unknown":  "unknown",
}
