package normalize

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

// Trees normalizes raw tree records and drops those without a usable position.
// The returned count is the number of dropped records.
func Trees(raws []domain.RawRecord) ([]domain.DetectedTree, int) {
	out := make([]domain.DetectedTree, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		tree, ok := Tree(raw, i)
		if !ok {
			dropped++
			continue
		}
		out = append(out, tree)
	}
	return out, dropped
}

// Tree normalizes one raw tree record. index is used to name trees that carry no id.
func Tree(raw domain.RawRecord, index int) (domain.DetectedTree, bool) {
	if raw == nil {
		return domain.DetectedTree{}, false
	}
	rec := flattenProperties(raw)

	lat, lng, ok := position(rec)
	if !ok {
		return domain.DetectedTree{}, false
	}

	tree := domain.DetectedTree{
		ID:            treeID(rec, index),
		Latitude:      lat,
		Longitude:     lng,
		CrownDiameter: nonNegative(lookupNumber(rec, treeAliases.CrownDiameter)),
		Confidence:    confidence(rec),
		Health:        HealthCategory(lookupString(rec, treeAliases.Health)),
	}
	tree.NDVI, tree.NDVIStats = ndvi(rec)
	return tree, true
}

// HealthCategory folds an upstream health label into a canonical category.
func HealthCategory(label string) domain.HealthCategory {
	canonical, ok := healthLabels[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return domain.HealthUnknown
	}
	return domain.ParseHealthCategory(canonical)
}

// Summary normalizes a raw health summary. trees supplies the category breakdown and total
// when the payload omits them. Inconsistent is set when the categories do not sum to the total.
func Summary(surveyID string, raw domain.RawRecord, trees []domain.DetectedTree) domain.HealthSummary {
	rec := unwrapSummary(raw)
	summary := domain.HealthSummary{
		SurveyID:              surveyID,
		Categories:            emptyCategories(),
		TreesPerAcre:          nonNegative(lookupNumber(rec, summaryAliases.TreesPerAcre)),
		AverageNDVI:           lookupNumber(rec, summaryAliases.AverageNDVI),
		CanopyCoveragePercent: nonNegative(lookupNumber(rec, summaryAliases.CanopyCoverage)),
		AverageConfidence:     fraction(lookupNumber(rec, summaryAliases.AverageConfidence)),
	}

	categories, hasCategories := categoryCounts(rec)
	if hasCategories {
		for category, n := range categories {
			summary.Categories[category] += n
		}
	} else {
		for _, tree := range trees {
			summary.Categories[tree.Health]++
		}
	}

	if total := lookupNumber(rec, summaryAliases.TotalTrees); total != nil && *total >= 0 {
		summary.TotalTrees = int(math.Round(*total))
	} else if hasCategories {
		summary.TotalTrees = summary.CategoryTotal()
	} else {
		summary.TotalTrees = len(trees)
	}

	summary.Inconsistent = !summary.Consistent()
	return summary
}

func emptyCategories() map[domain.HealthCategory]int {
	out := make(map[domain.HealthCategory]int, len(domain.HealthCategories))
	for _, category := range domain.HealthCategories {
		out[category] = 0
	}
	return out
}

func categoryCounts(rec domain.RawRecord) (map[domain.HealthCategory]int, bool) {
	value, ok := lookup(rec, summaryAliases.Categories)
	if !ok {
		return nil, false
	}
	counts, ok := asRecord(value)
	if !ok {
		return nil, false
	}
	out := make(map[domain.HealthCategory]int, len(counts))
	for label, raw := range counts {
		n, ok := number(raw)
		if !ok || n < 0 {
			continue
		}
		out[HealthCategory(label)] += int(math.Round(n))
	}
	return out, true
}

func unwrapSummary(raw domain.RawRecord) domain.RawRecord {
	if raw == nil {
		return domain.RawRecord{}
	}
	for _, key := range summaryAliases.Wrappers {
		if inner, ok := asRecord(raw[key]); ok {
			return inner
		}
	}
	return raw
}

// flattenProperties lifts GeoJSON Feature properties to the top level; top-level keys win.
func flattenProperties(raw domain.RawRecord) domain.RawRecord {
	for _, key := range treeAliases.PropertiesObjects {
		props, ok := asRecord(raw[key])
		if !ok {
			continue
		}
		merged := make(domain.RawRecord, len(raw)+len(props))
		for k, v := range props {
			merged[k] = v
		}
		for k, v := range raw {
			if k == key {
				continue
			}
			merged[k] = v
		}
		return merged
	}
	return raw
}

func position(rec domain.RawRecord) (float64, float64, bool) {
	if lat, lng, ok := flatPosition(rec); ok {
		return lat, lng, true
	}
	for _, key := range treeAliases.PositionObjects {
		value, present := rec[key]
		if !present || value == nil {
			continue
		}
		if nested, ok := asRecord(value); ok {
			if lat, lng, ok := flatPosition(nested); ok {
				return lat, lng, true
			}
			continue
		}
		if lat, lng, ok := lonLatPair(value); ok {
			return lat, lng, true
		}
	}
	for _, key := range treeAliases.GeometryObjects {
		geometry, ok := asRecord(rec[key])
		if !ok {
			continue
		}
		if lat, lng, ok := lonLatPair(geometry["coordinates"]); ok {
			return lat, lng, true
		}
	}
	return 0, 0, false
}

func flatPosition(rec domain.RawRecord) (float64, float64, bool) {
	lat := lookupNumber(rec, treeAliases.Latitude)
	lng := lookupNumber(rec, treeAliases.Longitude)
	if lat == nil || lng == nil {
		return 0, 0, false
	}
	return validCoordinate(*lat, *lng)
}

// lonLatPair reads a GeoJSON position, which is ordered longitude first.
func lonLatPair(value any) (float64, float64, bool) {
	pair, ok := value.([]any)
	if !ok || len(pair) < 2 {
		return 0, 0, false
	}
	lng, okLng := number(pair[0])
	lat, okLat := number(pair[1])
	if !okLng || !okLat {
		return 0, 0, false
	}
	return validCoordinate(lat, lng)
}

func validCoordinate(lat, lng float64) (float64, float64, bool) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

func treeID(rec domain.RawRecord, index int) string {
	if id := lookupString(rec, treeAliases.ID); id != "" {
		return id
	}
	return fmt.Sprintf("tree-%d", index+1)
}

func confidence(rec domain.RawRecord) *float64 {
	if v := lookupNumber(rec, treeAliases.Confidence); v != nil {
		return fraction(v)
	}
	if v := lookupNumber(rec, treeAliases.ConfidencePercent); v != nil {
		scaled := *v / 100
		return fraction(&scaled)
	}
	return nil
}

// fraction accepts 0..1 as is and reads values in (1, 100] as percentages.
func fraction(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	if out > 1 && out <= 100 {
		out /= 100
	}
	if out < 0 || out > 1 {
		return nil
	}
	return &out
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func ndvi(rec domain.RawRecord) (*float64, *domain.NDVIStats) {
	var scalar *float64
	var stats *domain.NDVIStats

	for _, key := range treeAliases.NDVI {
		value, present := rec[key]
		if !present || value == nil {
			continue
		}
		if nested, ok := asRecord(value); ok {
			if stats == nil {
				stats = ndviStats(nested)
			}
			continue
		}
		if n, ok := number(value); ok {
			scalar = &n
			break
		}
	}

	if stats == nil {
		for _, key := range treeAliases.NDVIStats {
			if nested, ok := asRecord(rec[key]); ok {
				stats = ndviStats(nested)
				break
			}
		}
	}
	if stats == nil {
		lo := lookupNumber(rec, treeAliases.NDVIMin)
		hi := lookupNumber(rec, treeAliases.NDVIMax)
		if lo != nil || hi != nil {
			stats = &domain.NDVIStats{Mean: scalar, Min: lo, Max: hi}
		}
	}

	if scalar == nil && stats != nil {
		scalar = stats.Mean
	}
	return scalar, stats
}

func ndviStats(rec domain.RawRecord) *domain.NDVIStats {
	stats := &domain.NDVIStats{
		Mean: lookupNumber(rec, treeAliases.StatsMean),
		Min:  lookupNumber(rec, treeAliases.StatsMin),
		Max:  lookupNumber(rec, treeAliases.StatsMax),
	}
	if stats.Mean == nil && stats.Min == nil && stats.Max == nil {
		return nil
	}
	return stats
}

func lookup(rec domain.RawRecord, keys []string) (any, bool) {
	for _, key := range keys {
		if value, ok := rec[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func lookupNumber(rec domain.RawRecord, keys []string) *float64 {
	for _, key := range keys {
		value, ok := rec[key]
		if !ok || value == nil {
			continue
		}
		if n, ok := number(value); ok {
			return &n
		}
	}
	return nil
}

func lookupString(rec domain.RawRecord, keys []string) string {
	for _, key := range keys {
		value, ok := rec[key]
		if !ok || value == nil {
			continue
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case nil, bool:
		return 0, false
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false
		}
		value = strings.TrimSpace(v)
	}
	n, err := cast.ToFloat64E(value)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func asRecord(value any) (domain.RawRecord, bool) {
	switch v := value.(type) {
	case domain.RawRecord:
		return v, v != nil
	case map[string]any:
		return domain.RawRecord(v), v != nil
	default:
		return nil, false
	}
}
