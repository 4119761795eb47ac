// Package xlsx renders normalized survey results as a spreadsheet.
package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

const (
	SummarySheet = "Summary"
	TreesSheet   = "Trees"
)

var treeHeader = []any{
	"Tree ID", "Latitude", "Longitude", "Crown diameter (m)", "Confidence", "Health", "NDVI", "NDVI min", "NDVI max",
}

// Write renders survey, its health summary and trees into a two-sheet workbook.
func Write(w io.Writer, survey domain.Survey, summary domain.HealthSummary, trees []domain.DetectedTree) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeSummary(f, bold, survey, summary); err != nil {
		return err
	}
	if err := writeTrees(f, bold, trees); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, bold int, survey domain.Survey, summary domain.HealthSummary) error {
	rows := [][]any{
		{"Survey", survey.ID},
		{"Field", survey.FieldID},
		{"File", survey.Filename},
		{"Capture date", survey.CaptureDate},
		{"Total trees", summary.TotalTrees},
		{"Trees per acre", optional(summary.TreesPerAcre)},
		{"Average NDVI", optional(summary.AverageNDVI)},
		{"Canopy coverage (%)", optional(summary.CanopyCoveragePercent)},
		{"Average confidence", optional(summary.AverageConfidence)},
		{},
		{"Health category", "Trees"},
	}
	for _, category := range domain.HealthCategories {
		rows = append(rows, []any{string(category), summary.Categories[category]})
	}
	if summary.Inconsistent {
		rows = append(rows, []any{}, []any{"Note", fmt.Sprintf(
			"category counts add up to %d, total reported is %d", summary.CategoryTotal(), summary.TotalTrees,
		)})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("style summary labels: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 24)
}

func writeTrees(f *excelize.File, bold int, trees []domain.DetectedTree) error {
	if _, err := f.NewSheet(TreesSheet); err != nil {
		return fmt.Errorf("create trees sheet: %w", err)
	}
	if err := f.SetSheetRow(TreesSheet, "A1", &treeHeader); err != nil {
		return fmt.Errorf("write trees header: %w", err)
	}
	if err := f.SetRowStyle(TreesSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style trees header: %w", err)
	}

	for i, tree := range trees {
		row := []any{
			tree.ID,
			tree.Latitude,
			tree.Longitude,
			optional(tree.CrownDiameter),
			optional(tree.Confidence),
			string(tree.Health),
			optional(tree.NDVI),
			nil,
			nil,
		}
		if tree.NDVIStats != nil {
			row[7] = optional(tree.NDVIStats.Min)
			row[8] = optional(tree.NDVIStats.Max)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(TreesSheet, cell, &row); err != nil {
			return fmt.Errorf("write tree row %d: %w", i+2, err)
		}
	}
	return f.SetColWidth(TreesSheet, "A", "I", 16)
}

func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
