package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"sprintsheet/internal/domain"
)

var SummaryHeaders = []string{
	"Sprint #", "Sprint Name", "Capacity (SP)", "Planned SP", "Tasks", "Done", "Remaining",
}

var summaryWidths = []float64{8, 38, 12, 12, 12, 12, 12}

const (
	plannedCol   = "D"
	doneCol      = "F"
	remainingCol = "G"
)

// RemainingFormula is the Remaining formula body (without the leading
// "=") for a summary row: Planned SP minus Done.
func RemainingFormula(row int) string {
	return fmt.Sprintf("%s%d-%s%d", plannedCol, row, doneCol, row)
}

func writeSummary(f *excelize.File, style int, sprints []domain.SprintSummary) error {
	if err := writeHeader(f, SummarySheet, style, SummaryHeaders); err != nil {
		return err
	}
	for i, s := range sprints {
		r := i + 2
		row := []any{s.Number, s.Name, s.CapacityPoints, s.PlannedPoints, s.TaskCount, s.DoneCount}
		if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", r), &row); err != nil {
			return fmt.Errorf("sprint %d: %w", s.Number, err)
		}
		if err := f.SetCellFormula(SummarySheet, fmt.Sprintf("%s%d", remainingCol, r), RemainingFormula(r)); err != nil {
			return fmt.Errorf("sprint %d remaining: %w", s.Number, err)
		}
	}
	return setWidths(f, SummarySheet, summaryWidths)
}
