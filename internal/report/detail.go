package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"sprintsheet/internal/domain"
)

// DetailHeaders is the detail sheet column schema, in order.
var DetailHeaders = []string{
	"Sprint #", "Sprint Name", "Task ID", "Task Title", "User Story (short)",
	"Area", "Type", "AI/Non-AI", "Risk", "SP", "Status", "Start Date", "Completed Date",
	"Dependencies", "Acceptance Criteria Ref", "Tracker Notes (Dev Agent)",
}

// StatusColumn is the 1-based index of the Status column.
const StatusColumn = 11

// frozenCell keeps the header row and the first five columns in view.
const frozenCell = "F2"

var detailWidths = []float64{8, 22, 8, 42, 38, 18, 10, 8, 8, 4, 14, 12, 14, 18, 28, 32}

func writeDetail(f *excelize.File, style int, tasks []domain.TaskRecord) error {
	if err := writeHeader(f, DetailSheet, style, DetailHeaders); err != nil {
		return err
	}
	for i, t := range tasks {
		row := []any{
			t.SprintNumber, t.SprintName, t.ID, t.Title, t.UserStory,
			t.Area, t.Type, t.AIFlag, t.Risk, t.StoryPoints,
			domain.StatusNotStarted,
			"", // start date
			"", // completed date
			t.Dependencies,
			t.AcceptanceRef(),
			"", // tracker notes
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(DetailSheet, cell, &row); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	if len(tasks) > 0 {
		if err := attachStatusValidation(f, DetailSheet, len(tasks)); err != nil {
			return err
		}
	}
	if err := setWidths(f, DetailSheet, detailWidths); err != nil {
		return err
	}
	return f.SetPanes(DetailSheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      5,
		YSplit:      1,
		TopLeftCell: frozenCell,
		ActivePane:  "bottomRight",
		Selection: []excelize.Selection{
			{SQRef: frozenCell, ActiveCell: frozenCell, Pane: "bottomRight"},
		},
	})
}
