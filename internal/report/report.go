// Package report encodes a sprint plan as a two-sheet tracking workbook:
// a per-task detail sheet with a constrained Status column and a
// per-sprint summary sheet whose Remaining column is a live formula.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"sprintsheet/internal/domain"
)

const (
	DetailSheet  = "Sprint & Task Tracking"
	SummarySheet = "Sprint Summary"

	headerFill  = "748B75"
	headerFont  = "FFFFFF"
	maxColWidth = 50
)

// Properties are written to the workbook's core document properties.
type Properties struct {
	Title      string
	Identifier string
	Created    time.Time
}

// Build renders the registry into a new workbook. Tasks keep registry
// order; sprints are ordered by sprint number. The caller owns the
// returned file and must Close it.
func Build(reg domain.Registry, props Properties) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := build(f, reg, props); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func build(f *excelize.File, reg domain.Registry, props Properties) error {
	if err := f.SetSheetName(f.GetSheetName(0), DetailSheet); err != nil {
		return fmt.Errorf("rename detail sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	style, err := headerStyle(f)
	if err != nil {
		return err
	}
	if err := writeDetail(f, style, reg.Tasks); err != nil {
		return err
	}
	if err := writeSummary(f, style, reg.SprintsByNumber()); err != nil {
		return err
	}
	created := props.Created.UTC().Format(time.RFC3339)
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:      props.Title,
		Subject:    "Sprint & task tracking",
		Creator:    "sprintsheet",
		Identifier: props.Identifier,
		Created:    created,
		Modified:   created,
	}); err != nil {
		return fmt.Errorf("set document properties: %w", err)
	}
	f.SetActiveSheet(0)
	return nil
}

// Save writes the workbook to path, creating parent directories.
func Save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func headerStyle(f *excelize.File) (int, error) {
	id, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: headerFont},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
			WrapText:   true,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("header style: %w", err)
	}
	return id, nil
}

func writeHeader(f *excelize.File, sheet string, style int, headers []string) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func setWidths(f *excelize.File, sheet string, widths []float64) error {
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, min(w, maxColWidth)); err != nil {
			return err
		}
	}
	return nil
}
