package report

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"sprintsheet/internal/domain"
)

const (
	StatusErrorTitle   = "Invalid status"
	StatusErrorMessage = "Pick one of: Not Started, In Progress, Code Complete, Review, Done"
)

// ErrNoStatusRule is returned when a detail sheet carries no list rule on
// the Status column.
var ErrNoStatusRule = errors.New("status validation rule not found")

// attachStatusValidation restricts Status over every data row to the
// tracker statuses. Blank is rejected.
func attachStatusValidation(f *excelize.File, sheet string, rows int) error {
	first, err := excelize.CoordinatesToCellName(StatusColumn, 2)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(StatusColumn, rows+1)
	if err != nil {
		return err
	}
	dv := excelize.NewDataValidation(false)
	dv.Sqref = first + ":" + last
	if err := dv.SetDropList(domain.Statuses); err != nil {
		return fmt.Errorf("status list: %w", err)
	}
	dv.SetError(excelize.DataValidationErrorStyleStop, StatusErrorTitle, StatusErrorMessage)
	if err := f.AddDataValidation(sheet, dv); err != nil {
		return fmt.Errorf("status validation: %w", err)
	}
	return nil
}

// StatusRule is the Status constraint as stored in a workbook.
type StatusRule struct {
	Range      string   `json:"range"`
	Values     []string `json:"values"`
	AllowBlank bool     `json:"allow_blank"`
	Message    string   `json:"message,omitempty"`

	col, firstRow, lastRow int
}

// ReadStatusRule extracts the list validation covering the Status column
// of the detail sheet.
func ReadStatusRule(f *excelize.File) (StatusRule, error) {
	dvs, err := f.GetDataValidations(DetailSheet)
	if err != nil {
		return StatusRule{}, err
	}
	for _, dv := range dvs {
		if dv == nil || dv.Type != "list" {
			continue
		}
		col, first, last, err := parseRange(dv.Sqref)
		if err != nil || col != StatusColumn {
			continue
		}
		rule := StatusRule{
			Range:      dv.Sqref,
			Values:     listValues(dv.Formula1),
			AllowBlank: dv.AllowBlank,
			col:        col,
			firstRow:   first,
			lastRow:    last,
		}
		if dv.Error != nil {
			rule.Message = *dv.Error
		}
		return rule, nil
	}
	return StatusRule{}, ErrNoStatusRule
}

// Accepts reports whether a spreadsheet application enforcing the rule
// would accept value in cell. Cells outside the rule's range are
// unconstrained.
func (r StatusRule) Accepts(cell, value string) bool {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return false
	}
	if col != r.col || row < r.firstRow || row > r.lastRow {
		return true
	}
	if value == "" {
		return r.AllowBlank
	}
	return slices.Contains(r.Values, value)
}

func parseRange(sqref string) (col, first, last int, err error) {
	start, end, ok := strings.Cut(strings.TrimSpace(sqref), ":")
	if !ok {
		end = start
	}
	col, first, err = excelize.CellNameToCoordinates(start)
	if err != nil {
		return 0, 0, 0, err
	}
	endCol, last, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return 0, 0, 0, err
	}
	if endCol != col {
		return 0, 0, 0, fmt.Errorf("range %s spans several columns", sqref)
	}
	return col, first, last, nil
}

// listValues decodes an inline list formula such as "\"a,b\"".
func listValues(formula string) []string {
	formula = strings.TrimPrefix(formula, "<formula1>")
	formula = strings.TrimSuffix(formula, "</formula1>")
	formula = strings.TrimSpace(formula)
	formula = strings.TrimPrefix(formula, `"`)
	formula = strings.TrimSuffix(formula, `"`)
	formula = strings.ReplaceAll(formula, `""`, `"`)
	if formula == "" {
		return nil
	}
	return strings.Split(formula, ",")
}
