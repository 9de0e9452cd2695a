package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SheetInfo describes one sheet of a reopened workbook.
type SheetInfo struct {
	Name     string   `json:"name"`
	Headers  []string `json:"headers"`
	DataRows int      `json:"data_rows"`
}

// Inspection is what a generated workbook exposes when reopened.
type Inspection struct {
	Sheets     []SheetInfo `json:"sheets"`
	Identifier string      `json:"identifier,omitempty"`
	StatusRule *StatusRule `json:"status_rule,omitempty"`
}

// InspectFile opens the workbook at path and describes it.
func InspectFile(path string) (Inspection, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Inspection{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Inspect(f)
}

// InspectReader describes a workbook read from r.
func InspectReader(r io.Reader) (Inspection, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Inspection{}, err
	}
	defer f.Close()
	return Inspect(f)
}

// Inspect lists sheets in workbook order with their header row and
// number of data rows.
func Inspect(f *excelize.File) (Inspection, error) {
	var out Inspection
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return Inspection{}, fmt.Errorf("read %s: %w", name, err)
		}
		info := SheetInfo{Name: name}
		if len(rows) > 0 {
			info.Headers = rows[0]
			info.DataRows = len(rows) - 1
		}
		out.Sheets = append(out.Sheets, info)
	}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		out.Identifier = props.Identifier
	}
	if rule, err := ReadStatusRule(f); err == nil {
		out.StatusRule = &rule
	}
	return out, nil
}
