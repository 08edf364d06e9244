package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

func (s *Sheet) header() []string {
	h := []string{"S.No", "Name", s.SecondaryLabel}
	if s.ShowsLocation() {
		h = append(h, "Location")
	}
	return append(h, "Status", "Entry Time", "Exit Time", "Overall %")
}

func (s *Sheet) record(r Row) []string {
	rec := []string{strconv.Itoa(r.No), r.Name, r.SecondaryID}
	if s.ShowsLocation() {
		rec = append(rec, r.LocationText())
	}
	return append(rec, r.Status, r.EntryTime, r.ExitTime, r.Percentage)
}

// WriteCSV writes the sheet as CSV with a header row.
func (s *Sheet) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.header()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range s.Rows {
		if err := cw.Write(s.record(r)); err != nil {
			return fmt.Errorf("writing row %d: %w", r.No, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the sheet as an Excel workbook with one worksheet.
func (s *Sheet) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := fmt.Sprintf("%s %s", s.Category, s.Date)
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	activeStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E8F5E9"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create row style: %w", err)
	}

	header := s.header()
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(sheetName, "B", lastCol, 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, r := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		values := make([]any, 0, len(header))
		for _, v := range s.record(r) {
			values = append(values, v)
		}
		values[0] = r.No
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.No, err)
		}
		if r.Active {
			end := fmt.Sprintf("%s%d", lastCol, i+2)
			if err := f.SetCellStyle(sheetName, cell, end, activeStyle); err != nil {
				return fmt.Errorf("failed to set row style: %w", err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
