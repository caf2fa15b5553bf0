// Package export renders a staff member's day as an XLSX sheet.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"appointly/internal/model"
	"github.com/xuri/excelize/v2"
)

var daySheetColumns = []string{"Start", "End", "Client", "Phone", "Location", "Service", "Status", "Notes"}

// Sheet writes rows into an excelize workbook one sheet at a time.
type Sheet struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

// NewSheet creates an empty workbook.
func NewSheet() *Sheet {
	return &Sheet{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The first call renames the default one.
func (w *Sheet) AddSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers.
func (w *Sheet) WriteHeader(columns []string) error {
	if err := w.WriteRow(toRow(columns)); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *Sheet) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}

	w.currentRow++
	return nil
}

func (w *Sheet) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *Sheet) Close() error {
	return w.file.Close()
}

// WriteDaySheet writes the day's working hours and appointments, sorted by start.
func WriteDaySheet(wr io.Writer, staffID string, date time.Time, hours model.WorkingHours, appts []model.Appointment) error {
	sheet := NewSheet()
	defer sheet.Close()

	if err := sheet.AddSheet(fmt.Sprintf("%s %s", staffID, date.Format("2006-01-02"))); err != nil {
		return err
	}
	if err := sheet.WriteRow([]interface{}{"Staff", staffID, "Date", date.Format("2006-01-02"), "Hours", hoursLabel(hours)}); err != nil {
		return err
	}
	if err := sheet.WriteHeader(daySheetColumns); err != nil {
		return err
	}

	sorted := append([]model.Appointment(nil), appts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	for i := range sorted {
		a := &sorted[i]
		row := []interface{}{
			a.Start.Format("15:04"),
			a.End().Format("15:04"),
			a.Client.Name,
			a.Client.Phone,
			a.LocationID,
			a.ServiceID,
			string(a.Status),
			a.Notes,
		}
		if err := sheet.WriteRow(row); err != nil {
			return fmt.Errorf("write appointment %s: %w", a.ID, err)
		}
	}

	return sheet.Save(wr)
}

func hoursLabel(h model.WorkingHours) string {
	switch h.Kind {
	case model.WorkingInterval:
		return h.Start.String() + "-" + h.End.String()
	case model.WorkingOff:
		return "off"
	default:
		return "unset"
	}
}

func toRow(cols []string) []interface{} {
	row := make([]interface{}, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	return row
}
