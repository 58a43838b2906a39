package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/middleware"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheet     = "Patients"
)

// patientExportHeader lists the exported columns in order.
var patientExportHeader = []string{
	"Name", "Email", "Phone", "Date of Birth", "Medical Notes", "Created At", "Updated At",
}

var patientColumnWidths = []float64{28, 32, 18, 15, 60, 22, 22}

// Export handles GET /v1/patients/export: all of the caller's patients as
// one spreadsheet, sorted by name.
func (h *PatientHandler) Export(c echo.Context) error {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	patients, err := h.Patients.AllByOwner(ctx, uid)
	if err != nil {
		h.Log.Error("export patients failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}
	data, err := BuildPatientWorkbook(patients)
	if err != nil {
		h.Log.Error("build patient workbook failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "export failed"})
	}
	name := fmt.Sprintf("patients-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

// BuildPatientWorkbook renders patients as an .xlsx file with a styled
// header row.
func BuildPatientWorkbook(patients []model.Patient) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, title := range patientExportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, title); err != nil {
			return nil, fmt.Errorf("header cell %s: %w", cell, err)
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, col, col, patientColumnWidths[i]); err != nil {
			return nil, fmt.Errorf("column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(patientExportHeader), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for r, p := range patients {
		row := []interface{}{
			p.Name,
			deref(p.Email),
			deref(p.Phone),
			"",
			deref(p.MedicalNotes),
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if p.DateOfBirth != nil {
			row[3] = p.DateOfBirth.String()
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("row %d: %w", r+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
