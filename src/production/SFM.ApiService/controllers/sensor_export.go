package controllers

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

var readingColumns = []string{"Timestamp", "Device", "External ID", "Temperature", "Humidity", "Soil Moisture", "Lux", "pH", "Fan", "Pump", "Light"}

// BuildReadingsXLSX renders readings as a single-sheet workbook
func BuildReadingsXLSX(readings []sfmmodels.Reading) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "readings"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, name := range readingColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, name)
	}

	for i, r := range readings {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), r.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), r.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), r.ExternalID)
		setOptional(f, sheet, fmt.Sprintf("D%d", row), r.Temperature)
		setOptional(f, sheet, fmt.Sprintf("E%d", row), r.Humidity)
		setOptional(f, sheet, fmt.Sprintf("F%d", row), r.SoilMoisture)
		setOptional(f, sheet, fmt.Sprintf("G%d", row), r.Lux)
		setOptional(f, sheet, fmt.Sprintf("H%d", row), r.PH)
		_ = f.SetCellValue(sheet, fmt.Sprintf("I%d", row), string(r.RelayFan))
		_ = f.SetCellValue(sheet, fmt.Sprintf("J%d", row), string(r.RelayPump))
		_ = f.SetCellValue(sheet, fmt.Sprintf("K%d", row), string(r.RelayLight))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// absent measurements stay empty cells
func setOptional(f *excelize.File, sheet, cell string, v *float64) {
	if v != nil {
		_ = f.SetCellValue(sheet, cell, *v)
	}
}
