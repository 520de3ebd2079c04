// Package export renders donor rankings as spreadsheets for hospital
// coordinators.
package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/bloodlink/bloodlink-hub/internal/domain/matching"
)

// SheetName is the worksheet holding the ranking.
const SheetName = "Donor Ranking"

// RankingHeader is the first row of the sheet.
var RankingHeader = []string{
	"Rank",
	"Donor ID",
	"Full Name",
	"Blood Group",
	"Distance (km)",
	"ETA (min)",
	"ETA Source",
	"Eligibility",
	"Reliability",
	"Score",
	"Location",
}

var columnWidths = []float64{8, 38, 24, 12, 14, 10, 14, 12, 12, 10, 32}

// RankingXLSX renders a ranking result into an xlsx workbook.
func RankingXLSX(res *matching.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteRankingXLSX(&buf, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRankingXLSX writes the workbook to w.
func WriteRankingXLSX(w io.Writer, res *matching.Result) (err error) {
	if res == nil {
		return fmt.Errorf("export ranking: nil result")
	}

	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8D7DA"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &RankingHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(RankingHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, d := range res.AllDonors {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			d.Rank,
			d.DonorID,
			d.FullName,
			string(d.BloodGroup),
			d.DistanceKm,
			d.ETAMinutes,
			string(d.ETASource),
			d.EligibilityScore,
			d.ReliabilityScore,
			d.Score,
			d.Location.String(),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
