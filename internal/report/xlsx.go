// Package report exports a finished migration run as a spreadsheet.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/zeebo/errs"

	"github.com/chmdznr/template-file-migrator/internal/migrate"
	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// Error is the class of report errors.
var Error = errs.Class("report")

const (
	summarySheet = "Summary"
	itemsSheet   = "Items"
)

var itemHeader = []any{
	"Source record", "Filename", "Size", "Target record", "Content version", "Status", "Failure kind", "Error",
}

// WriteXLSX writes result to path with a Summary and an Items sheet.
func WriteXLSX(path string, result *migrate.Result) (err error) {
	if result == nil {
		return Error.New("no result")
	}

	f := excelize.NewFile()
	defer func() {
		err = errs.Combine(err, Error.Wrap(f.Close()))
	}()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return Error.Wrap(err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return Error.Wrap(err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return Error.Wrap(err)
	}

	if err := writeSummary(f, result, bold); err != nil {
		return Error.Wrap(err)
	}
	if err := writeItems(f, result, bold); err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(f.SaveAs(path))
}

func writeSummary(f *excelize.File, result *migrate.Result, bold int) error {
	report := result.Report
	if report == nil {
		report = &models.TransferReport{}
	}
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	rows := [][]any{
		{"Run", result.RunID},
		{"State", string(result.State)},
		{"Started", result.StartedAt.Format(time.RFC3339)},
		{"Finished", result.FinishedAt.Format(time.RFC3339)},
		{"Linked records", result.Resolve.LinkedRecords},
		{"Resolved", result.Resolve.Resolved},
		{"No version", result.Resolve.NoVersion},
		{"Fetch failed", result.Resolve.FetchFailed},
		{"Uploaded", report.Succeeded},
		{"Skipped", report.Skipped},
		{"Failed", len(report.Failed)},
		{"Error", errMsg},
	}
	for i, row := range rows {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}

func writeItems(f *excelize.File, result *migrate.Result, bold int) error {
	if err := setRow(f, itemsSheet, 1, itemHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(itemsSheet, 1, 1, bold); err != nil {
		return err
	}

	var outcomes []models.Outcome
	if result.Report != nil {
		outcomes = result.Report.Outcomes
	}
	for i, item := range result.Items {
		var outcome models.Outcome
		if i < len(outcomes) {
			outcome = outcomes[i]
		} else {
			outcome.Status = models.StatusPending
		}
		row := []any{
			item.SourceRecordID,
			item.Filename,
			item.Size(),
			outcome.TargetRecordID,
			outcome.ContentVersionID,
			outcome.Status,
			string(outcome.Kind),
			outcome.Error,
		}
		if err := setRow(f, itemsSheet, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(itemsSheet, "A", "H", 20)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
