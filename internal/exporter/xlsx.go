package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/guregu/null/v6"
	"github.com/xuri/excelize/v2"

	"pricereturns/internal/returns"
)

// SheetName is the worksheet holding the returns table
const SheetName = "returns"

// XLSXExporter writes the returns table as an Excel workbook
type XLSXExporter struct {
	logger *slog.Logger
}

// NewXLSXExporter creates a new workbook exporter
func NewXLSXExporter(logger *slog.Logger) *XLSXExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXExporter{logger: logger}
}

// Format implements Exporter
func (e *XLSXExporter) Format() string { return FormatXLSX }

// Export implements Exporter. Absent values are left as empty cells.
func (e *XLSXExporter) Export(ctx context.Context, path string, rows []returns.ResolvedReturnRow) error {
	e.logger.InfoContext(ctx, "Writing workbook",
		slog.String("file_path", path),
		slog.Int("record_count", len(rows)))

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	header := make([]interface{}, len(Columns))
	for i, col := range Columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, r := range rows {
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cellValues(r)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}

	return writeAtomic(path, func(tmp string) error {
		out, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := f.Write(out); err != nil {
			out.Close()
			return fmt.Errorf("failed to write workbook: %w", err)
		}
		return out.Close()
	})
}

func cellValues(r returns.ResolvedReturnRow) []interface{} {
	return []interface{}{
		r.Symbol,
		formatDate(r.EffectiveDate),
		formatDate(r.PreviousDate),
		nullCell(r.EndPrice),
		nullCell(r.StartPrice),
		nullCell(r.NormReturn),
		nullCell(r.NormReturnCumulative),
	}
}

// nullCell maps an absent value to nil so the stream writer leaves the cell empty
func nullCell(f null.Float) interface{} {
	if !f.Valid {
		return nil
	}
	return f.Float64
}
