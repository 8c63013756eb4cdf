// Package exporter writes the returns table produced by the pipeline.
//
// Three formats share one column layout:
//
//	symbol, effective_date, previous_date, end_price, start_price,
//	norm_return, norm_return_cumulative
//
// Dates are YYYY-MM-DD. Absent prices and returns are written as empty
// cells (CSV, XLSX) or NULL (SQLite). Floats use the shortest decimal form
// that round-trips, so exporting the same rows twice yields identical files.
//
// Example usage:
//
//	exp, err := exporter.New(exporter.FormatCSV, logger)
//	if err != nil {
//	    return err
//	}
//	err = exp.Export(ctx, "data/reports/returns.csv", result.Rows)
package exporter
