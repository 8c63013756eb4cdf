package exporter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"pricereturns/internal/returns"
)

// CSVExporter writes the returns table as CSV
type CSVExporter struct {
	// BOMPrefix adds a UTF-8 BOM for Excel compatibility
	BOMPrefix bool
	logger    *slog.Logger
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(logger *slog.Logger) *CSVExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVExporter{logger: logger}
}

// Format implements Exporter
func (e *CSVExporter) Format() string { return FormatCSV }

// Export implements Exporter
func (e *CSVExporter) Export(ctx context.Context, path string, rows []returns.ResolvedReturnRow) error {
	e.logger.InfoContext(ctx, "Writing CSV file",
		slog.String("file_path", path),
		slog.Int("record_count", len(rows)))

	return writeAtomic(path, func(tmp string) error {
		sw, err := CreateStreamWriter(tmp, e.BOMPrefix)
		if err != nil {
			return err
		}
		for i, r := range rows {
			if i%1024 == 0 && ctx.Err() != nil {
				sw.Close()
				return ctx.Err()
			}
			if err := sw.WriteRow(r); err != nil {
				sw.Close()
				return fmt.Errorf("failed to write record %d: %w", i, err)
			}
		}
		return sw.Close()
	})
}

// WriteCSV writes rows to w, header first
func WriteCSV(w io.Writer, rows []returns.ResolvedReturnRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, r := range rows {
		if err := writer.Write(record(r)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// StreamWriter provides streaming CSV writing for large tables
type StreamWriter struct {
	file   *os.File
	writer *csv.Writer
}

// CreateStreamWriter creates the file at path and writes the header
func CreateStreamWriter(path string, bom bool) (*StreamWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	if bom {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(Columns); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	return &StreamWriter{file: file, writer: writer}, nil
}

// WriteRow writes a single row to the stream
func (s *StreamWriter) WriteRow(r returns.ResolvedReturnRow) error {
	return s.writer.Write(record(r))
}

// Close flushes and closes the stream writer
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// ReadCSVFile reads a table previously written by CSVExporter
func ReadCSVFile(path string) ([]returns.ResolvedReturnRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses an exported returns table. The header must match Columns.
func ReadCSV(r io.Reader) ([]returns.ResolvedReturnRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Columns)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header")
	}
	if err != nil {
		return nil, err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i+1, header[i], col)
		}
	}

	var rows []returns.ResolvedReturnRow
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(rec []string) (returns.ResolvedReturnRow, error) {
	row := returns.ResolvedReturnRow{Symbol: rec[0]}
	var err error
	if row.EffectiveDate, err = returns.ParseDay(rec[1]); err != nil {
		return row, fmt.Errorf("effective_date: %w", err)
	}
	if row.PreviousDate, err = returns.ParseDay(rec[2]); err != nil {
		return row, fmt.Errorf("previous_date: %w", err)
	}
	if row.EndPrice, err = parseNull(rec[3]); err != nil {
		return row, fmt.Errorf("end_price: %w", err)
	}
	if row.StartPrice, err = parseNull(rec[4]); err != nil {
		return row, fmt.Errorf("start_price: %w", err)
	}
	if row.NormReturn, err = parseNull(rec[5]); err != nil {
		return row, fmt.Errorf("norm_return: %w", err)
	}
	if row.NormReturnCumulative, err = parseNull(rec[6]); err != nil {
		return row, fmt.Errorf("norm_return_cumulative: %w", err)
	}
	return row, nil
}
