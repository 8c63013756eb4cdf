package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"pricereturns/internal/returns"
)

// Supported formats
const (
	FormatCSV    = "csv"
	FormatXLSX   = "xlsx"
	FormatSQLite = "sqlite"
)

// Exporter persists a returns table to path, replacing any previous content
type Exporter interface {
	Export(ctx context.Context, path string, rows []returns.ResolvedReturnRow) error
	Format() string
}

// New returns the exporter for format
func New(format string, logger *slog.Logger) (Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "exporter")

	switch strings.ToLower(format) {
	case FormatCSV:
		return NewCSVExporter(logger), nil
	case FormatXLSX:
		return NewXLSXExporter(logger), nil
	case FormatSQLite, "sqlite3", "db":
		return NewSQLiteExporter(logger), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// FormatFromPath guesses the format from a file extension, defaulting to csv
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatXLSX
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatCSV
	}
}

// writeAtomic runs write against a temporary file next to path and renames
// it into place once write succeeds
func writeAtomic(path string, write func(tmp string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()
	defer os.Remove(tmp)

	if err := write(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}
