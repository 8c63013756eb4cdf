package pricesource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"pricereturns/internal/returns"
)

var (
	symbolColumns = []string{"symbol", "ticker"}
	dateColumns   = []string{"date", "day"}
	closeColumns  = []string{"adjusted_close", "adj close", "adj_close", "adjclose", "close"}
)

// CSVSource reads a long-format price table (symbol, date, close) from disk.
type CSVSource struct {
	Path   string
	Logger *slog.Logger
}

// NewCSVSource creates a CSV backed source
func NewCSVSource(path string, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{Path: path, Logger: logger.With("component", "pricesource.csv")}
}

// Fetch implements Source. Requested symbols missing from the file are not
// an error here; the pipeline reports them as unknown.
func (s *CSVSource) Fetch(ctx context.Context, symbols []string) ([]returns.PricePoint, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()

	rows, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.Path, err)
	}

	if filter := symbolSet(symbols); filter != nil {
		kept := rows[:0]
		for _, r := range rows {
			if _, ok := filter[strings.TrimSpace(r.Symbol)]; ok {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	points, stats := Sanitize(rows)
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Loaded price file",
		slog.String("path", s.Path),
		slog.Int("rows", stats.Input),
		slog.Int("points", stats.Output),
		slog.Int("dropped", stats.Dropped()))

	return points, nil
}

// ParseCSV reads price rows. The header is optional: without one the columns
// are symbol, date, close. With one, columns are matched case-insensitively
// and adjusted closes are preferred over raw closes.
func ParseCSV(r io.Reader) ([]RawPrice, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	symCol, dateCol, closeCol := 0, 1, 2
	var rows []RawPrice
	if looksLikeData(first) {
		rows = append(rows, rawFrom(first, symCol, dateCol, closeCol))
	} else {
		symCol, dateCol, closeCol, err = headerColumns(first)
		if err != nil {
			return nil, err
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rawFrom(record, symCol, dateCol, closeCol))
	}
	return rows, nil
}

func looksLikeData(record []string) bool {
	if len(record) < 3 {
		return false
	}
	_, err := returns.ParseDay(record[1])
	return err == nil
}

func headerColumns(header []string) (symCol, dateCol, closeCol int, err error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	find := func(names []string) int {
		for _, n := range names {
			if i, ok := index[n]; ok {
				return i
			}
		}
		return -1
	}

	symCol, dateCol, closeCol = find(symbolColumns), find(dateColumns), find(closeColumns)
	if symCol < 0 || dateCol < 0 || closeCol < 0 {
		return 0, 0, 0, fmt.Errorf("header %v needs symbol, date and close columns", header)
	}
	return symCol, dateCol, closeCol, nil
}

func rawFrom(record []string, symCol, dateCol, closeCol int) RawPrice {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	px, err := strconv.ParseFloat(field(closeCol), 64)
	if err != nil {
		px = math.NaN()
	}
	return RawPrice{Symbol: field(symCol), Date: field(dateCol), Close: px}
}
