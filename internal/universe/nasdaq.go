package universe

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

const (
	columnNasdaqTraded = "Nasdaq Traded"
	columnSymbol       = "Symbol"
	columnTestIssue    = "Test Issue"
	footerPrefix       = "File Creation Time"
)

// NasdaqTradedFile reads the pipe-delimited nasdaqtraded.txt symbol
// directory and keeps the rows flagged as Nasdaq traded.
type NasdaqTradedFile struct {
	Path              string
	ExcludeTestIssues bool
	Logger            *slog.Logger
}

// Symbols implements Source
func (n *NasdaqTradedFile) Symbols(ctx context.Context) ([]string, error) {
	f, err := os.Open(n.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol directory: %w", err)
	}
	defer f.Close()

	symbols, skipped, err := ParseNasdaqTraded(f, n.ExcludeTestIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", n.Path, err)
	}

	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Loaded symbol universe",
		slog.String("component", "universe.nasdaq"),
		slog.String("path", n.Path),
		slog.Int("symbols", len(symbols)),
		slog.Int("skipped", skipped))

	return symbols, nil
}

// ParseNasdaqTraded returns the sorted, deduplicated symbols of rows whose
// "Nasdaq Traded" column is Y. Malformed symbols are skipped and counted.
func ParseNasdaqTraded(r io.Reader, excludeTestIssues bool) ([]string, int, error) {
	reader := csv.NewReader(r)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("empty symbol directory")
		}
		return nil, 0, err
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	tradedCol, ok := cols[columnNasdaqTraded]
	if !ok {
		return nil, 0, fmt.Errorf("missing %q column", columnNasdaqTraded)
	}
	symbolCol, ok := cols[columnSymbol]
	if !ok {
		return nil, 0, fmt.Errorf("missing %q column", columnSymbol)
	}
	testCol, hasTestCol := cols[columnTestIssue]

	seen := make(map[string]struct{})
	var symbols []string
	skipped := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		if len(record) > 0 && strings.HasPrefix(record[0], footerPrefix) {
			continue
		}
		if len(record) <= tradedCol || len(record) <= symbolCol {
			skipped++
			continue
		}
		if strings.TrimSpace(record[tradedCol]) != "Y" {
			continue
		}
		if excludeTestIssues && hasTestCol && len(record) > testCol && strings.TrimSpace(record[testCol]) == "Y" {
			continue
		}

		symbol := strings.TrimSpace(record[symbolCol])
		if ValidateSymbol(symbol) != nil {
			skipped++
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)
	return symbols, skipped, nil
}
