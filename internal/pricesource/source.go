// Package pricesource loads daily close histories from external providers
// and hands them to the returns pipeline as validated price points.
//
// Every source runs its raw rows through Sanitize, so provider artifacts
// (intraday timestamps, non-positive closes, repeated days) never reach the
// Store.
package pricesource

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"pricereturns/internal/returns"
)

// Source fetches the close history of the requested symbols.
// An empty symbol list means every symbol the source knows about.
type Source interface {
	Fetch(ctx context.Context, symbols []string) ([]returns.PricePoint, error)
}

// RawPrice is an unvalidated provider row
type RawPrice struct {
	Symbol string
	Date   string
	Close  float64
}

// SanitizeStats counts the rows Sanitize dropped, by reason
type SanitizeStats struct {
	Input       int `json:"input"`
	Output      int `json:"output"`
	EmptySymbol int `json:"empty_symbol"`
	BadDate     int `json:"bad_date"`
	BadClose    int `json:"bad_close"`
	Duplicates  int `json:"duplicates"`
}

// Dropped returns the number of rows removed
func (s SanitizeStats) Dropped() int {
	return s.Input - s.Output
}

// Sanitize converts raw rows to price points. Rows without a symbol, rows
// whose date is not a plain YYYY-MM-DD day and rows with a non-finite or
// non-positive close are dropped. When a (symbol, date) pair repeats, the
// last row wins. The result is sorted by symbol then date.
func Sanitize(rows []RawPrice) ([]returns.PricePoint, SanitizeStats) {
	stats := SanitizeStats{Input: len(rows)}

	type key struct {
		symbol string
		day    int64
	}
	index := make(map[key]int, len(rows))
	points := make([]returns.PricePoint, 0, len(rows))

	for _, r := range rows {
		symbol := strings.TrimSpace(r.Symbol)
		if symbol == "" {
			stats.EmptySymbol++
			continue
		}
		date, err := returns.ParseDay(r.Date)
		if err != nil {
			stats.BadDate++
			continue
		}
		if math.IsNaN(r.Close) || math.IsInf(r.Close, 0) || r.Close <= 0 {
			stats.BadClose++
			continue
		}

		p := returns.PricePoint{Symbol: symbol, Date: date, Close: r.Close}
		k := key{symbol: symbol, day: date.Unix()}
		if i, ok := index[k]; ok {
			points[i] = p
			stats.Duplicates++
			continue
		}
		index[k] = len(points)
		points = append(points, p)
	}

	sortPoints(points)

	stats.Output = len(points)
	return points, stats
}

// FetchError reports the symbols a source could not load. Points for the
// other symbols are still returned alongside it.
type FetchError struct {
	Failures map[string]error
}

func (e *FetchError) Error() string {
	symbols := e.Symbols()
	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		parts = append(parts, fmt.Sprintf("%s: %v", s, e.Failures[s]))
	}
	return fmt.Sprintf("failed to fetch %d symbols: %s", len(symbols), strings.Join(parts, "; "))
}

// Unwrap exposes the per-symbol errors to errors.Is and errors.As
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, s := range e.Symbols() {
		errs = append(errs, e.Failures[s])
	}
	return errs
}

// Symbols returns the failed symbols in sorted order
func (e *FetchError) Symbols() []string {
	symbols := make([]string, 0, len(e.Failures))
	for s := range e.Failures {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// symbolSet normalises a symbol filter. A nil result means no filter.
func symbolSet(symbols []string) map[string]struct{} {
	if len(symbols) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// uniqueSymbols trims, dedups and sorts a symbol list
func uniqueSymbols(symbols []string) []string {
	set := symbolSet(symbols)
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
