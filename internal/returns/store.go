package returns

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// series holds one symbol's observations as parallel slices sorted by day
type series struct {
	days   []int64
	closes []float64
}

// nearest returns the index of the last observation at or before day within tolerance, or -1
func (s *series) nearest(day, toleranceDays int64) int {
	i := sort.Search(len(s.days), func(i int) bool { return s.days[i] > day }) - 1
	if i < 0 || day-s.days[i] > toleranceDays {
		return -1
	}
	return i
}

// Store is an immutable, symbol-partitioned table of daily closes.
// It is safe for concurrent readers once built.
type Store struct {
	series  map[string]*series
	symbols []string
	size    int
}

// NewStore validates points and builds a Store from them.
// Ingestion fails on the first invalid or duplicate point.
func NewStore(points []PricePoint) (*Store, error) {
	sorted := make([]PricePoint, len(points))
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("ingest price %d: %w", i, err)
		}
		p.Symbol = strings.TrimSpace(p.Symbol)
		p.Date = Day(p.Date)
		sorted[i] = p
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})

	st := &Store{series: make(map[string]*series), size: len(sorted)}
	var cur *series
	for i, p := range sorted {
		day := dayNumber(p.Date)
		if i > 0 && sorted[i-1].Symbol == p.Symbol {
			if cur.days[len(cur.days)-1] == day {
				return nil, fmt.Errorf("ingest prices: %w", &PriceError{
					Symbol: p.Symbol, Date: p.Date, Close: p.Close, Err: ErrDuplicatePrice,
				})
			}
		} else {
			cur = &series{}
			st.series[p.Symbol] = cur
			st.symbols = append(st.symbols, p.Symbol)
		}
		cur.days = append(cur.days, day)
		cur.closes = append(cur.closes, p.Close)
	}

	return st, nil
}

// Len returns the number of observations in the store
func (st *Store) Len() int {
	return st.size
}

// Symbols returns the sorted list of symbols with at least one observation
func (st *Store) Symbols() []string {
	out := make([]string, len(st.symbols))
	copy(out, st.symbols)
	return out
}

// Has reports whether the symbol has observations
func (st *Store) Has(symbol string) bool {
	_, ok := st.series[symbol]
	return ok
}

// Bounds returns the first and last observed dates for symbol
func (st *Store) Bounds(symbol string) (time.Time, time.Time, error) {
	s, ok := st.series[symbol]
	if !ok || len(s.days) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("bounds for %q: %w", symbol, ErrUnknownSymbol)
	}
	return dayFromNumber(s.days[0]), dayFromNumber(s.days[len(s.days)-1]), nil
}

// NearestAtOrBefore returns the observation with the greatest date not after target,
// provided it is at most toleranceDays away. Absence is reported with ok=false.
func (st *Store) NearestAtOrBefore(symbol string, target time.Time, toleranceDays int) (PricePoint, bool) {
	s, ok := st.series[symbol]
	if !ok || toleranceDays < 0 {
		return PricePoint{}, false
	}
	i := s.nearest(dayNumber(target), int64(toleranceDays))
	if i < 0 {
		return PricePoint{}, false
	}
	return PricePoint{Symbol: symbol, Date: dayFromNumber(s.days[i]), Close: s.closes[i]}, true
}

// Points returns a copy of the observations for symbol in ascending date order
func (st *Store) Points(symbol string) []PricePoint {
	s, ok := st.series[symbol]
	if !ok {
		return nil
	}
	out := make([]PricePoint, len(s.days))
	for i := range s.days {
		out[i] = PricePoint{Symbol: symbol, Date: dayFromNumber(s.days[i]), Close: s.closes[i]}
	}
	return out
}
