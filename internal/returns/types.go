package returns

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// DateLayout is the day-precision layout used for every date this package reads or writes
const DateLayout = "2006-01-02"

// DefaultToleranceDays is the reference asof tolerance window
const DefaultToleranceDays = 28

const secondsPerDay = 24 * 60 * 60

// Day truncates t to midnight UTC of the calendar date it carries in its own location
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC day
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// dayNumber returns the number of days since the Unix epoch for t's calendar date
func dayNumber(t time.Time) int64 {
	return Day(t).Unix() / secondsPerDay
}

// dayFromNumber is the inverse of dayNumber
func dayFromNumber(n int64) time.Time {
	return time.Unix(n*secondsPerDay, 0).UTC()
}

// PricePoint is a single daily close observation for a symbol
type PricePoint struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
}

// Validate checks that the point can enter a Store
func (p PricePoint) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return &PriceError{Symbol: p.Symbol, Date: p.Date, Close: p.Close, Err: ErrEmptySymbol}
	}
	if p.Date.IsZero() {
		return &PriceError{Symbol: p.Symbol, Date: p.Date, Close: p.Close, Err: ErrMissingDate}
	}
	if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) || p.Close <= 0 {
		return &PriceError{Symbol: p.Symbol, Date: p.Date, Close: p.Close, Err: ErrInvalidPrice}
	}
	return nil
}

// String returns a compact representation used in logs
func (p PricePoint) String() string {
	return fmt.Sprintf("%s@%s=%g", p.Symbol, p.Date.Format(DateLayout), p.Close)
}

// EffectiveDateRow is a candidate date for which a return is computed
type EffectiveDateRow struct {
	Symbol        string    `json:"symbol"`
	EffectiveDate time.Time `json:"effective_date"`
	PreviousDate  time.Time `json:"previous_date"`
}

// ResolvedReturnRow is one row of the output table.
// Absent prices or returns are represented by invalid null.Float values.
type ResolvedReturnRow struct {
	Symbol               string     `json:"symbol"`
	EffectiveDate        time.Time  `json:"effective_date"`
	PreviousDate         time.Time  `json:"previous_date"`
	EndPrice             null.Float `json:"end_price"`
	StartPrice           null.Float `json:"start_price"`
	NormReturn           null.Float `json:"norm_return"`
	NormReturnCumulative null.Float `json:"norm_return_cumulative"`
}

// MatchStats counts tolerance misses while resolving a symbol
type MatchStats struct {
	Rows          int `json:"rows"`
	EndMisses     int `json:"end_misses"`
	StartMisses   int `json:"start_misses"`
	AbsentReturns int `json:"absent_returns"`
}

// Add accumulates other into s
func (s *MatchStats) Add(other MatchStats) {
	s.Rows += other.Rows
	s.EndMisses += other.EndMisses
	s.StartMisses += other.StartMisses
	s.AbsentReturns += other.AbsentReturns
}

// Summary describes a finished pipeline run
type Summary struct {
	Symbols   int           `json:"symbols"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Matches   MatchStats    `json:"matches"`
	Duration  time.Duration `json:"duration"`
}
