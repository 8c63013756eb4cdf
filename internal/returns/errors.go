package returns

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownSymbol is returned when a symbol has no price observations
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrInvalidPrice is returned for non-finite or non-positive prices
	ErrInvalidPrice = errors.New("invalid price")
	// ErrDuplicatePrice is returned when a (symbol, date) pair is observed twice
	ErrDuplicatePrice = errors.New("duplicate price for symbol and date")
	// ErrEmptySymbol is returned for a blank symbol identifier
	ErrEmptySymbol = errors.New("empty symbol")
	// ErrMissingDate is returned for a zero date
	ErrMissingDate = errors.New("missing date")
	// ErrUnorderedRows is returned when rows handed to the compounder are not one symbol in ascending date order
	ErrUnorderedRows = errors.New("rows not in ascending date order for a single symbol")
	// ErrNegativeTolerance is returned for a tolerance window below zero days
	ErrNegativeTolerance = errors.New("tolerance days must not be negative")
)

// PriceError describes a price point rejected at ingestion
type PriceError struct {
	Symbol string
	Date   time.Time
	Close  float64
	Err    error
}

func (e *PriceError) Error() string {
	date := "<zero>"
	if !e.Date.IsZero() {
		date = e.Date.Format(DateLayout)
	}
	return fmt.Sprintf("price %q on %s (close=%g): %v", e.Symbol, date, e.Close, e.Err)
}

func (e *PriceError) Unwrap() error {
	return e.Err
}

// SymbolError records the failure of a single symbol partition
type SymbolError struct {
	Symbol string `json:"symbol"`
	Err    error  `json:"-"`
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("symbol %s: %v", e.Symbol, e.Err)
}

func (e *SymbolError) Unwrap() error {
	return e.Err
}

// RunError aggregates every per-symbol failure of a pipeline run
type RunError struct {
	Total    int
	Failures []SymbolError
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d symbols failed", len(e.Failures), e.Total)
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Symbol)
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As
func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = &e.Failures[i]
	}
	return errs
}

// FailedSymbols lists the symbols that failed, in run order
func (e *RunError) FailedSymbols() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Symbol
	}
	return out
}
