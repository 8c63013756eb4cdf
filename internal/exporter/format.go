package exporter

import (
	"strconv"
	"time"

	"github.com/guregu/null/v6"

	"pricereturns/internal/returns"
)

// Columns is the header shared by every export format
var Columns = []string{
	"symbol",
	"effective_date",
	"previous_date",
	"end_price",
	"start_price",
	"norm_return",
	"norm_return_cumulative",
}

// formatFloat formats a float64 with the shortest representation that parses back to the same value
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatNull formats an optional float, absent values become the empty string
func formatNull(f null.Float) string {
	if !f.Valid {
		return ""
	}
	return formatFloat(f.Float64)
}

func formatDate(t time.Time) string {
	return t.Format(returns.DateLayout)
}

// record renders one row in column order
func record(r returns.ResolvedReturnRow) []string {
	return []string{
		r.Symbol,
		formatDate(r.EffectiveDate),
		formatDate(r.PreviousDate),
		formatNull(r.EndPrice),
		formatNull(r.StartPrice),
		formatNull(r.NormReturn),
		formatNull(r.NormReturnCumulative),
	}
}

// parseNull is the inverse of formatNull
func parseNull(s string) (null.Float, error) {
	if s == "" {
		return null.Float{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	return null.FloatFrom(f), nil
}
