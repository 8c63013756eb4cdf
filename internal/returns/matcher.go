package returns

import (
	"fmt"

	"github.com/guregu/null/v6"
)

// Matcher resolves start and end prices for effective dates using a
// backward-looking asof match bounded by a fixed tolerance window
type Matcher struct {
	store         *Store
	toleranceDays int
}

// NewMatcher creates a matcher over store with the given tolerance in days
func NewMatcher(store *Store, toleranceDays int) (*Matcher, error) {
	if toleranceDays < 0 {
		return nil, fmt.Errorf("new matcher (tolerance=%d): %w", toleranceDays, ErrNegativeTolerance)
	}
	return &Matcher{store: store, toleranceDays: toleranceDays}, nil
}

// ToleranceDays returns the configured tolerance window
func (m *Matcher) ToleranceDays() int {
	return m.toleranceDays
}

// Resolve performs the two independent lookups for row.
// A miss on one leg never prevents the other from being attempted.
func (m *Matcher) Resolve(row EffectiveDateRow) ResolvedReturnRow {
	out := ResolvedReturnRow{
		Symbol:        row.Symbol,
		EffectiveDate: row.EffectiveDate,
		PreviousDate:  row.PreviousDate,
	}
	if end, ok := m.store.NearestAtOrBefore(row.Symbol, row.EffectiveDate, m.toleranceDays); ok {
		out.EndPrice = null.FloatFrom(end.Close)
	}
	if start, ok := m.store.NearestAtOrBefore(row.Symbol, row.PreviousDate, m.toleranceDays); ok {
		out.StartPrice = null.FloatFrom(start.Close)
	}
	return out
}

// ResolveAll resolves every row and reports tolerance misses per leg
func (m *Matcher) ResolveAll(rows []EffectiveDateRow) ([]ResolvedReturnRow, MatchStats) {
	out := make([]ResolvedReturnRow, len(rows))
	stats := MatchStats{Rows: len(rows)}
	for i, row := range rows {
		out[i] = m.Resolve(row)
		if !out[i].EndPrice.Valid {
			stats.EndMisses++
		}
		if !out[i].StartPrice.Valid {
			stats.StartMisses++
		}
	}
	return out, stats
}
