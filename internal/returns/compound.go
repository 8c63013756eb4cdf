package returns

import (
	"fmt"

	"github.com/guregu/null/v6"
)

// Compound fills NormReturnCumulative with the running product of NormReturn.
// Rows must belong to one symbol and be in strictly ascending date order.
// The fold is seeded with 1.0 and an absent return carries the previous value
// forward unchanged, so a matching gap neither resets nor breaks the series.
func Compound(rows []ResolvedReturnRow) error {
	for i := 1; i < len(rows); i++ {
		if rows[i].Symbol != rows[0].Symbol || !rows[i].EffectiveDate.After(rows[i-1].EffectiveDate) {
			return fmt.Errorf("compound at row %d: %w", i, ErrUnorderedRows)
		}
	}

	acc := 1.0
	for i := range rows {
		if rows[i].NormReturn.Valid {
			acc *= rows[i].NormReturn.Float64
		}
		rows[i].NormReturnCumulative = null.FloatFrom(acc)
	}
	return nil
}
