package returns

import (
	"fmt"

	"github.com/guregu/null/v6"
)

// NormReturn computes 1 + (end - start) / start.
// The result is absent unless both prices are present.
func NormReturn(start, end null.Float) (null.Float, error) {
	if !start.Valid || !end.Valid {
		return null.Float{}, nil
	}
	if start.Float64 == 0 {
		return null.Float{}, fmt.Errorf("norm return with start price 0: %w", ErrInvalidPrice)
	}
	return null.FloatFrom(1 + (end.Float64-start.Float64)/start.Float64), nil
}

// ApplyReturns fills NormReturn for every row and counts absent results
func ApplyReturns(rows []ResolvedReturnRow) (int, error) {
	absent := 0
	for i := range rows {
		r, err := NormReturn(rows[i].StartPrice, rows[i].EndPrice)
		if err != nil {
			return absent, fmt.Errorf("row %s %s: %w",
				rows[i].Symbol, rows[i].EffectiveDate.Format(DateLayout), err)
		}
		if !r.Valid {
			absent++
		}
		rows[i].NormReturn = r
	}
	return absent, nil
}
