package returns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveDates(t *testing.T) {
	st := mustStore(t,
		pp("AAA", 1, 100), pp("AAA", 3, 110),
		pp("BBB", 1, 50),
		pp("CCC", 10, 1), pp("CCC", 12, 1), pp("CCC", 45, 1), pp("CCC", 400, 1),
	)

	t.Run("right closed range", func(t *testing.T) {
		rows, err := EffectiveDates(st, "AAA")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, EffectiveDateRow{Symbol: "AAA", EffectiveDate: day(2), PreviousDate: day(1)}, rows[0])
		assert.Equal(t, EffectiveDateRow{Symbol: "AAA", EffectiveDate: day(3), PreviousDate: day(2)}, rows[1])
	})

	t.Run("single observation yields no rows", func(t *testing.T) {
		rows, err := EffectiveDates(st, "BBB")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("dense, ascending and gap free", func(t *testing.T) {
		rows, err := EffectiveDates(st, "CCC")
		require.NoError(t, err)

		first, last, err := st.Bounds("CCC")
		require.NoError(t, err)
		assert.Len(t, rows, int(last.Sub(first).Hours()/24))
		assert.Equal(t, first.AddDate(0, 0, 1), rows[0].EffectiveDate)
		assert.Equal(t, last, rows[len(rows)-1].EffectiveDate)

		for i, r := range rows {
			assert.Equal(t, r.EffectiveDate.AddDate(0, 0, -1), r.PreviousDate)
			if i > 0 {
				assert.Equal(t, rows[i-1].EffectiveDate.AddDate(0, 0, 1), r.EffectiveDate)
			}
		}
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := EffectiveDates(st, "ZZZ")
		assert.ErrorIs(t, err, ErrUnknownSymbol)
	})
}
