package returns

import (
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatcher_NegativeTolerance(t *testing.T) {
	_, err := NewMatcher(mustStore(t, pp("AAA", 1, 1)), -1)
	assert.ErrorIs(t, err, ErrNegativeTolerance)
}

func TestMatcher_Resolve(t *testing.T) {
	st := mustStore(t, pp("AAA", 1, 100), pp("AAA", 3, 110))
	m, err := NewMatcher(st, 28)
	require.NoError(t, err)

	got := m.Resolve(EffectiveDateRow{Symbol: "AAA", EffectiveDate: day(3), PreviousDate: day(2)})
	assert.Equal(t, null.FloatFrom(110), got.EndPrice)
	assert.Equal(t, null.FloatFrom(100), got.StartPrice, "previous day resolves asof day 1")
	assert.False(t, got.NormReturn.Valid)
	assert.False(t, got.NormReturnCumulative.Valid)
}

func TestMatcher_LegsAreIndependent(t *testing.T) {
	// day 1 and day 40: everything between day 30 and day 39 is out of a 28 day window
	st := mustStore(t, pp("GAP", 1, 100), pp("GAP", 40, 120))
	m, err := NewMatcher(st, 28)
	require.NoError(t, err)

	tests := []struct {
		name      string
		eff       int
		wantEnd   null.Float
		wantStart null.Float
	}{
		{"both legs inside window", 29, null.FloatFrom(100), null.FloatFrom(100)},
		{"end leg misses, start leg still matches", 30, null.Float{}, null.FloatFrom(100)},
		{"both legs miss", 35, null.Float{}, null.Float{}},
		{"end leg matches, start leg misses", 40, null.FloatFrom(120), null.Float{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Resolve(EffectiveDateRow{Symbol: "GAP", EffectiveDate: day(tt.eff), PreviousDate: day(tt.eff - 1)})
			assert.Equal(t, tt.wantEnd, got.EndPrice)
			assert.Equal(t, tt.wantStart, got.StartPrice)
		})
	}

	rows, err := EffectiveDates(st, "GAP")
	require.NoError(t, err)
	_, stats := m.ResolveAll(rows)
	assert.Equal(t, 39, stats.Rows)
	assert.Equal(t, 10, stats.EndMisses, "days 30..39")
	assert.Equal(t, 10, stats.StartMisses, "previous days 30..39")
}

func TestNormReturn(t *testing.T) {
	tests := []struct {
		name    string
		start   null.Float
		end     null.Float
		want    null.Float
		wantErr error
	}{
		{"gain", null.FloatFrom(100), null.FloatFrom(110), null.FloatFrom(1 + (110.0-100.0)/100.0), nil},
		{"flat", null.FloatFrom(42), null.FloatFrom(42), null.FloatFrom(1), nil},
		{"loss", null.FloatFrom(200), null.FloatFrom(150), null.FloatFrom(0.75), nil},
		{"missing start", null.Float{}, null.FloatFrom(10), null.Float{}, nil},
		{"missing end", null.FloatFrom(10), null.Float{}, null.Float{}, nil},
		{"both missing", null.Float{}, null.Float{}, null.Float{}, nil},
		{"zero start", null.FloatFrom(0), null.FloatFrom(10), null.Float{}, ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormReturn(tt.start, tt.end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyReturns_StopsOnInvalidStart(t *testing.T) {
	rows := []ResolvedReturnRow{
		{Symbol: "AAA", EffectiveDate: day(2), StartPrice: null.FloatFrom(1), EndPrice: null.FloatFrom(2)},
		{Symbol: "AAA", EffectiveDate: day(3), StartPrice: null.FloatFrom(0), EndPrice: null.FloatFrom(2)},
	}
	_, err := ApplyReturns(rows)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Contains(t, err.Error(), "2024-01-03")
}
