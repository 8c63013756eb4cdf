package pricesource

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricereturns/internal/returns"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []RawPrice
	}{
		{
			name:  "headerless",
			input: "AAA,2024-01-01,100\nAAA,2024-01-03,110\n",
			want: []RawPrice{
				{Symbol: "AAA", Date: "2024-01-01", Close: 100},
				{Symbol: "AAA", Date: "2024-01-03", Close: 110},
			},
		},
		{
			name:  "plain header",
			input: "symbol,date,close\nBBB,2024-01-01,10\n",
			want:  []RawPrice{{Symbol: "BBB", Date: "2024-01-01", Close: 10}},
		},
		{
			name:  "aliases prefer adjusted close",
			input: "\ufeffDate,Ticker,Close,Adj Close,Volume\n2024-01-02,CCC,50,49.5,1000\n",
			want:  []RawPrice{{Symbol: "CCC", Date: "2024-01-02", Close: 49.5}},
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCSV_UnparseableCloseBecomesNaN(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("symbol,date,close\nAAA,2024-01-01,\nAAA,2024-01-02,n/a\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, math.IsNaN(rows[0].Close))
	assert.True(t, math.IsNaN(rows[1].Close))
}

func TestParseCSV_MissingColumns(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("symbol,when,price\nAAA,2024-01-01,1\n"))
	assert.ErrorContains(t, err, "needs symbol, date and close columns")
}

func TestCSVSource_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	content := strings.Join([]string{
		"symbol,date,close",
		"AAA,2024-01-01,100",
		"AAA,2024-01-03,110",
		"AAA,2024-01-03 09:30:00,111",
		"BBB,2024-01-01,10",
		"BBB,2024-01-02,0",
		"CCC,2024-01-01,5",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	src := NewCSVSource(path, nil)

	t.Run("all symbols", func(t *testing.T) {
		points, err := src.Fetch(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, points, 4)
	})

	t.Run("filtered", func(t *testing.T) {
		points, err := src.Fetch(context.Background(), []string{"AAA", "ZZZ"})
		require.NoError(t, err)
		assert.Equal(t, []returns.PricePoint{
			{Symbol: "AAA", Date: date("2024-01-01"), Close: 100},
			{Symbol: "AAA", Date: date("2024-01-03"), Close: 110},
		}, points)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv"), nil).Fetch(context.Background(), nil)
		assert.Error(t, err)
	})
}
