package universe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDirectory = `Nasdaq Traded|Symbol|Security Name|Listing Exchange|Market Category|ETF|Round Lot Size|Test Issue|Financial Status|CQS Symbol|NASDAQ Symbol|NextShares
Y|MSFT|Microsoft Corporation - Common Stock|Q|Q|N|100|N|N||MSFT|N
Y|AAPL|Apple Inc. - Common Stock|Q|Q|N|100|N|N||AAPL|N
N|OLDX|Delisted Corp|N| |N|100|N||OLDX|OLDX|N
Y|ZXZZT|NASDAQ TEST STOCK|Q|G|N|100|Y|N||ZXZZT|N
Y|BRK.B|Berkshire Hathaway Inc.|N| |N|100|N||BRK.B|BRK.B|N
Y|AAPL|Apple duplicate row|Q|Q|N|100|N|N||AAPL|N
Y||Blank symbol|Q|Q|N|100|N|N|||N
File Creation Time: 0102202400:00|||||||||||
`

func TestParseNasdaqTraded(t *testing.T) {
	symbols, skipped, err := ParseNasdaqTraded(strings.NewReader(sampleDirectory), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "BRK.B", "MSFT", "ZXZZT"}, symbols)
	assert.Equal(t, 1, skipped)
}

func TestParseNasdaqTraded_ExcludeTestIssues(t *testing.T) {
	symbols, _, err := ParseNasdaqTraded(strings.NewReader(sampleDirectory), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "BRK.B", "MSFT"}, symbols)
}

func TestParseNasdaqTraded_BadHeader(t *testing.T) {
	_, _, err := ParseNasdaqTraded(strings.NewReader("Symbol|Name\nAAPL|Apple\n"), false)
	assert.ErrorContains(t, err, "Nasdaq Traded")

	_, _, err = ParseNasdaqTraded(strings.NewReader(""), false)
	assert.Error(t, err)
}

func TestNasdaqTradedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nasdaqtraded.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleDirectory), 0644))

	src := &NasdaqTradedFile{Path: path, ExcludeTestIssues: true}
	symbols, err := src.Symbols(context.Background())
	require.NoError(t, err)
	assert.Len(t, symbols, 3)

	_, err = (&NasdaqTradedFile{Path: filepath.Join(t.TempDir(), "missing.txt")}).Symbols(context.Background())
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	symbols, err := Static{"MSFT", " AAPL ", "MSFT"}.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	_, err = Static{"AAPL", ""}.Symbols(context.Background())
	assert.Error(t, err)

	_, err = Static{"A|B"}.Symbols(context.Background())
	assert.Error(t, err)
}

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		valid  bool
	}{
		{"AAPL", true},
		{"BRK.B", true},
		{"AAPL.US", true},
		{"", false},
		{"A,B", false},
		{"A|B", false},
		{"Ünïcode", false},
		{strings.Repeat("X", 33), false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, ParseList("AAPL, MSFT;GOOG\n"))
	assert.Empty(t, ParseList(" , "))
}
