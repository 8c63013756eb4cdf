package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricereturns/internal/returns"
)

// SamplePrices is a small price file with two symbols on uneven calendars.
// AAA skips 2024-01-04, BBB skips 2024-01-03 and 2024-01-05.
const SamplePrices = `symbol,date,close
AAA,2024-01-02,100
AAA,2024-01-03,102
AAA,2024-01-05,99
BBB,2024-01-02,50
BBB,2024-01-04,55
`

// WritePrices writes content to dir/prices.csv and returns the path
func WritePrices(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Day parses a YYYY-MM-DD date or fails t
func Day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := returns.ParseDay(s)
	require.NoError(t, err)
	return d
}
