package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricereturns/internal/config"
	"pricereturns/internal/exporter"
	"pricereturns/internal/shared/testutil"
)

func writePrices(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	return dir, testutil.WritePrices(t, dir, testutil.SamplePrices)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_CSVToCSV(t *testing.T) {
	dir, pricesPath := writePrices(t)
	out := filepath.Join(dir, "out", "returns.csv")

	code, stdout, stderr := runCLI(t, "-prices", pricesPath, "-out", out)
	require.Equal(t, exitOK, code, stderr)

	assert.Contains(t, stdout, "symbols")
	assert.Contains(t, stdout, out)

	rows, err := exporter.ReadCSVFile(out)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	symbols := map[string]bool{}
	for _, r := range rows {
		symbols[r.Symbol] = true
	}
	assert.Equal(t, map[string]bool{"AAA": true, "BBB": true}, symbols)
}

func TestRun_FormatFromExtension(t *testing.T) {
	dir, pricesPath := writePrices(t)

	for _, name := range []string{"returns.xlsx", "returns.db"} {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(dir, name)
			code, _, stderr := runCLI(t, "-prices", pricesPath, "-out", out, "-quiet")
			require.Equal(t, exitOK, code, stderr)
			assert.FileExists(t, out)
		})
	}
}

func TestRun_SymbolsAndStrict(t *testing.T) {
	dir, pricesPath := writePrices(t)
	out := filepath.Join(dir, "returns.csv")

	t.Run("lenient reports unknown symbols", func(t *testing.T) {
		code, stdout, stderr := runCLI(t, "-prices", pricesPath, "-out", out, "-symbols", "AAA, ZZZ")
		require.Equal(t, exitOK, code, stderr)
		assert.Contains(t, stdout, "failed: ZZZ")

		rows, err := exporter.ReadCSVFile(out)
		require.NoError(t, err)
		for _, r := range rows {
			assert.Equal(t, "AAA", r.Symbol)
		}
	})

	t.Run("strict fails", func(t *testing.T) {
		code, _, _ := runCLI(t, "-prices", pricesPath, "-out", out, "-symbols", "AAA,ZZZ", "-strict")
		assert.Equal(t, exitFailures, code)
	})
}

func TestRun_UsageErrors(t *testing.T) {
	dir, pricesPath := writePrices(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-bogus"}},
		{"positional argument", []string{"extra"}},
		{"bad format", []string{"-prices", pricesPath, "-out", filepath.Join(dir, "r.csv"), "-format", "parquet"}},
		{"negative tolerance", []string{"-prices", pricesPath, "-tolerance", "-1"}},
		{"missing config file", []string{"-config", filepath.Join(dir, "missing.yaml")}},
		{"eodhd without key", []string{"-provider", "eodhd", "-symbols", "AAA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestRun_MissingPriceFile(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := runCLI(t, "-prices", filepath.Join(dir, "nope.csv"), "-out", filepath.Join(dir, "r.csv"))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "Run failed")
}

func TestRun_ConfigFile(t *testing.T) {
	dir, pricesPath := writePrices(t)
	out := filepath.Join(dir, "from-config.csv")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(strings.Join([]string{
		"source:",
		"  provider: csv",
		"  csv_path: " + pricesPath,
		"output:",
		"  format: csv",
		"  path: " + out,
		"pipeline:",
		"  tolerance_days: 0",
		"logging:",
		"  level: error",
	}, "\n")), 0644))

	code, _, stderr := runCLI(t, "-config", cfgPath, "-quiet")
	require.Equal(t, exitOK, code, stderr)
	assert.FileExists(t, out)
}

func TestOptionsApply(t *testing.T) {
	opts, err := parseFlags([]string{
		"-symbols", "AAA,,BBB ",
		"-out", "x/returns.xlsx",
		"-tolerance", "5",
		"-workers", "3",
		"-strict",
		"-refresh",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Universe.File = "nasdaqtraded.txt"
	opts.apply(cfg)

	assert.Equal(t, []string{"AAA", "BBB"}, cfg.Universe.Symbols)
	assert.Equal(t, "nasdaqtraded.txt", cfg.Universe.File)
	assert.Equal(t, "x/returns.xlsx", cfg.Output.Path)
	assert.Equal(t, exporter.FormatXLSX, cfg.Output.Format)
	assert.Equal(t, 5, cfg.Pipeline.ToleranceDays)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.True(t, cfg.Pipeline.Strict)
	assert.True(t, cfg.Source.Cache.Refresh)

	// unset flags leave the configuration alone
	opts, err = parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	cfg = config.Default()
	opts.apply(cfg)
	assert.Equal(t, config.Default(), cfg)
}

// eodhdServer serves a short history for AAA and 404s every other ticker
func eodhdServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eod/AAA.US" {
			http.Error(w, "Ticker Not Found.", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"date":"2024-01-02","close":100,"adjusted_close":100},
			{"date":"2024-01-03","close":102,"adjusted_close":102},
			{"date":"2024-01-04","close":101,"adjusted_close":101}
		]`))
	}))
	t.Cleanup(server.Close)
	return server
}

func writeEODHDConfig(t *testing.T, dir, baseURL string, extra ...string) string {
	t.Helper()
	path := filepath.Join(dir, "eodhd.yaml")
	lines := append([]string{
		"paths:",
		"  base_dir: " + dir,
		"source:",
		"  provider: eodhd",
		"  eodhd:",
		"    api_key: demo",
		"    base_url: " + baseURL,
		"logging:",
		"  level: error",
	}, extra...)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644))
	return path
}

func TestRun_FetchFailures(t *testing.T) {
	server := eodhdServer(t)
	dir := t.TempDir()
	cfgPath := writeEODHDConfig(t, dir, server.URL,
		"universe:",
		"  symbols: [AAA, ZZZ]",
	)
	out := filepath.Join(dir, "returns.csv")

	t.Run("lenient keeps the fetched symbols", func(t *testing.T) {
		code, stdout, stderr := runCLI(t, "-config", cfgPath, "-out", out)
		require.Equal(t, exitOK, code, stderr)
		assert.Contains(t, stdout, "failed: ZZZ")

		rows, err := exporter.ReadCSVFile(out)
		require.NoError(t, err)
		require.NotEmpty(t, rows)
		for _, r := range rows {
			assert.Equal(t, "AAA", r.Symbol)
		}
	})

	t.Run("strict reports failed symbols", func(t *testing.T) {
		code, stdout, _ := runCLI(t, "-config", cfgPath, "-out", filepath.Join(dir, "strict.csv"), "-strict")
		assert.Equal(t, exitFailures, code)
		assert.Contains(t, stdout, "failed: ZZZ")
		assert.Contains(t, stdout, "404")
		assert.NoFileExists(t, filepath.Join(dir, "strict.csv"))
	})
}

func TestRun_FlagsCompleteConfig(t *testing.T) {
	server := eodhdServer(t)

	t.Run("symbols supply the eodhd universe", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := writeEODHDConfig(t, dir, server.URL)
		out := filepath.Join(dir, "returns.csv")

		code, _, stderr := runCLI(t, "-config", cfgPath, "-symbols", "AAA", "-out", out, "-quiet")
		require.Equal(t, exitOK, code, stderr)
		assert.FileExists(t, out)
	})

	t.Run("flags override an incomplete environment", func(t *testing.T) {
		dir, pricesPath := writePrices(t)
		t.Setenv("RETURNS_SOURCE_PROVIDER", "eodhd")
		out := filepath.Join(dir, "returns.csv")

		code, _, stderr := runCLI(t, "-provider", "csv", "-prices", pricesPath, "-out", out, "-quiet")
		require.Equal(t, exitOK, code, stderr)
		assert.FileExists(t, out)
	})

	t.Run("still rejected when nothing completes it", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := writeEODHDConfig(t, dir, server.URL)
		code, _, stderr := runCLI(t, "-config", cfgPath)
		assert.Equal(t, exitUsage, code)
		assert.Contains(t, stderr, "universe")
	})
}
