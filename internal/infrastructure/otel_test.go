package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"pricereturns/internal/config"
	"pricereturns/internal/returns"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOTelInitialization(t *testing.T) {
	cfg := OTelConfigFrom(config.Default().Telemetry)
	cfg.EnableTracing = true
	cfg.TraceExporter = "stdout"

	providers, err := InitializeOTel(cfg, quietLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, span := providers.Tracer.Start(context.Background(), "test")
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	RecordError(ctx, errors.New("boom"))
	span.End()
}

func TestOTelDisabledSignals(t *testing.T) {
	cfg := &OTelConfig{ServiceName: "test", TraceExporter: "none", MetricExporter: "none"}

	providers, err := InitializeOTel(cfg, quietLogger())
	require.NoError(t, err)

	assert.Nil(t, providers.TracerProvider)
	assert.Nil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Tracer, "falls back to the global tracer")
	assert.NotNil(t, providers.Meter, "falls back to the global meter")
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestOTelUnsupportedExporters(t *testing.T) {
	_, err := InitializeOTel(&OTelConfig{EnableTracing: true, TraceExporter: "jaeger"}, quietLogger())
	assert.ErrorContains(t, err, "unsupported trace exporter")

	_, err = InitializeOTel(&OTelConfig{EnableMetrics: true, MetricExporter: "statsd"}, quietLogger())
	assert.ErrorContains(t, err, "unsupported metric exporter")
}

func TestPrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(OTelConfigFrom(config.Default().Telemetry), quietLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	pm, err := NewPipelineMetrics(providers.Meter)
	require.NoError(t, err)
	pm.RunCompleted(context.Background(), returns.Summary{Symbols: 1, Succeeded: 1, Duration: time.Second})

	server := httptest.NewServer(providers.PrometheusHTTP)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(body), "returns_runs_total")
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestPipelineMetricsObservesRuns(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	pm, err := NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	pm.SymbolProcessed(ctx, "AAA", returns.MatchStats{Rows: 10, EndMisses: 2, StartMisses: 3, AbsentReturns: 4})
	pm.SymbolProcessed(ctx, "BBB", returns.MatchStats{Rows: 5})
	pm.SymbolFailed(ctx, "ZZZ", fmt.Errorf("lookup: %w", returns.ErrUnknownSymbol))
	pm.RunCompleted(ctx, returns.Summary{Symbols: 3, Succeeded: 2, Failed: 1, Duration: 250 * time.Millisecond})

	metrics := collect(t, reader)

	assert.Equal(t, int64(2), sumOf(t, metrics["returns_symbols_processed_total"]))
	assert.Equal(t, int64(15), sumOf(t, metrics["returns_rows_total"]))
	assert.Equal(t, int64(5), sumOf(t, metrics["returns_tolerance_misses_total"]))
	assert.Equal(t, int64(4), sumOf(t, metrics["returns_absent_returns_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["returns_symbols_failed_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["returns_runs_total"]))

	failed := metrics["returns_symbols_failed_total"].Data.(metricdata.Sum[int64])
	reason, ok := failed.DataPoints[0].Attributes.Value("reason")
	require.True(t, ok)
	assert.Equal(t, "unknown_symbol", reason.AsString())

	runs := metrics["returns_runs_total"].Data.(metricdata.Sum[int64])
	status, ok := runs.DataPoints[0].Attributes.Value("status")
	require.True(t, ok)
	assert.Equal(t, "partial", status.AsString())

	hist, ok := metrics["returns_run_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 0.25, hist.DataPoints[0].Sum, 1e-9)
}

func TestPipelineMetricsWithPipeline(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	pm, err := NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	store, err := returns.NewStore([]returns.PricePoint{
		{Symbol: "AAA", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 100},
		{Symbol: "AAA", Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Close: 110},
	})
	require.NoError(t, err)

	p, err := returns.NewPipeline(store, returns.DefaultConfig(), quietLogger())
	require.NoError(t, err)
	p.SetObserver(pm)

	_, err = p.Run(context.Background(), nil)
	require.NoError(t, err)

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, metrics["returns_symbols_processed_total"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["returns_rows_total"]))
}

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	hm, err := NewHTTPMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	hm.RequestsTotal.Add(ctx, 3)
	hm.ActiveRequests.Add(ctx, 1)

	metrics := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, metrics["http_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["http_active_requests"]))
}
