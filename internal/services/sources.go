package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pricereturns/internal/config"
	apperrors "pricereturns/internal/errors"
	"pricereturns/internal/pricesource"
	"pricereturns/internal/returns"
	"pricereturns/internal/universe"
)

// NewPriceSource builds the configured price source. When the cache is
// enabled the source is wrapped in a Badger-backed CachedSource and the
// returned close function releases the cache.
func NewPriceSource(cfg config.SourceConfig, paths *config.Paths, refresh bool, logger *slog.Logger) (pricesource.Source, func() error, error) {
	noop := func() error { return nil }

	var upstream pricesource.Source
	switch cfg.Provider {
	case config.ProviderCSV:
		upstream = pricesource.NewCSVSource(paths.Resolve(cfg.CSVPath), logger)
	case config.ProviderEODHD:
		opts := []pricesource.EODHDOption{
			pricesource.WithLogger(logger),
			pricesource.WithExchange(cfg.EODHD.Exchange),
			pricesource.WithRateLimit(cfg.EODHD.RateLimit),
			pricesource.WithBatching(cfg.BatchSize, cfg.Concurrency),
			pricesource.WithHTTPClient(&http.Client{Timeout: cfg.EODHD.Timeout}),
		}
		if cfg.EODHD.BaseURL != "" {
			opts = append(opts, pricesource.WithBaseURL(cfg.EODHD.BaseURL))
		}
		if cfg.EODHD.MaxRetries > 0 {
			opts = append(opts, pricesource.WithMaxRetries(cfg.EODHD.MaxRetries))
		}
		if cfg.EODHD.From != "" || cfg.EODHD.To != "" {
			from, to, err := dateRange(cfg.EODHD.From, cfg.EODHD.To)
			if err != nil {
				return nil, noop, apperrors.NewConfigError("invalid eodhd date range", err)
			}
			opts = append(opts, pricesource.WithDateRange(from, to))
		}
		upstream = pricesource.NewEODHDClient(cfg.EODHD.APIKey, opts...)
	default:
		return nil, noop, apperrors.NewConfigError(fmt.Sprintf("unknown price provider %q", cfg.Provider), nil)
	}

	if !cfg.Cache.Enabled {
		return upstream, noop, nil
	}

	cache, err := pricesource.OpenPriceCache(paths.Resolve(cfg.Cache.Dir), logger)
	if err != nil {
		return nil, noop, apperrors.NewStorageError("failed to open price cache", err)
	}
	return pricesource.NewCachedSource(upstream, cache, refresh || cfg.Cache.Refresh, logger), cache.Close, nil
}

// dateRange parses optional YYYY-MM-DD bounds; empty strings stay zero
func dateRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		if from, err = returns.ParseDay(fromStr); err != nil {
			return from, to, err
		}
	}
	if toStr != "" {
		if to, err = returns.ParseDay(toStr); err != nil {
			return from, to, err
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("to %s is before from %s", toStr, fromStr)
	}
	return from, to, nil
}

// NewUniverse builds the configured symbol universe. A nil result means the
// run covers every symbol the price source returns.
func NewUniverse(cfg config.UniverseConfig, paths *config.Paths, logger *slog.Logger) universe.Source {
	switch {
	case len(cfg.Symbols) > 0:
		return universe.Static(cfg.Symbols)
	case cfg.File != "":
		return &universe.NasdaqTradedFile{
			Path:              paths.Resolve(cfg.File),
			ExcludeTestIssues: cfg.ExcludeTestIssues,
			Logger:            logger,
		}
	default:
		return nil
	}
}
