package pricesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"pricereturns/internal/returns"
)

// cachedPrice is one stored observation, keyed by symbol and day
type cachedPrice struct {
	Key    string `badgerhold:"key"`
	Symbol string `badgerhold:"index"`
	Date   time.Time
	Close  float64
}

// cachedSymbol marks a symbol whose history has been fetched, even when the
// provider returned no rows for it
type cachedSymbol struct {
	Symbol    string `badgerhold:"key"`
	FetchedAt time.Time
	Points    int
}

func priceKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format(returns.DateLayout)
}

// PriceCache persists fetched histories in a Badger database
type PriceCache struct {
	store  *badgerhold.Store
	logger *slog.Logger
}

// OpenPriceCache opens (creating if needed) the cache at dir. An empty dir
// keeps the cache in memory.
func OpenPriceCache(dir string, logger *slog.Logger) (*PriceCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pricesource.cache")

	options := badgerhold.DefaultOptions
	if dir == "" {
		options.Options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		options.Options = badger.DefaultOptions(dir)
	}
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open price cache: %w", err)
	}

	logger.Debug("Price cache opened", slog.String("path", dir))
	return &PriceCache{store: store, logger: logger}, nil
}

// Close closes the underlying database
func (c *PriceCache) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Has reports whether symbol has been fetched before
func (c *PriceCache) Has(symbol string) (bool, error) {
	var marker cachedSymbol
	err := c.store.Get(symbol, &marker)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Symbols returns every cached symbol in sorted order
func (c *PriceCache) Symbols() ([]string, error) {
	var markers []cachedSymbol
	if err := c.store.Find(&markers, nil); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(markers))
	for _, m := range markers {
		symbols = append(symbols, m.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Load returns the cached history of symbol in date order
func (c *PriceCache) Load(symbol string) ([]returns.PricePoint, error) {
	var rows []cachedPrice
	query := badgerhold.Where("Symbol").Eq(symbol).Index("Symbol")
	if err := c.store.Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to load %s from cache: %w", symbol, err)
	}
	points := make([]returns.PricePoint, len(rows))
	for i, r := range rows {
		points[i] = returns.PricePoint{Symbol: r.Symbol, Date: r.Date.UTC(), Close: r.Close}
	}
	sortPoints(points)
	return points, nil
}

// Put replaces the cached history of symbol in a single transaction
func (c *PriceCache) Put(symbol string, points []returns.PricePoint) error {
	return c.store.Badger().Update(func(tx *badger.Txn) error {
		query := badgerhold.Where("Symbol").Eq(symbol).Index("Symbol")
		if err := c.store.TxDeleteMatching(tx, &cachedPrice{}, query); err != nil {
			return err
		}
		for _, p := range points {
			row := &cachedPrice{Symbol: symbol, Date: p.Date, Close: p.Close}
			if err := c.store.TxUpsert(tx, priceKey(symbol, p.Date), row); err != nil {
				return err
			}
		}
		marker := &cachedSymbol{Symbol: symbol, FetchedAt: time.Now().UTC(), Points: len(points)}
		return c.store.TxUpsert(tx, symbol, marker)
	})
}

// CachedSource serves symbols from a PriceCache and fetches the rest from
// an upstream Source, storing what it fetched for the next run.
type CachedSource struct {
	upstream Source
	cache    *PriceCache
	refresh  bool
	logger   *slog.Logger
}

// NewCachedSource wraps upstream. With refresh set every requested symbol is
// fetched again and the cache rewritten.
func NewCachedSource(upstream Source, cache *PriceCache, refresh bool, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{
		upstream: upstream,
		cache:    cache,
		refresh:  refresh,
		logger:   logger.With("component", "pricesource.cache"),
	}
}

// Fetch implements Source
func (s *CachedSource) Fetch(ctx context.Context, symbols []string) ([]returns.PricePoint, error) {
	symbols = uniqueSymbols(symbols)

	if len(symbols) == 0 {
		cached, err := s.cache.Symbols()
		if err != nil {
			return nil, err
		}
		if s.refresh || len(cached) == 0 {
			points, err := s.fetchAndStore(ctx, nil)
			sortPoints(points)
			return points, err
		}
		symbols = cached
	}

	var hits, misses []string
	for _, symbol := range symbols {
		ok, err := s.cache.Has(symbol)
		if err != nil {
			return nil, err
		}
		if ok && !s.refresh {
			hits = append(hits, symbol)
		} else {
			misses = append(misses, symbol)
		}
	}

	s.logger.InfoContext(ctx, "Resolving price histories",
		slog.Int("cached", len(hits)),
		slog.Int("to_fetch", len(misses)),
		slog.Bool("refresh", s.refresh))

	var points []returns.PricePoint
	var fetchErr error
	if len(misses) > 0 {
		fetched, err := s.fetchAndStore(ctx, misses)
		var partial *FetchError
		if err != nil && !errors.As(err, &partial) {
			return nil, err
		}
		points = append(points, fetched...)
		fetchErr = err
	}

	for _, symbol := range hits {
		cached, err := s.cache.Load(symbol)
		if err != nil {
			return nil, err
		}
		points = append(points, cached...)
	}

	sortPoints(points)
	return points, fetchErr
}

// fetchAndStore fetches symbols upstream and caches every symbol that did
// not fail. A nil list caches whatever the upstream returned.
func (s *CachedSource) fetchAndStore(ctx context.Context, symbols []string) ([]returns.PricePoint, error) {
	fetched, err := s.upstream.Fetch(ctx, symbols)
	var partial *FetchError
	if err != nil && !errors.As(err, &partial) {
		return nil, err
	}

	bySymbol := make(map[string][]returns.PricePoint)
	for _, p := range fetched {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}
	for _, symbol := range symbols {
		if _, ok := bySymbol[symbol]; !ok {
			bySymbol[symbol] = nil
		}
	}

	for symbol, pts := range bySymbol {
		if partial != nil {
			if _, failed := partial.Failures[symbol]; failed {
				continue
			}
		}
		if err := s.cache.Put(symbol, pts); err != nil {
			return nil, fmt.Errorf("failed to cache %s: %w", symbol, err)
		}
	}

	return fetched, err
}

func sortPoints(points []returns.PricePoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Symbol != points[j].Symbol {
			return points[i].Symbol < points[j].Symbol
		}
		return points[i].Date.Before(points[j].Date)
	})
}
