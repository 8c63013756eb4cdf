package pricesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pricereturns/internal/returns"
)

const (
	// DefaultBaseURL is the base URL for the EODHD API.
	DefaultBaseURL = "https://eodhd.com/api"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// DefaultBatchSize is the number of symbols a single worker fetches in turn.
	DefaultBatchSize = 100

	// DefaultConcurrency is the number of batches fetched in parallel.
	DefaultConcurrency = 4

	defaultMaxRetries = 2
)

// APIError represents a non-200 response from the EODHD API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError is returned when the API keeps answering 429 or the local
// limiter cannot grant a token before the context ends.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("EODHD rate limit exceeded, retry after %v", e.RetryAfter)
}

// EODBar is one end-of-day row as returned by /eod/{symbol}.
type EODBar struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
	Volume        float64 `json:"volume"`
}

// EODHDClient fetches daily histories from the EODHD end-of-day API.
type EODHDClient struct {
	baseURL     string
	apiKey      string
	exchange    string
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	batchSize   int
	concurrency int
	maxRetries  int
	from, to    time.Time
}

// EODHDOption configures the EODHDClient.
type EODHDOption func(*EODHDClient)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) EODHDOption {
	return func(c *EODHDClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) EODHDOption {
	return func(c *EODHDClient) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) EODHDOption {
	return func(c *EODHDClient) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) EODHDOption {
	return func(c *EODHDClient) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithExchange sets the exchange suffix appended to bare tickers (AAPL -> AAPL.US).
func WithExchange(exchange string) EODHDOption {
	return func(c *EODHDClient) {
		c.exchange = exchange
	}
}

// WithBatching sets the batch size and the number of batches fetched concurrently.
func WithBatching(batchSize, concurrency int) EODHDOption {
	return func(c *EODHDClient) {
		if batchSize > 0 {
			c.batchSize = batchSize
		}
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}

// WithDateRange restricts the history to [from, to]. Zero values are open ends.
func WithDateRange(from, to time.Time) EODHDOption {
	return func(c *EODHDClient) {
		c.from = from
		c.to = to
	}
}

// WithMaxRetries sets how many times a 429 or 5xx response is retried.
func WithMaxRetries(n int) EODHDOption {
	return func(c *EODHDClient) {
		c.maxRetries = n
	}
}

// NewEODHDClient creates a new EODHD API client.
func NewEODHDClient(apiKey string, opts ...EODHDOption) *EODHDClient {
	c := &EODHDClient{
		baseURL:     DefaultBaseURL,
		apiKey:      apiKey,
		exchange:    "US",
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		maxRetries:  defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "pricesource.eodhd")

	return c
}

// ticker maps a universe symbol to the provider's TICKER.EXCHANGE form.
// Share class dots become dashes (BRK.B -> BRK-B.US).
func (c *EODHDClient) ticker(symbol string) string {
	if c.exchange == "" || strings.HasSuffix(symbol, "."+c.exchange) {
		return symbol
	}
	return strings.ReplaceAll(symbol, ".", "-") + "." + c.exchange
}

// get performs a GET request to the API, retrying throttled and server errors.
func (c *EODHDClient) get(ctx context.Context, path string, params url.Values, result any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 500 * time.Millisecond
			var rl *RateLimitError
			if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
				wait = rl.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &RateLimitError{RetryAfter: time.Second}
		}

		lastErr = c.do(ctx, reqURL, path, result)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		c.logger.DebugContext(ctx, "Retrying EODHD request",
			slog.String("endpoint", path),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}
	return lastErr
}

func (c *EODHDClient) do(ctx context.Context, reqURL, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s >= 0 {
			retryAfter = time.Duration(s) * time.Second
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

// GetEOD retrieves the daily end-of-day history for one symbol in ascending order.
func (c *EODHDClient) GetEOD(ctx context.Context, symbol string) ([]EODBar, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	if !c.from.IsZero() {
		params.Set("from", c.from.Format(returns.DateLayout))
	}
	if !c.to.IsZero() {
		params.Set("to", c.to.Format(returns.DateLayout))
	}

	var bars []EODBar
	if err := c.get(ctx, "/eod/"+url.PathEscape(c.ticker(symbol)), params, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// Fetch loads the history of every symbol. Symbols are split into batches
// fetched concurrently; a failing symbol is recorded in the returned
// *FetchError and does not stop its batch or the others.
func (c *EODHDClient) Fetch(ctx context.Context, symbols []string) ([]returns.PricePoint, error) {
	symbols = uniqueSymbols(symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("eodhd source needs an explicit symbol list")
	}

	batches := chunk(symbols, c.batchSize)
	raws := make([][]RawPrice, len(batches))

	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			start := time.Now()
			var rows []RawPrice
			failed := 0
			for _, symbol := range batch {
				bars, err := c.GetEOD(gctx, symbol)
				if err != nil {
					failed++
					mu.Lock()
					failures[symbol] = err
					mu.Unlock()
					continue
				}
				for _, b := range bars {
					px := b.AdjustedClose
					if px == 0 {
						px = b.Close
					}
					rows = append(rows, RawPrice{Symbol: symbol, Date: b.Date, Close: px})
				}
			}
			raws[i] = rows

			c.logger.InfoContext(gctx, "Fetched batch",
				slog.Int("batch", i+1),
				slog.Int("batches", len(batches)),
				slog.Int("symbols", len(batch)),
				slog.Int("failed", failed),
				slog.Int("rows", len(rows)),
				slog.Duration("duration", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()

	var all []RawPrice
	for _, rows := range raws {
		all = append(all, rows...)
	}
	points, stats := Sanitize(all)
	if stats.Dropped() > 0 {
		c.logger.WarnContext(ctx, "Dropped provider rows",
			slog.Int("bad_date", stats.BadDate),
			slog.Int("bad_close", stats.BadClose),
			slog.Int("duplicates", stats.Duplicates))
	}

	if len(failures) == len(symbols) && ctx.Err() != nil {
		return points, ctx.Err()
	}
	if len(failures) > 0 {
		return points, &FetchError{Failures: failures}
	}
	return points, nil
}

// chunk splits symbols into consecutive batches of at most size elements
func chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := min(start+size, len(symbols))
		out = append(out, symbols[start:end])
	}
	return out
}
