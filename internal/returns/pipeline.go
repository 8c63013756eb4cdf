package returns

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// TracerName is the instrumentation scope used for pipeline spans
const TracerName = "pricereturns.returns"

// Config controls a pipeline run
type Config struct {
	ToleranceDays int
	Workers       int
}

// DefaultConfig returns the reference configuration
func DefaultConfig() Config {
	return Config{
		ToleranceDays: DefaultToleranceDays,
		Workers:       runtime.NumCPU(),
	}
}

// ProgressFunc is called after each symbol finishes, from the worker that processed it
type ProgressFunc func(done, total int, symbol string)

// Observer receives per-symbol and per-run outcomes, typically to record metrics
type Observer interface {
	SymbolProcessed(ctx context.Context, symbol string, stats MatchStats)
	SymbolFailed(ctx context.Context, symbol string, err error)
	RunCompleted(ctx context.Context, summary Summary)
}

// Pipeline computes normalized and cumulative returns for every symbol of a Store
type Pipeline struct {
	store    *Store
	matcher  *Matcher
	workers  int
	logger   *slog.Logger
	observer Observer
	progress ProgressFunc
	tracer   trace.Tracer
}

// NewPipeline creates a pipeline over an already ingested store
func NewPipeline(store *Store, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	matcher, err := NewMatcher(store, cfg.ToleranceDays)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pipeline{
		store:   store,
		matcher: matcher,
		workers: workers,
		logger:  logger.With(slog.String("component", "returns.pipeline")),
		tracer:  otel.Tracer(TracerName),
	}, nil
}

// SetObserver installs an observer for metrics
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// SetProgress installs a progress callback
func (p *Pipeline) SetProgress(fn ProgressFunc) {
	p.progress = fn
}

// Result is the merged output of a run
type Result struct {
	Rows     []ResolvedReturnRow `json:"rows"`
	Failures []SymbolError       `json:"failures,omitempty"`
	Summary  Summary             `json:"summary"`
}

// Err returns a *RunError describing failed symbols, or nil
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &RunError{Total: r.Summary.Symbols, Failures: r.Failures}
}

// RowsFor returns the rows of one symbol, relying on the (symbol, date) sort order
func (r *Result) RowsFor(symbol string) []ResolvedReturnRow {
	lo := sort.Search(len(r.Rows), func(i int) bool { return r.Rows[i].Symbol >= symbol })
	hi := lo
	for hi < len(r.Rows) && r.Rows[hi].Symbol == symbol {
		hi++
	}
	return r.Rows[lo:hi]
}

type symbolOutput struct {
	rows  []ResolvedReturnRow
	stats MatchStats
	err   error
}

// Run processes symbols concurrently, one symbol per task, and merges the results
// sorted by (symbol, effective date). An empty symbol list processes the whole store.
// Per-symbol failures never abort other symbols; they are collected and returned
// together as a *RunError alongside the rows that did succeed.
func (p *Pipeline) Run(ctx context.Context, symbols []string) (*Result, error) {
	start := time.Now()
	if len(symbols) == 0 {
		symbols = p.store.Symbols()
	} else {
		symbols = uniqueSorted(symbols)
	}

	ctx, span := p.tracer.Start(ctx, "returns.pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("pipeline.symbols", len(symbols)),
			attribute.Int("pipeline.tolerance_days", p.matcher.ToleranceDays()),
			attribute.Int("pipeline.workers", p.workers),
		),
	)
	defer span.End()

	p.logger.InfoContext(ctx, "starting returns pipeline",
		slog.Int("symbols", len(symbols)),
		slog.Int("observations", p.store.Len()),
		slog.Int("tolerance_days", p.matcher.ToleranceDays()),
		slog.Int("workers", p.workers),
	)

	outputs := make([]symbolOutput, len(symbols))
	var done atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outputs[i] = symbolOutput{err: fmt.Errorf("not started: %w", err)}
			} else {
				rows, stats, err := p.ProcessSymbol(symbol)
				outputs[i] = symbolOutput{rows: rows, stats: stats, err: err}
			}
			if p.progress != nil {
				p.progress(int(done.Add(1)), len(symbols), symbol)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := p.merge(ctx, symbols, outputs)
	res.Summary.Duration = time.Since(start)

	if p.observer != nil {
		p.observer.RunCompleted(ctx, res.Summary)
	}

	span.SetAttributes(
		attribute.Int("pipeline.rows", len(res.Rows)),
		attribute.Int("pipeline.failed", res.Summary.Failed),
	)

	err := res.Err()
	if err != nil {
		span.SetStatus(codes.Error, "symbols failed")
		p.logger.WarnContext(ctx, "returns pipeline completed with failures",
			slog.Int("failed", res.Summary.Failed),
			slog.Int("succeeded", res.Summary.Succeeded),
			slog.String("error", err.Error()),
		)
	}

	p.logger.InfoContext(ctx, "returns pipeline completed",
		slog.Duration("duration", res.Summary.Duration),
		slog.Int("rows", len(res.Rows)),
		slog.Int("succeeded", res.Summary.Succeeded),
		slog.Int("failed", res.Summary.Failed),
		slog.Int("end_misses", res.Summary.Matches.EndMisses),
		slog.Int("start_misses", res.Summary.Matches.StartMisses),
		slog.Int("absent_returns", res.Summary.Matches.AbsentReturns),
	)

	return res, err
}

// merge joins worker outputs after every worker has finished
func (p *Pipeline) merge(ctx context.Context, symbols []string, outputs []symbolOutput) *Result {
	total := 0
	for _, o := range outputs {
		total += len(o.rows)
	}

	res := &Result{Rows: make([]ResolvedReturnRow, 0, total)}
	res.Summary.Symbols = len(symbols)
	for i, o := range outputs {
		if o.err != nil {
			res.Failures = append(res.Failures, SymbolError{Symbol: symbols[i], Err: o.err})
			res.Summary.Failed++
			if p.observer != nil {
				p.observer.SymbolFailed(ctx, symbols[i], o.err)
			}
			p.logger.WarnContext(ctx, "symbol failed",
				slog.String("symbol", symbols[i]),
				slog.String("error", o.err.Error()),
			)
			continue
		}
		res.Rows = append(res.Rows, o.rows...)
		res.Summary.Succeeded++
		res.Summary.Matches.Add(o.stats)
		if p.observer != nil {
			p.observer.SymbolProcessed(ctx, symbols[i], o.stats)
		}
	}
	return res
}

// ProcessSymbol runs calendar generation, matching, return calculation and
// compounding for a single symbol on the calling goroutine
func (p *Pipeline) ProcessSymbol(symbol string) ([]ResolvedReturnRow, MatchStats, error) {
	calendar, err := EffectiveDates(p.store, symbol)
	if err != nil {
		return nil, MatchStats{}, err
	}

	rows, stats := p.matcher.ResolveAll(calendar)

	absent, err := ApplyReturns(rows)
	if err != nil {
		return nil, stats, err
	}
	stats.AbsentReturns = absent

	if err := Compound(rows); err != nil {
		return nil, stats, err
	}
	return rows, stats, nil
}

func uniqueSorted(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
