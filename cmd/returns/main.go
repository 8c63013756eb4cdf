// Command returns computes tolerant daily and cumulative returns for a symbol
// universe and writes the table to a csv, xlsx or sqlite file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"pricereturns/internal/config"
	"pricereturns/internal/exporter"
	"pricereturns/internal/infrastructure"
	"pricereturns/internal/returns"
	"pricereturns/internal/services"
)

// Exit codes
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitFailures = 3 // strict run with failed symbols
)

type options struct {
	configPath string
	universe   string
	symbols    string
	prices     string
	provider   string
	out        string
	format     string
	tolerance  int
	workers    int
	strict     bool
	refresh    bool
	quiet      bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("returns", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "YAML config file (defaults to config.yaml or configs/config.yaml when present)")
	fs.StringVar(&o.universe, "universe", "", "nasdaqtraded.txt style symbol directory")
	fs.StringVar(&o.symbols, "symbols", "", "comma separated symbols, overrides -universe")
	fs.StringVar(&o.prices, "prices", "", "price history csv (symbol,date,close), implies -provider csv")
	fs.StringVar(&o.provider, "provider", "", "price source: csv or eodhd")
	fs.StringVar(&o.out, "out", "", "output file")
	fs.StringVar(&o.format, "format", "", "output format: csv, xlsx or sqlite (defaults to the -out extension)")
	fs.IntVar(&o.tolerance, "tolerance", config.DefaultToleranceDays, "maximum calendar days an as-of match may look back")
	fs.IntVar(&o.workers, "workers", 0, "symbols processed in parallel (0 uses every CPU)")
	fs.BoolVar(&o.strict, "strict", false, "fail the run when any symbol fails")
	fs.BoolVar(&o.refresh, "refresh", false, "bypass cached price histories")
	fs.BoolVar(&o.quiet, "quiet", false, "do not print the summary")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply overlays explicitly set flags onto cfg
func (o *options) apply(cfg *config.Config) {
	if o.set["provider"] {
		cfg.Source.Provider = o.provider
	}
	if o.set["prices"] {
		cfg.Source.CSVPath = o.prices
		if !o.set["provider"] {
			cfg.Source.Provider = config.ProviderCSV
		}
	}
	if o.set["universe"] {
		cfg.Universe.File = o.universe
		cfg.Universe.Symbols = nil
	}
	if o.set["symbols"] {
		cfg.Universe.Symbols = splitSymbols(o.symbols)
	}
	if o.set["out"] {
		cfg.Output.Path = o.out
		if !o.set["format"] {
			cfg.Output.Format = exporter.FormatFromPath(o.out)
		}
	}
	if o.set["format"] {
		cfg.Output.Format = o.format
	}
	if o.set["tolerance"] {
		cfg.Pipeline.ToleranceDays = o.tolerance
	}
	if o.set["workers"] {
		cfg.Pipeline.Workers = o.workers
	}
	if o.set["strict"] {
		cfg.Pipeline.Strict = o.strict
	}
	if o.set["refresh"] {
		cfg.Source.Cache.Refresh = o.refresh
	}
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	// Flags may complete an otherwise invalid file or environment, so
	// validation waits until they are applied.
	cfg, err := config.LoadUnvalidated(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "invalid options:", err)
		return exitUsage
	}

	// The summary goes to stdout, so logs go to stderr
	logger := infrastructure.NewLogger(cfg.Logging, stderr)
	slog.SetDefault(logger)

	paths, err := config.NewPaths(cfg.Paths)
	if err != nil {
		logger.Error("Failed to resolve paths", slog.String("error", err.Error()))
		return exitFailure
	}

	source, closeSource, err := services.NewPriceSource(cfg.Source, paths, opts.refresh, logger)
	if err != nil {
		logger.Error("Failed to create price source", slog.String("error", err.Error()))
		return exitFailure
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Warn("Failed to close price source", slog.String("error", err.Error()))
		}
	}()

	exp, err := exporter.New(cfg.Output.Format, logger)
	if err != nil {
		logger.Error("Invalid output format", slog.String("error", err.Error()))
		return exitUsage
	}
	outPath := paths.Resolve(cfg.Output.Path)

	svcOpts := []services.Option{services.WithExporter(exp, outPath)}
	if u := services.NewUniverse(cfg.Universe, paths, logger); u != nil {
		svcOpts = append(svcOpts, services.WithUniverse(u))
	}
	svc, err := services.NewReturnsService(cfg.Pipeline, source, logger, svcOpts...)
	if err != nil {
		logger.Error("Failed to create returns service", slog.String("error", err.Error()))
		return exitFailure
	}

	ctx = infrastructure.WithTraceID(ctx, "cli")
	res, err := svc.Execute(ctx, services.RunRequest{})
	if err != nil {
		logger.ErrorContext(ctx, "Run failed", slog.String("error", err.Error()))
		if res != nil && !opts.quiet {
			printSummary(stdout, res, "")
		}
		var runErr *returns.RunError
		if errors.As(err, &runErr) {
			return exitFailures
		}
		return exitFailure
	}

	if !opts.quiet {
		printSummary(stdout, res, outPath)
	}
	return exitOK
}

func printSummary(w io.Writer, res *returns.Result, outPath string) {
	s := res.Summary
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "symbols\t%d\n", s.Symbols)
	fmt.Fprintf(tw, "succeeded\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "rows\t%d\n", len(res.Rows))
	fmt.Fprintf(tw, "end misses\t%d\n", s.Matches.EndMisses)
	fmt.Fprintf(tw, "start misses\t%d\n", s.Matches.StartMisses)
	fmt.Fprintf(tw, "absent returns\t%d\n", s.Matches.AbsentReturns)
	fmt.Fprintf(tw, "duration\t%s\n", s.Duration)
	if outPath != "" {
		fmt.Fprintf(tw, "output\t%s\n", outPath)
	}
	tw.Flush()

	for _, f := range res.Failures {
		fmt.Fprintf(w, "failed: %s: %v\n", f.Symbol, f.Err)
	}
}
