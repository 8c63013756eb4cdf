package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/guregu/null/v6"

	"pricereturns/internal/config"
	apperrors "pricereturns/internal/errors"
	"pricereturns/internal/exporter"
	"pricereturns/internal/infrastructure"
	"pricereturns/internal/pricesource"
	"pricereturns/internal/returns"
	"pricereturns/internal/universe"
	ws "pricereturns/internal/websocket"
)

// maxRunHistory bounds the number of finished runs kept in memory
const maxRunHistory = 50

// WebSocketHub is the subset of the hub the service broadcasts through
type WebSocketHub interface {
	Broadcast(messageType string, data interface{})
}

// RunStatus is the lifecycle state of an asynchronous run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRequest holds the per-run overrides. Zero values fall back to the
// service configuration.
type RunRequest struct {
	Symbols       []string `json:"symbols,omitempty" validate:"omitempty,max=20000,dive,ticker"`
	ToleranceDays *int     `json:"tolerance_days,omitempty" validate:"omitempty,gte=0,lte=3660"`
	Workers       int      `json:"workers,omitempty" validate:"gte=0,lte=1024"`
	Strict        *bool    `json:"strict,omitempty"`
	Export        *bool    `json:"export,omitempty"`
}

// RunProgress counts processed symbols
type RunProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// FailureInfo is the JSON form of a failed symbol
type FailureInfo struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// Run describes one asynchronous pipeline execution
type Run struct {
	ID         string           `json:"id"`
	Status     RunStatus        `json:"status"`
	Request    RunRequest       `json:"request"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Progress   RunProgress      `json:"progress"`
	Summary    *returns.Summary `json:"summary,omitempty"`
	Failures   []FailureInfo    `json:"failures,omitempty"`
	Error      string           `json:"error,omitempty"`
	ExportPath string           `json:"export_path,omitempty"`
	TraceID    string           `json:"trace_id,omitempty"`
}

// SymbolSummary describes the latest rows of one symbol
type SymbolSummary struct {
	Symbol     string     `json:"symbol"`
	Rows       int        `json:"rows"`
	FirstDate  time.Time  `json:"first_date"`
	LastDate   time.Time  `json:"last_date"`
	Cumulative null.Float `json:"cumulative"`
}

// Option configures a ReturnsService
type Option func(*ReturnsService)

// WithUniverse sets the symbol universe used when a request names no symbols
func WithUniverse(u universe.Source) Option {
	return func(s *ReturnsService) { s.universe = u }
}

// WithExporter writes every successful run to path
func WithExporter(exp exporter.Exporter, path string) Option {
	return func(s *ReturnsService) {
		s.exporter = exp
		s.exportPath = path
	}
}

// WithObserver installs a pipeline observer, typically metrics
func WithObserver(o returns.Observer) Option {
	return func(s *ReturnsService) { s.observer = o }
}

// WithHub broadcasts run lifecycle events
func WithHub(hub WebSocketHub) Option {
	return func(s *ReturnsService) { s.hub = hub }
}

// WithRunTimeout bounds asynchronous runs
func WithRunTimeout(d time.Duration) Option {
	return func(s *ReturnsService) { s.runTimeout = d }
}

// ReturnsService fetches price histories, runs the returns pipeline and keeps
// the latest result for querying. At most one asynchronous run is active.
type ReturnsService struct {
	cfg        config.PipelineConfig
	source     pricesource.Source
	universe   universe.Source
	exporter   exporter.Exporter
	exportPath string
	observer   returns.Observer
	hub        WebSocketHub
	runTimeout time.Duration
	validate   *validator.Validate
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	runs   map[string]*Run
	order  []string
	active string
	latest *returns.Result
	closed bool
}

// NewReturnsService creates the service around a price source
func NewReturnsService(cfg config.PipelineConfig, source pricesource.Source, logger *slog.Logger, opts ...Option) (*ReturnsService, error) {
	if source == nil {
		return nil, apperrors.NewConfigError("price source is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ReturnsService{
		cfg:      cfg,
		source:   source,
		validate: newRequestValidator(),
		logger:   logger.With(slog.String("service", "returns")),
		baseCtx:  ctx,
		cancel:   cancel,
		runs:     make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newRequestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return universe.ValidateSymbol(fl.Field().String()) == nil
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a request against its field constraints
func (s *ReturnsService) Validate(req RunRequest) error {
	return s.validate.Struct(req)
}

// Execute runs the whole pipeline synchronously and stores the result as the
// latest one. Per-symbol failures are reported in the result; in strict mode
// any failure is returned as an error instead.
func (s *ReturnsService) Execute(ctx context.Context, req RunRequest) (*returns.Result, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	res, _, err := s.execute(ctx, req, nil)
	return res, err
}

func (s *ReturnsService) execute(ctx context.Context, req RunRequest, progress returns.ProgressFunc) (*returns.Result, string, error) {
	logger := infrastructure.LoggerWithContext(ctx).With(slog.String("service", "returns"))
	strict := s.cfg.Strict
	if req.Strict != nil {
		strict = *req.Strict
	}

	symbols, err := s.resolveSymbols(ctx, req)
	if err != nil {
		return nil, "", err
	}

	points, err := s.source.Fetch(ctx, symbols)
	var fetchErr *pricesource.FetchError
	var fetchFailures []returns.SymbolError
	if err != nil {
		if !errors.As(err, &fetchErr) {
			return nil, "", apperrors.NewSourceError("failed to fetch price histories", err).WithSymbols(symbols...)
		}
		for _, symbol := range fetchErr.Symbols() {
			fetchFailures = append(fetchFailures, returns.SymbolError{Symbol: symbol, Err: fetchErr.Failures[symbol]})
		}
		symbols = without(symbols, fetchErr.Failures)
		logger.WarnContext(ctx, "Some price histories could not be fetched",
			slog.Int("failed", len(fetchFailures)),
			slog.Any("symbols", fetchErr.Symbols()))
	}

	store, err := returns.NewStore(points)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build price store: %w", err)
	}

	pcfg := returns.Config{ToleranceDays: s.cfg.ToleranceDays, Workers: s.cfg.Workers}
	if req.ToleranceDays != nil {
		pcfg.ToleranceDays = *req.ToleranceDays
	}
	if req.Workers > 0 {
		pcfg.Workers = req.Workers
	}

	pipeline, err := returns.NewPipeline(store, pcfg, logger)
	if err != nil {
		return nil, "", apperrors.NewAppError(apperrors.ErrTypeValidation, "invalid pipeline configuration", err)
	}
	if s.observer != nil {
		pipeline.SetObserver(s.observer)
	}
	if progress != nil {
		pipeline.SetProgress(progress)
	}

	// An emptied symbol list would select the whole store, which by now only
	// holds symbols that were fetched.
	res, runErr := pipeline.Run(ctx, symbols)
	var symbolErrs *returns.RunError
	if runErr != nil && !errors.As(runErr, &symbolErrs) {
		return nil, "", runErr
	}
	mergeFetchFailures(res, fetchFailures)

	if err := ctx.Err(); err != nil {
		return res, "", err
	}
	if strict {
		if err := res.Err(); err != nil {
			return res, "", err
		}
	}

	exportPath := ""
	if s.shouldExport(req) {
		if err := s.exporter.Export(ctx, s.exportPath, res.Rows); err != nil {
			return res, "", apperrors.NewExportError("failed to export returns", err)
		}
		exportPath = s.exportPath
		logger.InfoContext(ctx, "Returns exported",
			slog.String("path", exportPath),
			slog.String("format", s.exporter.Format()),
			slog.Int("rows", len(res.Rows)))
	}

	s.setLatest(res)
	return res, exportPath, nil
}

func (s *ReturnsService) shouldExport(req RunRequest) bool {
	if s.exporter == nil || s.exportPath == "" {
		return false
	}
	return req.Export == nil || *req.Export
}

func (s *ReturnsService) resolveSymbols(ctx context.Context, req RunRequest) ([]string, error) {
	if len(req.Symbols) > 0 {
		symbols, err := universe.Normalize(req.Symbols)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrTypeValidation, "invalid symbol list", err)
		}
		return symbols, nil
	}
	if s.universe == nil {
		return nil, nil
	}
	symbols, err := s.universe.Symbols(ctx)
	if err != nil {
		return nil, apperrors.NewSourceError("failed to load symbol universe", err)
	}
	return symbols, nil
}

func without(symbols []string, drop map[string]error) []string {
	if len(symbols) == 0 {
		return symbols
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// mergeFetchFailures reports symbols that never reached the pipeline next to
// the ones that failed inside it
func mergeFetchFailures(res *returns.Result, failures []returns.SymbolError) {
	if len(failures) == 0 {
		return
	}
	res.Failures = append(res.Failures, failures...)
	sort.SliceStable(res.Failures, func(i, j int) bool {
		return res.Failures[i].Symbol < res.Failures[j].Symbol
	})
	res.Summary.Symbols += len(failures)
	res.Summary.Failed += len(failures)
}

// StartRun validates req and starts an asynchronous run. Progress and the
// outcome are broadcast to the hub and kept for GetRun.
func (s *ReturnsService) StartRun(ctx context.Context, req RunRequest) (*Run, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.ErrServiceClosed
	}
	if s.active != "" {
		s.mu.Unlock()
		return nil, apperrors.ErrRunInProgress
	}

	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		Request:   req,
		StartedAt: time.Now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.active = run.ID
	s.pruneLocked()
	snapshot := *run
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Run started",
		slog.String("run_id", run.ID),
		slog.Int("symbols", len(req.Symbols)))

	go s.runAsync(snapshot)
	return &snapshot, nil
}

func (s *ReturnsService) runAsync(run Run) {
	defer s.wg.Done()

	ctx := s.baseCtx
	if run.TraceID != "" {
		ctx = infrastructure.WithTraceID(ctx, run.TraceID)
	}
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	s.broadcast(ws.TypeRunStarted, run)

	progress := func(done, total int, symbol string) {
		step := total / 100
		if step < 1 {
			step = 1
		}
		if done%step != 0 && done != total {
			return
		}
		s.mu.Lock()
		if r, ok := s.runs[run.ID]; ok && done > r.Progress.Done {
			r.Progress = RunProgress{Done: done, Total: total}
		}
		s.mu.Unlock()
		s.broadcast(ws.TypeRunProgress, map[string]interface{}{
			"run_id": run.ID,
			"done":   done,
			"total":  total,
			"symbol": symbol,
		})
	}

	res, exportPath, err := s.execute(ctx, run.Request, progress)
	s.finish(ctx, run.ID, res, exportPath, err)
}

func (s *ReturnsService) finish(ctx context.Context, id string, res *returns.Result, exportPath string, err error) {
	now := time.Now().UTC()

	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		// pruned while running; pruneLocked never drops the active run
		run = &Run{ID: id}
	}
	run.FinishedAt = &now
	run.ExportPath = exportPath
	if res != nil {
		summary := res.Summary
		run.Summary = &summary
		run.Failures = FailureInfos(res.Failures)
		run.Progress.Total = summary.Symbols
		run.Progress.Done = summary.Symbols
	}
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = RunStatusCompleted
	}
	if s.active == id {
		s.active = ""
	}
	snapshot := *run
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "Run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()))
		s.broadcast(ws.TypeRunFailed, snapshot)
		return
	}

	s.logger.InfoContext(ctx, "Run completed",
		slog.String("run_id", id),
		slog.Int("rows", len(res.Rows)),
		slog.Int("failed", res.Summary.Failed))
	s.broadcast(ws.TypeRunCompleted, snapshot)
}

// FailureInfos converts symbol errors to their JSON form
func FailureInfos(failures []returns.SymbolError) []FailureInfo {
	if len(failures) == 0 {
		return nil
	}
	out := make([]FailureInfo, len(failures))
	for i, f := range failures {
		out[i] = FailureInfo{Symbol: f.Symbol, Error: f.Err.Error()}
	}
	return out
}

// pruneLocked drops the oldest finished runs beyond maxRunHistory
func (s *ReturnsService) pruneLocked() {
	for len(s.order) > maxRunHistory {
		idx := 0
		if s.order[0] == s.active {
			idx = 1
		}
		delete(s.runs, s.order[idx])
		s.order = append(s.order[:idx], s.order[idx+1:]...)
	}
}

func (s *ReturnsService) broadcast(messageType string, data interface{}) {
	if s.hub != nil {
		s.hub.Broadcast(messageType, data)
	}
}

// GetRun returns a snapshot of a run
func (s *ReturnsService) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, apperrors.ErrRunNotFound
	}
	snapshot := *run
	return &snapshot, nil
}

// ListRuns returns known runs, newest first
func (s *ReturnsService) ListRuns() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.runs[s.order[i]])
	}
	return out
}

// ActiveRun returns the ID of the running run, or an empty string
func (s *ReturnsService) ActiveRun() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *ReturnsService) setLatest(res *returns.Result) {
	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()
}

// LatestResult returns the result of the last successful run or load
func (s *ReturnsService) LatestResult() (*returns.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, apperrors.ErrNoResults
	}
	return s.latest, nil
}

// ReturnsFor returns the latest rows of one symbol
func (s *ReturnsService) ReturnsFor(symbol string) ([]returns.ResolvedReturnRow, error) {
	res, err := s.LatestResult()
	if err != nil {
		return nil, err
	}
	rows := res.RowsFor(symbol)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSymbolNotFound, symbol)
	}
	return rows, nil
}

// Symbols summarizes every symbol of the latest result in symbol order
func (s *ReturnsService) Symbols() ([]SymbolSummary, error) {
	res, err := s.LatestResult()
	if err != nil {
		return nil, err
	}

	var out []SymbolSummary
	for _, row := range res.Rows {
		n := len(out)
		if n == 0 || out[n-1].Symbol != row.Symbol {
			out = append(out, SymbolSummary{Symbol: row.Symbol, FirstDate: row.EffectiveDate})
			n++
		}
		cur := &out[n-1]
		cur.Rows++
		cur.LastDate = row.EffectiveDate
		cur.Cumulative = row.NormReturnCumulative
	}
	return out, nil
}

// LoadResults replaces the latest result with a previously exported table.
// CSV and SQLite exports can be read back.
func (s *ReturnsService) LoadResults(ctx context.Context, path string) error {
	var (
		rows []returns.ResolvedReturnRow
		err  error
	)
	switch format := exporter.FormatFromPath(path); format {
	case exporter.FormatCSV:
		rows, err = exporter.ReadCSVFile(path)
	case exporter.FormatSQLite:
		rows, err = exporter.ReadSQLite(ctx, path)
	default:
		return apperrors.NewInputError(fmt.Sprintf("cannot load results from %q files", format))
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.NewAppError(apperrors.ErrTypeNotFound, "results file not found", err)
	case err != nil:
		return apperrors.NewParsingError("failed to load results", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].EffectiveDate.Before(rows[j].EffectiveDate)
	})

	res := &returns.Result{Rows: rows}
	for i, row := range rows {
		if i == 0 || rows[i-1].Symbol != row.Symbol {
			res.Summary.Symbols++
		}
	}
	res.Summary.Succeeded = res.Summary.Symbols
	res.Summary.Matches.Rows = len(rows)

	s.setLatest(res)
	s.logger.InfoContext(ctx, "Results loaded",
		slog.String("path", path),
		slog.Int("rows", len(rows)),
		slog.Int("symbols", res.Summary.Symbols))
	return nil
}

// Ready reports whether the service accepts new runs
func (s *ReturnsService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close stops accepting runs and waits for the active one. When ctx expires
// first the active run is cancelled.
func (s *ReturnsService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
