package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/guregu/null/v6"

	apierrors "pricereturns/internal/errors"
	"pricereturns/internal/exporter"
	"pricereturns/internal/middleware"
	"pricereturns/internal/returns"
	"pricereturns/internal/services"
	"pricereturns/internal/universe"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 1000
	maxLimit     = 10000
)

// ReturnsHandler serves runs and the latest returns table
type ReturnsHandler struct {
	service      ReturnsServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewReturnsHandler creates a new returns handler
func NewReturnsHandler(service ReturnsServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ReturnsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReturnsHandler{
		service:      service,
		logger:       logger.With(slog.String("handler", "returns")),
		errorHandler: errorHandler,
	}
}

// Routes returns the returns routes
func (h *ReturnsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.StartRun)
		r.Get("/", h.ListRuns)
		r.Get("/{id}", h.GetRun)
	})

	r.Get("/returns", h.GetReturns)
	r.With(h.SymbolCtx).Get("/returns/{symbol}", h.GetSymbolReturns)
	r.Get("/symbols", h.GetSymbols)

	return r
}

// ReturnRow is the JSON form of one output row. Absent values are null.
type ReturnRow struct {
	Symbol               string     `json:"symbol"`
	EffectiveDate        string     `json:"effective_date"`
	PreviousDate         string     `json:"previous_date"`
	EndPrice             null.Float `json:"end_price"`
	StartPrice           null.Float `json:"start_price"`
	NormReturn           null.Float `json:"norm_return"`
	NormReturnCumulative null.Float `json:"norm_return_cumulative"`
}

func toReturnRows(rows []returns.ResolvedReturnRow) []ReturnRow {
	out := make([]ReturnRow, len(rows))
	for i, r := range rows {
		out[i] = ReturnRow{
			Symbol:               r.Symbol,
			EffectiveDate:        r.EffectiveDate.Format(returns.DateLayout),
			PreviousDate:         r.PreviousDate.Format(returns.DateLayout),
			EndPrice:             r.EndPrice,
			StartPrice:           r.StartPrice,
			NormReturn:           r.NormReturn,
			NormReturnCumulative: r.NormReturnCumulative,
		}
	}
	return out
}

// ReturnsResponse is a page of the latest returns table
type ReturnsResponse struct {
	Summary  returns.Summary        `json:"summary"`
	Failures []services.FailureInfo `json:"failures,omitempty"`
	Total    int                    `json:"total"`
	Offset   int                    `json:"offset"`
	Limit    int                    `json:"limit"`
	Rows     []ReturnRow            `json:"rows"`
}

// SymbolReturnsResponse holds every row of one symbol
type SymbolReturnsResponse struct {
	Symbol string      `json:"symbol"`
	Rows   []ReturnRow `json:"rows"`
}

// StartRun handles POST /runs
func (h *ReturnsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.RunRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil && !errors.Is(err, io.EOF) {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	run, err := h.service.StartRun(ctx, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "run accepted",
		slog.String("request_id", middleware.GetRequestID(ctx)),
		slog.String("run_id", run.ID))

	w.Header().Set("Location", path.Join(r.URL.Path, run.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, run)
}

// ListRuns handles GET /runs
func (h *ReturnsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.service.ListRuns()
	render.JSON(w, r, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id}
func (h *ReturnsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, run)
}

// rowFilter holds the query parameters of GET /returns
type rowFilter struct {
	symbols map[string]bool
	from    time.Time
	to      time.Time
	offset  int
	limit   int
	csv     bool
}

func parseRowFilter(r *http.Request) (rowFilter, error) {
	q := r.URL.Query()
	f := rowFilter{limit: defaultLimit}

	if raw := q.Get("symbols"); raw != "" {
		f.symbols = make(map[string]bool)
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if err := universe.ValidateSymbol(s); err != nil {
				return f, apierrors.ErrValidation("symbols", err.Error())
			}
			f.symbols[s] = true
		}
	}

	for name, dst := range map[string]*time.Time{"from": &f.from, "to": &f.to} {
		if raw := q.Get(name); raw != "" {
			d, err := returns.ParseDay(raw)
			if err != nil {
				return f, apierrors.ErrValidation(name, "must be a YYYY-MM-DD date")
			}
			*dst = d
		}
	}
	if !f.from.IsZero() && !f.to.IsZero() && f.to.Before(f.from) {
		return f, apierrors.ErrValidation("to", "must not be before from")
	}

	for name, dst := range map[string]*int{"offset": &f.offset, "limit": &f.limit} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return f, apierrors.ErrValidation(name, "must be a non-negative integer")
			}
			*dst = n
		}
	}
	if f.limit == 0 || f.limit > maxLimit {
		f.limit = maxLimit
	}

	switch format := q.Get("format"); format {
	case "", "json":
	case exporter.FormatCSV:
		f.csv = true
	default:
		return f, apierrors.ErrValidation("format", "must be json or csv")
	}
	return f, nil
}

func (f rowFilter) match(row returns.ResolvedReturnRow) bool {
	if f.symbols != nil && !f.symbols[row.Symbol] {
		return false
	}
	if !f.from.IsZero() && row.EffectiveDate.Before(f.from) {
		return false
	}
	if !f.to.IsZero() && row.EffectiveDate.After(f.to) {
		return false
	}
	return true
}

// GetReturns handles GET /returns. Supported query parameters are symbols
// (comma separated), from and to (inclusive effective dates), offset, limit
// and format (json or csv). CSV responses are not paginated.
func (h *ReturnsHandler) GetReturns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRowFilter(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := h.service.LatestResult()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var rows []returns.ResolvedReturnRow
	for _, row := range res.Rows {
		if filter.match(row) {
			rows = append(rows, row)
		}
	}

	if filter.csv {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="returns.csv"`)
		if err := exporter.WriteCSV(w, rows); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to stream csv",
				slog.String("request_id", middleware.GetRequestID(r.Context())),
				slog.String("error", err.Error()))
		}
		return
	}

	total := len(rows)
	lo := min(filter.offset, total)
	hi := min(lo+filter.limit, total)

	render.JSON(w, r, ReturnsResponse{
		Summary:  res.Summary,
		Failures: services.FailureInfos(res.Failures),
		Total:    total,
		Offset:   filter.offset,
		Limit:    filter.limit,
		Rows:     toReturnRows(rows[lo:hi]),
	})
}

// SymbolCtx validates the symbol path parameter
func (h *ReturnsHandler) SymbolCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := universe.ValidateSymbol(chi.URLParam(r, "symbol")); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("symbol", err.Error()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSymbolReturns handles GET /returns/{symbol}
func (h *ReturnsHandler) GetSymbolReturns(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	rows, err := h.service.ReturnsFor(symbol)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, SymbolReturnsResponse{Symbol: symbol, Rows: toReturnRows(rows)})
}

// GetSymbols handles GET /symbols
func (h *ReturnsHandler) GetSymbols(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Symbols()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"symbols": summaries,
		"count":   len(summaries),
	})
}
