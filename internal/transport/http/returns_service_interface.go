package http

import (
	"context"

	"pricereturns/internal/returns"
	"pricereturns/internal/services"
)

// ReturnsServiceInterface defines the returns service operations used by the handlers
type ReturnsServiceInterface interface {
	StartRun(ctx context.Context, req services.RunRequest) (*services.Run, error)
	GetRun(id string) (*services.Run, error)
	ListRuns() []services.Run
	LatestResult() (*returns.Result, error)
	ReturnsFor(symbol string) ([]returns.ResolvedReturnRow, error)
	Symbols() ([]services.SymbolSummary, error)
}
