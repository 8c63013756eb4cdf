// Package services implements the application layer between the HTTP
// handlers and the returns pipeline.
//
// # Available Services
//
//	- ReturnsService: fetches price histories, runs the pipeline, exports the
//	  table and keeps the latest result and run history for querying
//	- HealthService: liveness, readiness and version information
//
// NewPriceSource and NewUniverse build the configured price source (CSV or
// EODHD, optionally behind the Badger cache) and symbol universe.
//
// # Runs
//
// Execute runs synchronously and is what the command line driver uses.
// StartRun runs asynchronously; only one run may be active at a time and a
// second request fails with errors.ErrRunInProgress. Lifecycle events are
// broadcast through the WebSocket hub:
//
//	run:started    the run snapshot
//	run:progress   {"run_id", "done", "total", "symbol"}
//	run:completed  the final run snapshot
//	run:failed     the final run snapshot with its error
//
// # Error Handling
//
// Services return sentinel errors from the errors package (ErrRunInProgress,
// ErrRunNotFound, ErrNoResults, ErrSymbolNotFound) or *errors.AppError
// values, which the HTTP error handler maps to problem responses.
package services
