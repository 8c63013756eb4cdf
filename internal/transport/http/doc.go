// Package http implements the HTTP handlers of the returns service. Handlers
// stay thin: they parse and validate the request, call a service and render
// the response, leaving business rules to the services package.
//
// # Routes
//
// ReturnsHandler.Routes is mounted under /api/v1:
//
//	POST /runs               start an asynchronous run (202, Location header)
//	GET  /runs               list recent runs, newest first
//	GET  /runs/{id}          one run with progress, summary and failures
//	GET  /returns            the latest table, filtered and paginated
//	GET  /returns/{symbol}   every row of one symbol
//	GET  /symbols            per-symbol summaries of the latest table
//
// HealthHandler serves /api/health, /api/health/ready, /api/health/live and
// /api/version. MetricsHandler serves hub counters and, when enabled, the
// Prometheus registry.
//
// # Error Handling
//
// Every failure goes through errors.ErrorHandler, which renders RFC 7807
// problem details. Service sentinels map to status codes there:
//
//	ErrRunInProgress   409
//	ErrRunNotFound     404
//	ErrNoResults       404
//	ErrSymbolNotFound  404
//	validation errors  400
package http
