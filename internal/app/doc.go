// Package app wires the returns server together and manages its lifecycle.
//
// NewApplication resolves the data directories, initializes OpenTelemetry,
// builds the price source (optionally behind the Badger cache), the returns
// and health services and the WebSocket hub, and mounts the chi router:
//
//	/healthz                 liveness check
//	/metrics                 Prometheus registry
//	/ws                      run lifecycle events
//	/api/health[/ready|/live]
//	/api/version
//	/api/metrics
//	/api/v1/runs[/{id}]
//	/api/v1/returns[/{symbol}]
//	/api/v1/symbols
//
// Run blocks until the context is cancelled or SIGINT/SIGTERM arrives, then
// drains HTTP requests, waits for the active run within the shutdown timeout
// and closes the hub, the price cache and the telemetry providers.
package app
