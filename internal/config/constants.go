package config

import "time"

// Application constants
const (
	// Application Info
	AppName    = "pricereturns"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment override (RETURNS_PIPELINE_WORKERS, ...)
	EnvPrefix = "RETURNS"

	// Pipeline
	DefaultToleranceDays = 28

	// Price sources
	ProviderCSV             = "csv"
	ProviderEODHD           = "eodhd"
	DefaultBatchSize        = 100
	DefaultFetchConcurrency = 4
	DefaultEODHDBaseURL     = "https://eodhd.com/api"
	DefaultEODHDRateLimit   = 10 // requests per second

	// Output formats
	FormatCSV    = "csv"
	FormatXLSX   = "xlsx"
	FormatSQLite = "sqlite"

	// Network Timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultRunTimeout   = 2 * time.Hour
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second

	// File Paths (relative to the base directory)
	DefaultDataDir    = "data"
	DefaultLogsDir    = "logs"
	DefaultReportsDir = "data/reports"

	// WebSocket Buffer Sizes
	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// API routes
const (
	APIBasePath       = "/api/v1"
	RunsEndpoint      = "/api/v1/runs"
	ReturnsEndpoint   = "/api/v1/returns"
	SymbolsEndpoint   = "/api/v1/symbols"
	HealthEndpoint    = "/healthz"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"
)
