// Package config provides centralized configuration management for the
// returns pipeline, its batch driver and its HTTP server.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern RETURNS_<SECTION>_<FIELD>:
//
//	RETURNS_PIPELINE_TOLERANCE_DAYS=28
//	RETURNS_PIPELINE_WORKERS=8
//	RETURNS_SOURCE_PROVIDER=eodhd
//	RETURNS_SOURCE_EODHD_API_KEY=...
//	RETURNS_SOURCE_EODHD_FROM=2020-01-01
//	RETURNS_OUTPUT_FORMAT=sqlite
//	RETURNS_LOGGING_LEVEL=debug
//
// # Validation
//
// Field constraints are declared with validator tags and checked after all
// sources have been merged, followed by cross-field rules such as requiring
// an API key for the eodhd provider.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Tests can start from config.Default() which needs no file or environment.
package config
