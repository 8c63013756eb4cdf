// Package shared holds helpers used by tests across packages.
//
// The testutil subpackage provides a slog handler that records log calls for
// assertions and a small set of price fixtures.
package shared
