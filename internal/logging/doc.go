// Package logging assembles structured slog loggers and formatting helpers used
// across barfeed.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers so every component tags its lines
// with the same keys. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
//
// stdout carries bar data, so loggers built here default to stderr. Prefer
// these constructors over hand-rolled slog setup.
package logging
