// Package logging builds the slog loggers used across shiftwatch and
// provides the standardized attribute helpers and field names shared by
// every component.
package logging
