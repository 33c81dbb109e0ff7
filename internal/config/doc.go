// Package config loads and validates shiftwatch configuration from TOML
// with defaults, path expansion, and environment variable fallbacks for
// secrets.
package config
