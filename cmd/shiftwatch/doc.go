// Package main hosts the shiftwatch CLI entrypoint and command graph.
//
// The cobra-based command tree covers the daemon poll loop, single poll
// cycles, queue and workflow inspection, and configuration scaffolding. It
// centralizes configuration resolution and service wiring so subcommands can
// stay declarative; the heavy lifting lives in the internal packages.
package main
