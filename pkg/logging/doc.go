// Package logging provides subsystem-scoped structured logging for pflow.
//
// All log entries carry a subsystem label (for example "Executor",
// "MCPDiscovery", "Registry") so that debug output from a workflow run can be
// filtered to the component under investigation. The package wraps log/slog
// with printf-style helpers:
//
//	logging.Debug("Executor", "executing node %s (attempt %d)", id, attempt)
//	logging.Error("MCPClient", err, "tool call %s failed", tool)
//
// Commands that print JSON to stdout call InitQuiet so that log output cannot
// interleave with the machine-readable result envelope. Program logs are
// separate from execution traces: traces are collected by internal/trace and
// written as a single JSON document per run.
package logging
