// Package cmd implements the command-line interface for the mLog crash-resilient
// logger. It provides a hierarchical command structure for writing records, inspecting
// and recovering backing files and measuring throughput.
//
// The package is organized into several subpackages:
//
//   - logs: Commands that write records (write, pipe)
//   - store: Commands that work on a backing file (inspect, recover, stats)
//   - bench: Concurrent write benchmark
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mlog -help for a list of all commands.
package cmd
