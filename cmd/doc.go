// Package cmd implements the command-line interface of the duplex demo
// binary. It provides a hierarchical command structure for running the demo
// echo server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Command for starting and configuring the demo server
//   - client: Commands for issuing echo calls, notifications and pings
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See duplex -help for a list of all commands.
package cmd
