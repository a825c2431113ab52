// Command agingcore is the thin external driver spec §6 describes: it
// loads configuration, wires C1-C7 for one group and serves Prometheus
// metrics. Its `run` subcommand starts that group and stops it on
// SIGINT/SIGTERM; `validate-config` only checks the two documents. Pause
// and resume are not exposed on the CLI (the operator console itself
// stays out of scope).
package main

import (
	"fmt"
	"os"

	"github.com/agingbench/core/cmd/agingcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
