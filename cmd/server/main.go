/*
main.go - Application entry point

PURPOSE:
  The coverd binary. Subcommands:
    serve   Run the HTTP API over a SQLite store
    quote   Compute a refund offline from premium and block window

EXAMPLES:
  # Run with file database
  ./coverd serve --db=./data/cover.db

  # Run from a config file, override the port
  ./coverd serve --config=cover.yaml --port=3000

  # Refund for a 50000 premium, window 0..4320, cancelled at block 100
  ./coverd quote --premium=50000 --start=0 --end=4320 --at=100

SEE ALSO:
  - serve.go: Startup and graceful shutdown
  - config/config.go: Configuration sources
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coverd",
		Short:         "Parametric cover policy engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newQuoteCommand())

	return cmd
}
