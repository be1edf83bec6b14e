// Command agentnetd runs the agent network kernel: the HTTP/WS gateway,
// the per-agent actor pool, and the scheduled think loop, backed by
// sqlite or postgres. Cobra subcommand layout (serve/migrate/seed) is
// grounded on vanducng-goclaw's cmd/root.go and cmd/migrate.go.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentnetd",
		Short: "Agent network kernel",
		Long:  "agentnetd hosts a set of per-agent actors behind an HTTP/WS gateway: encrypted memory, scheduled think loops, and encrypted inter-agent channels.",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	return root
}
