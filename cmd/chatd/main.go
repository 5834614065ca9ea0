// Command chatd runs a chat session core with a local HTTP and event bridge surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatd",
		Short: "Realtime chat session daemon",
		Long: `chatd keeps one chat session connected to a chat server and exposes it locally.

Configuration comes from CHATD_* environment variables. UI clients attach to
/api/events for session events; /api/* serves introspection and debug sends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
