package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "astrochat",
	Short: "Persistent IRC transport for the Astro chat UI",
	Long:  "astrochat maintains the chat connections behind the Astro UI: an interactive client, a channel monitor with durable history, and the HTTP/WebSocket API that serves them.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
}
