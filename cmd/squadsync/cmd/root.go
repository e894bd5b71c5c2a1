package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "squadsync",
	Short: "Squadbets real-time sync CLI",
	Long: `squadsync exercises the real-time group messaging core from the
command line.

Available commands:
  tail    Connect, join a group, and print its live message stream
  send    Send a single message to a group

Configuration is read from the environment (or a .env file):
SQUADBETS_WS_URL, SQUADBETS_API_URL, SQUADBETS_TOKEN, SQUADBETS_USERNAME.

Use "squadsync [command] --help" for more information about a command.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
