package commands

import (
	"os"

	"github.com/roasbeef/draftsync/internal/web"
	"github.com/spf13/cobra"
)

var (
	// serverAddr is the address of the draftsyncd HTTP API.
	serverAddr string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "draftsync",
	Short: "Control a draftsyncd daemon",
	Long: `draftsync talks to a running draftsyncd over its HTTP API.

Use it to manage accounts and the session, save local messages, schedule
draft submissions and follow the background work that carries them out.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultServer := os.Getenv("DRAFTSYNC_SERVER")
	if defaultServer == "" {
		defaultServer = web.DefaultAddr
	}

	rootCmd.PersistentFlags().StringVar(
		&serverAddr, "server", defaultServer,
		"draftsyncd HTTP API address (env DRAFTSYNC_SERVER)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
