package commands

import (
	"fmt"

	"github.com/roasbeef/draftsync/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration the daemon would run with, after applying
the config file and DRAFTSYNC_* environment variables.`,
	RunE: runConfigShow,
}

func init() {
	configCmd.PersistentFlags().StringVar(&configPath, "config",
		config.DefaultPath(), "Path to the config file")
	configInitCmd.Flags().BoolVar(&configForce, "force", false,
		"Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.Write(configPath, config.Default(), configForce); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}

	return outputJSON(cfg)
}
