package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notisync/notisync/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "notisync",
	Short: "Sync your calendar and tasks into Notion",
	Long: `notisync keeps a Notion workspace in step with an Outlook calendar
and a Todoist account.

Calendar events flow one way into the calendar database, recurring
series expanded into individual occurrences. Tasks flow both ways:
remote changes are pulled into the tasks database, and pages edited
in Notion are pushed back.

Run 'notisync run' to start the daemon, or 'notisync sync' for a
single pass.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"Path to the TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
