package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/notisync/notisync/internal/checkpoint"
	"github.com/notisync/notisync/internal/config"
	"github.com/notisync/notisync/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoints and daemon state",
	Long: `Show the last successful sync per activity from the checkpoint
store, and the live daemon state when one is running on the configured
listen address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := checkpoint.Open(cfg.CheckpointPath())
		if err != nil {
			return fmt.Errorf("opening checkpoint store: %w", err)
		}
		defer store.Close()

		live := fetchDaemonStatus(cfg.Listen)

		fmt.Println(headerStyle.Render("notisync status"))
		fmt.Println()

		for _, activity := range []string{"calendar", "tasks"} {
			printActivity(store, activity, live)
		}

		fmt.Println()
		if live != nil {
			fmt.Printf("%s %s\n", labelStyle.Render("daemon"), okStyle.Render("running on "+cfg.Listen))
		} else {
			fmt.Printf("%s %s\n", labelStyle.Render("daemon"), warnStyle.Render("not running"))
		}
		return nil
	},
}

func printActivity(store *checkpoint.Store, activity string, live map[string]model.SyncStatus) {
	fmt.Println(headerStyle.Render(activity))

	cp, err := store.Load(activity)
	switch {
	case err != nil:
		fmt.Printf("%s %s\n", labelStyle.Render("last sync"), errStyle.Render(err.Error()))
	case cp == nil:
		fmt.Printf("%s %s\n", labelStyle.Render("last sync"), warnStyle.Render("never"))
	default:
		fmt.Printf("%s %s (%s ago)\n", labelStyle.Render("last sync"),
			cp.LastSync.Format("02/01/2006 15:04:05"),
			time.Since(cp.LastSync).Round(time.Second))
	}

	if live != nil {
		if status, ok := live[activity]; ok {
			fmt.Printf("%s %s\n", labelStyle.Render("state"), renderState(status))
		}
	}
	fmt.Println()
}

func renderState(status model.SyncStatus) string {
	switch {
	case status.Running:
		return warnStyle.Render("syncing")
	case status.Err:
		return errStyle.Render("last pass failed")
	default:
		return okStyle.Render("idle")
	}
}

// fetchDaemonStatus queries the daemon's status endpoint. A nil map
// means no daemon answered.
func fetchDaemonStatus(addr string) map[string]model.SyncStatus {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var statuses map[string]model.SyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil
	}
	return statuses
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
