package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/notisync/notisync/internal/config"
)

var controlActivity string

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running daemon to sync now",
	Long: `Cut the running daemon's wait short and start a pass immediately.
A no-op for an activity whose pass is already running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlDaemon("sync")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running daemon's schedule",
	Long: `Freeze the countdown to the next pass. A pass already in flight
runs to completion; nothing new starts until 'notisync resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlDaemon("pause")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlDaemon("resume")
	},
}

func controlDaemon(action string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	url := "http://" + cfg.Listen + "/" + action
	if controlActivity != "" {
		url += "?activity=" + controlActivity
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "", nil)
	if err != nil {
		return fmt.Errorf("no daemon reachable on %s: %w", cfg.Listen, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("no activity named %q", controlActivity)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon refused %s: status %d", action, resp.StatusCode)
	}

	fmt.Printf("%s sent\n", action)
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{triggerCmd, pauseCmd, resumeCmd} {
		cmd.Flags().StringVarP(&controlActivity, "activity", "a", "",
			"Target a single activity (calendar or tasks)")
		rootCmd.AddCommand(cmd)
	}
}
