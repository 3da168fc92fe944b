package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/notisync/notisync/internal/config"
	"github.com/notisync/notisync/internal/logging"
)

var (
	syncActivity string
	syncFrom     string
	syncTo       string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync pass and exit",
	Long: `Run one pass of the selected activities and exit.

By default both activities run. The calendar window can be overridden
with --from and --to, which accept either dates (2024-06-15) or
natural phrases like "today" and "next friday".

Examples:
  notisync sync
  notisync sync --activity tasks
  notisync sync --from today --to "next friday"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		windowFrom, windowTo, err := parseWindow(syncFrom, syncTo, loc)
		if err != nil {
			return err
		}

		logw := logging.Setup(cfg.Logs.Dir, cfg.Logs.KeepForDays)
		activities, store, err := buildActivities(cfg, logw, windowFrom, windowTo)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ran := 0
		for _, activity := range activities {
			if syncActivity != "" && activity.Name() != syncActivity {
				continue
			}
			ran++

			outcome, err := activity.Sync(ctx)
			if err != nil {
				return fmt.Errorf("%s sync failed: %w", activity.Name(), err)
			}
			fmt.Printf("%s: %d created, %d updated, %d completed, %d deleted\n",
				activity.Name(), outcome.Created, outcome.Updated, outcome.Completed, outcome.Deleted)
		}

		if ran == 0 {
			return fmt.Errorf("no activity named %q is available", syncActivity)
		}
		return nil
	},
}

// parseWindow turns the --from/--to flags into a calendar window. Both
// must be given together; each accepts a date or a natural phrase.
func parseWindow(fromStr, toStr string, loc *time.Location) (time.Time, time.Time, error) {
	if fromStr == "" && toStr == "" {
		return time.Time{}, time.Time{}, nil
	}
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be used together")
	}

	from, err := parseDateFlag(fromStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDateFlag(toStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %q is before --from %q", toStr, fromStr)
	}
	return from, to, nil
}

func parseDateFlag(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now().In(loc))
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("cannot parse date %q", s)
	}
	t := r.Time.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

func init() {
	syncCmd.Flags().StringVarP(&syncActivity, "activity", "a", "",
		"Run only this activity (calendar or tasks)")
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "Calendar window start")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "Calendar window end")

	rootCmd.AddCommand(syncCmd)
}
