package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notisync/notisync/internal/checkpoint"
	"github.com/notisync/notisync/internal/config"
	"github.com/notisync/notisync/internal/logging"
	"github.com/notisync/notisync/internal/notion"
	"github.com/notisync/notisync/internal/outlook"
	"github.com/notisync/notisync/internal/statusd"
	"github.com/notisync/notisync/internal/syncer"
	"github.com/notisync/notisync/internal/todoist"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run both sync activities on their configured interval and serve
status over HTTP.

The daemon watches the config file and restarts its activities when it
changes. Calendar sync is skipped with a warning when no calendar
store is available on this platform; task sync runs everywhere.

Status endpoints (on the configured listen address):
  /health   liveness check
  /status   latest status per activity
  /ws       WebSocket feed of status updates`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for {
			restart, err := runOnce(sigCtx)
			if err != nil {
				return err
			}
			if !restart {
				return nil
			}
		}
	},
}

// runOnce runs the daemon until ctx is cancelled or the config file
// changes. It reports whether the caller should rebuild and run again.
func runOnce(sigCtx context.Context) (restart bool, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return false, err
	}

	logw := logging.Setup(cfg.Logs.Dir, cfg.Logs.KeepForDays)
	logger := logging.New(logw, "daemon")

	activities, store, err := buildActivities(cfg, logw, time.Time{}, time.Time{})
	if err != nil {
		return false, err
	}
	defer store.Close()

	if len(activities) == 0 {
		return false, errors.New("no sync activities available")
	}

	server := statusd.NewServer(statusd.Config{
		Addr:   cfg.Listen,
		Logger: logging.New(logw, "statusd"),
	})

	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var wg sync.WaitGroup
	for _, activity := range activities {
		sched := syncer.NewScheduler(syncer.SchedulerConfig{
			Activity: activity,
			Interval: cfg.Interval(),
			Logger:   logging.New(logw, "scheduler"),
		})
		sched.AddListener(server)
		server.AddController(activity.Name(), sched)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	if err := server.Start(); err != nil {
		cancel()
		wg.Wait()
		return false, err
	}
	defer server.Stop()

	reload := make(chan struct{}, 1)
	watcher, err := config.Watch(configPath, func(*config.Config) {
		select {
		case reload <- struct{}{}:
		default:
		}
	}, logging.New(logw, "config"))
	if err != nil {
		logger.Printf("Config watching disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	logger.Printf("Daemon started, interval %s, status on %s", cfg.Interval(), cfg.Listen)

	select {
	case <-sigCtx.Done():
		logger.Printf("Shutting down")
		cancel()
		wg.Wait()
		return false, nil
	case <-reload:
		logger.Printf("Config changed, restarting activities")
		cancel()
		wg.Wait()
		return true, nil
	}
}

// buildActivities wires the source and sink clients into the sync
// activities runnable on this host. A non-zero windowFrom/windowTo
// pair overrides the calendar sync window for one-shot runs.
func buildActivities(cfg *config.Config, logw io.Writer, windowFrom, windowTo time.Time) ([]syncer.Activity, *checkpoint.Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	store, err := checkpoint.Open(cfg.CheckpointPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening checkpoint store: %w", err)
	}

	notionClient := notion.NewClient(notion.Config{
		Token:      cfg.Notion.Token,
		CalendarDB: cfg.Notion.CalendarDB,
		TasksDB:    cfg.Notion.TasksDB,
		ProjectsDB: cfg.Notion.ProjectsDB,
		Timezone:   cfg.Timezone,
		Logger:     logging.New(logw, "notion"),
	})

	var activities []syncer.Activity

	itemStore, err := outlook.PlatformStore()
	switch {
	case errors.Is(err, outlook.ErrStoreUnavailable):
		logging.New(logw, "daemon").Printf("Calendar sync unavailable: %v", err)
	case err != nil:
		store.Close()
		return nil, nil, err
	default:
		calendar, err := syncer.NewCalendarSyncer(syncer.CalendarConfig{
			Source:      outlook.New(itemStore, logging.New(logw, "outlook")),
			Sink:        notionClient,
			Checkpoints: store,
			Location:    loc,
			HorizonDays: cfg.HorizonDays,
			Ignore:      cfg.Calendar.Ignore,
			Logger:      logging.New(logw, "calendar"),
			WindowFrom:  windowFrom,
			WindowTo:    windowTo,
		})
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		activities = append(activities, calendar)
	}

	tasks, err := syncer.NewTaskSyncer(syncer.TaskConfig{
		Source: todoist.NewClient(todoist.Config{
			Token:  cfg.Todoist.Token,
			Logger: logging.New(logw, "todoist"),
		}),
		Sink:        notionClient,
		Checkpoints: store,
		Logger:      logging.New(logw, "tasks"),
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	activities = append(activities, tasks)

	return activities, store, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
