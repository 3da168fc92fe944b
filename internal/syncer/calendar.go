package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"time"

	"github.com/notisync/notisync/internal/checkpoint"
	"github.com/notisync/notisync/internal/model"
)

// CalendarSource is the event stream the calendar reconciler pulls
// from. Both iterations belong to the same pass: IterateEvents runs
// first and may stage deletions that IterateDeletedEvents replays.
type CalendarSource interface {
	Acquire() (release func(), err error)
	IterateEvents(ctx context.Context, from, to, modifiedSince time.Time, fn func(model.Event) error) error
	IterateDeletedEvents(ctx context.Context, modifiedSince time.Time, fn func(model.Event) error) error
}

// EventSink is the calendar side of the page sink.
type EventSink interface {
	RefreshProjects(ctx context.Context) error
	ExistsEvent(ctx context.Context, id string) (pageID string, err error)
	CreateEvent(ctx context.Context, ev model.Event) error
	UpdateEvent(ctx context.Context, pageID string, ev model.Event) error
	DeleteEvent(ctx context.Context, pageID string) error
}

// CalendarConfig configures a CalendarSyncer.
type CalendarConfig struct {
	Source      CalendarSource
	Sink        EventSink
	Checkpoints *checkpoint.Store
	Location    *time.Location
	HorizonDays int      // sync window length from midnight today
	Ignore      []string // subject glob patterns to skip
	Logger      *log.Logger
	Now         func() time.Time // defaults to time.Now

	// WindowFrom/WindowTo override the derived sync window when both
	// are set. Used by one-shot syncs.
	WindowFrom time.Time
	WindowTo   time.Time
}

// CalendarSyncer reconciles the calendar source into the sink by
// periodic diff: events modified since the last successful pass are
// upserted, deleted ones removed.
type CalendarSyncer struct {
	cfg      CalendarConfig
	logger   *log.Logger
	now      func() time.Time
	lastSync time.Time
}

// NewCalendarSyncer creates the reconciler and loads its checkpoint.
func NewCalendarSyncer(cfg CalendarConfig) (*CalendarSyncer, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[calendar] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &CalendarSyncer{cfg: cfg, logger: cfg.Logger, now: cfg.Now}

	cp, err := cfg.Checkpoints.Load(s.Name())
	if err != nil {
		return nil, fmt.Errorf("loading calendar checkpoint: %w", err)
	}
	if cp != nil {
		s.lastSync = cp.LastSync
		s.logger.Printf("Last sync: %s", s.lastSync.Format("02/01/2006 15:04:05"))
	} else {
		s.logger.Printf("Last sync: never")
	}
	return s, nil
}

func (s *CalendarSyncer) Name() string { return "calendar" }

func (s *CalendarSyncer) LastSync() time.Time { return s.lastSync }

// Sync runs one calendar pass: live events first, then deletions. The
// checkpoint is persisted only when the whole pass succeeded, so a
// failure replays the same window next time.
func (s *CalendarSyncer) Sync(ctx context.Context) (Outcome, error) {
	var outcome Outcome

	release, err := s.cfg.Source.Acquire()
	if err != nil {
		return outcome, fmt.Errorf("acquiring calendar source: %w", err)
	}
	defer release()

	if err := s.cfg.Sink.RefreshProjects(ctx); err != nil {
		return outcome, err
	}

	from, to := s.window()

	err = s.cfg.Source.IterateEvents(ctx, from, to, s.lastSync, func(ev model.Event) error {
		if s.ignored(ev.Subject) {
			return nil
		}

		pageID, err := s.cfg.Sink.ExistsEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		if pageID != "" {
			s.logger.Printf("Updating event: %s", ev.Subject)
			if err := s.cfg.Sink.UpdateEvent(ctx, pageID, ev); err != nil {
				return err
			}
			outcome.Updated++
			return nil
		}

		s.logger.Printf("Creating event: %s", ev.Subject)
		if err := s.cfg.Sink.CreateEvent(ctx, ev); err != nil {
			return err
		}
		outcome.Created++
		return nil
	})
	if err != nil {
		return outcome, err
	}

	err = s.cfg.Source.IterateDeletedEvents(ctx, s.lastSync, func(ev model.Event) error {
		if s.ignored(ev.Subject) {
			return nil
		}

		pageID, err := s.cfg.Sink.ExistsEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		if pageID == "" {
			return nil
		}

		s.logger.Printf("Deleting event: %s", ev.Subject)
		if err := s.cfg.Sink.DeleteEvent(ctx, pageID); err != nil {
			return err
		}
		outcome.Deleted++
		return nil
	})
	if err != nil {
		return outcome, err
	}

	s.logSummary(outcome)

	completed := s.now().In(s.cfg.Location)
	if err := s.cfg.Checkpoints.Save(s.Name(), completed, ""); err != nil {
		return outcome, fmt.Errorf("saving calendar checkpoint: %w", err)
	}
	s.lastSync = completed

	return outcome, nil
}

func (s *CalendarSyncer) window() (time.Time, time.Time) {
	if !s.cfg.WindowFrom.IsZero() && !s.cfg.WindowTo.IsZero() {
		return s.cfg.WindowFrom, s.cfg.WindowTo
	}
	from := midnight(s.now().In(s.cfg.Location))
	return from, from.AddDate(0, 0, s.cfg.HorizonDays)
}

func (s *CalendarSyncer) ignored(subject string) bool {
	for _, pattern := range s.cfg.Ignore {
		if ok, err := path.Match(pattern, subject); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *CalendarSyncer) logSummary(o Outcome) {
	if o.Empty() {
		s.logger.Printf("Calendar sync successful: nothing to sync")
		return
	}
	s.logger.Printf("Calendar sync successful: %d created, %d updated, %d deleted",
		o.Created, o.Updated, o.Deleted)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
