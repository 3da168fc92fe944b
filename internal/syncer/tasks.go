package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/notisync/notisync/internal/checkpoint"
	"github.com/notisync/notisync/internal/model"
)

// TaskSource is the remote task service. ReadDelta follows the
// sync-token protocol: the token returned by one call is passed to the
// next, and an empty token requests a full read.
type TaskSource interface {
	ReadDelta(ctx context.Context, token string) (tasks []model.Task, newToken string, err error)
	ReadCompleted(ctx context.Context, since time.Time) ([]model.Task, error)
	Create(ctx context.Context, task model.Task) (id string, err error)
	Update(ctx context.Context, task model.Task) error
	Exists(ctx context.Context, id string) (bool, error)
}

// TaskSink is the task side of the page sink.
type TaskSink interface {
	RefreshProjects(ctx context.Context) error
	ExistsTask(ctx context.Context, id string) (pageID string, err error)
	CreateTask(ctx context.Context, task model.Task) error
	UpdateTask(ctx context.Context, pageID string, task model.Task) error
	CompleteTask(ctx context.Context, pageID string) error
	DeleteTask(ctx context.Context, pageID string) error
	UpdateTaskID(ctx context.Context, pageID, id string) error
	ChangedTasks(ctx context.Context, from, to time.Time) ([]model.SinkTask, error)
}

// TaskConfig configures a TaskSyncer.
type TaskConfig struct {
	Source      TaskSource
	Sink        TaskSink
	Checkpoints *checkpoint.Store
	Logger      *log.Logger
	Now         func() time.Time // defaults to time.Now
}

// TaskSyncer reconciles tasks in both directions: remote changes are
// pulled into the sink, then sink edits from the window since the last
// pass are pushed back.
type TaskSyncer struct {
	cfg    TaskConfig
	logger *log.Logger
	now    func() time.Time

	lastSync  time.Time
	syncToken string
}

// NewTaskSyncer creates the reconciler and loads its checkpoint.
func NewTaskSyncer(cfg TaskConfig) (*TaskSyncer, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[tasks] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &TaskSyncer{cfg: cfg, logger: cfg.Logger, now: cfg.Now}

	cp, err := cfg.Checkpoints.Load(s.Name())
	if err != nil {
		return nil, fmt.Errorf("loading tasks checkpoint: %w", err)
	}
	if cp != nil {
		s.lastSync = cp.LastSync
		s.syncToken = cp.SyncToken
		s.logger.Printf("Last sync: %s", s.lastSync.Format("02/01/2006 15:04:05"))
	} else {
		s.logger.Printf("Last sync: never")
	}
	return s, nil
}

func (s *TaskSyncer) Name() string { return "tasks" }

func (s *TaskSyncer) LastSync() time.Time { return s.lastSync }

// Sync runs one task pass: pull, then push. The checkpoint records the
// pass start, not its end, so sink edits made while the pass ran fall
// into the next push window instead of being skipped.
func (s *TaskSyncer) Sync(ctx context.Context) (Outcome, error) {
	var outcome Outcome
	passStart := s.now()

	if err := s.cfg.Sink.RefreshProjects(ctx); err != nil {
		return outcome, err
	}

	// Ids touched by the pull, so the push doesn't echo them back.
	justModified := make(map[string]struct{})

	if err := s.pullCompleted(ctx, &outcome, justModified); err != nil {
		return outcome, err
	}

	newToken, err := s.pullDelta(ctx, &outcome, justModified)
	if err != nil {
		return outcome, err
	}

	if err := s.push(ctx, passStart, justModified, &outcome); err != nil {
		return outcome, err
	}

	s.logSummary(outcome)

	if err := s.cfg.Checkpoints.Save(s.Name(), passStart, newToken); err != nil {
		return outcome, fmt.Errorf("saving tasks checkpoint: %w", err)
	}
	s.lastSync = passStart
	s.syncToken = newToken

	return outcome, nil
}

// pullCompleted marks sink pages of remotely completed tasks as done.
// Completed items never create pages; a task completed before it ever
// synced is simply skipped.
func (s *TaskSyncer) pullCompleted(ctx context.Context, outcome *Outcome, justModified map[string]struct{}) error {
	completed, err := s.cfg.Source.ReadCompleted(ctx, s.lastSync)
	if err != nil {
		return err
	}

	for _, task := range completed {
		pageID, err := s.cfg.Sink.ExistsTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if pageID == "" {
			s.logger.Printf("Completed task %q not in sink, skipping", task.Content)
			continue
		}

		s.logger.Printf("Task completed: %s", task.Content)
		if err := s.cfg.Sink.CompleteTask(ctx, pageID); err != nil {
			return err
		}
		outcome.Completed++
		justModified[task.ID] = struct{}{}
	}
	return nil
}

func (s *TaskSyncer) pullDelta(ctx context.Context, outcome *Outcome, justModified map[string]struct{}) (string, error) {
	tasks, newToken, err := s.cfg.Source.ReadDelta(ctx, s.syncToken)
	if err != nil {
		return "", err
	}

	for _, task := range tasks {
		pageID, err := s.cfg.Sink.ExistsTask(ctx, task.ID)
		if err != nil {
			return "", err
		}

		switch {
		case task.Checked:
			if pageID == "" {
				s.logger.Printf("Completed task %q not in sink, skipping", task.Content)
				continue
			}
			s.logger.Printf("Task completed: %s", task.Content)
			if err := s.cfg.Sink.CompleteTask(ctx, pageID); err != nil {
				return "", err
			}
			outcome.Completed++

		case task.Deleted:
			if pageID == "" {
				s.logger.Printf("Deleted task %q not in sink, skipping", task.Content)
				continue
			}
			s.logger.Printf("Deleting task: %s", task.Content)
			if err := s.cfg.Sink.DeleteTask(ctx, pageID); err != nil {
				return "", err
			}
			outcome.Deleted++

		case pageID != "":
			s.logger.Printf("Updating task: %s", task.Content)
			if err := s.cfg.Sink.UpdateTask(ctx, pageID, task); err != nil {
				return "", err
			}
			outcome.Updated++

		default:
			s.logger.Printf("Creating task: %s", task.Content)
			if err := s.cfg.Sink.CreateTask(ctx, task); err != nil {
				return "", err
			}
			outcome.Created++
		}

		justModified[task.ID] = struct{}{}
	}

	return newToken, nil
}

// push sends sink edits from [lastSync, passStart) to the remote
// service. Pages archived in the sink never show up in the changed-set
// query, so deletions only travel remote to sink. Completed pages are
// skipped too: completion travels remote to sink only, and a page
// checked off by the previous pass would otherwise be pushed back at a
// remote item that is already archived.
func (s *TaskSyncer) push(ctx context.Context, passStart time.Time, justModified map[string]struct{}, outcome *Outcome) error {
	changed, err := s.cfg.Sink.ChangedTasks(ctx, s.lastSync, passStart)
	if err != nil {
		return err
	}

	for _, st := range changed {
		task := st.Task
		if task.Deleted || task.Checked {
			continue
		}
		if _, ok := justModified[task.ID]; ok && task.ID != "" {
			continue
		}

		if task.ID == "" {
			s.logger.Printf("Pushing new task: %s", task.Content)
			id, err := s.cfg.Source.Create(ctx, task)
			if err != nil {
				return err
			}
			if err := s.cfg.Sink.UpdateTaskID(ctx, st.PageID, id); err != nil {
				return err
			}
			outcome.Created++
			continue
		}

		exists, err := s.cfg.Source.Exists(ctx, task.ID)
		if err != nil {
			return err
		}
		if exists {
			s.logger.Printf("Pushing task update: %s", task.Content)
			if err := s.cfg.Source.Update(ctx, task); err != nil {
				return err
			}
			outcome.Updated++
			continue
		}

		// The remote item is gone; recreate it and rebind the page.
		s.logger.Printf("Recreating remote task: %s", task.Content)
		id, err := s.cfg.Source.Create(ctx, task)
		if err != nil {
			return err
		}
		if err := s.cfg.Sink.UpdateTaskID(ctx, st.PageID, id); err != nil {
			return err
		}
		outcome.Created++
	}
	return nil
}

func (s *TaskSyncer) logSummary(o Outcome) {
	if o.Empty() {
		s.logger.Printf("Task sync successful: nothing to sync")
		return
	}
	s.logger.Printf("Task sync successful: %d created, %d updated, %d completed, %d deleted",
		o.Created, o.Updated, o.Completed, o.Deleted)
}
