// Package syncer contains the reconcilers that drive events and tasks
// between their sources and the sink, and the scheduler that runs them
// periodically.
//
// Each reconciler implements Activity. A pass is at-least-once: the
// activity's checkpoint advances only after the pass succeeds, so a
// failed pass is retried in full on the next interval. All sink
// mutations are therefore written to be idempotent.
package syncer

import (
	"context"
	"time"

	"github.com/notisync/notisync/internal/model"
)

// Outcome counts the sink mutations performed by one pass.
type Outcome struct {
	Created   int
	Updated   int
	Completed int
	Deleted   int
}

// Empty reports whether the pass changed nothing.
func (o Outcome) Empty() bool {
	return o.Created == 0 && o.Updated == 0 && o.Completed == 0 && o.Deleted == 0
}

// Activity is one schedulable sync job.
type Activity interface {
	// Name identifies the activity in checkpoints, logs and status
	// reports.
	Name() string

	// LastSync returns the time of the last successful pass, zero if
	// the activity never completed one.
	LastSync() time.Time

	// Sync runs one full pass.
	Sync(ctx context.Context) (Outcome, error)
}

// Listener receives the status published around every pass. Listeners
// get only flags; error details stay in the logs.
type Listener interface {
	Notify(status model.SyncStatus)
}
