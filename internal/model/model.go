// Package model defines the canonical records exchanged between the
// calendar/task source adapters, the Notion sink, and the reconcilers.
//
// Every adapter normalizes its wire format into these records at the
// boundary, so the reconciliation logic never sees transport-specific
// shapes.
package model

import "time"

// Event is a canonical calendar event.
//
// ID is the stable external identifier. For a single event it is the
// calendar store's item id; for an occurrence of a recurring series it is
// "{seriesID}_{occurrenceIndex}", deterministic across runs so a re-sync
// recognizes occurrences it already created in the sink.
type Event struct {
	ID           string
	Subject      string
	Start        time.Time
	End          time.Time
	Location     string
	Project      string // empty when the event has no category
	Organizer    string
	Body         string
	LastModified time.Time
}

// Task is a canonical task record.
//
// ID is the remote task-service id. It is empty for tasks that were first
// created in the sink and have not yet been pushed to the remote service;
// the push phase backfills it after the remote create.
//
// Priority ranges 1-4 with 1=normal and 4=urgent. The inversion required
// by the sink's priority select happens at the sink boundary, never here.
type Task struct {
	ID          string
	Content     string
	Description string
	Priority    int
	Due         *time.Time // date precision; nil when the task has no due date
	Project     string
	Labels      []string
	Checked     bool
	Deleted     bool
	Recurrence  string // human-readable recurrence phrase, empty for one-shot tasks
}

// SinkTask pairs a canonical task with the sink's internal page id,
// as returned by the sink's changed-tasks query.
type SinkTask struct {
	PageID string
	Task   Task
}

// SyncStatus is the observable state a scheduler reports to the
// presentation layer after every pass. It deliberately carries only an
// error flag, not the error itself; details live in the logs.
type SyncStatus struct {
	Activity string    `json:"activity"`
	Running  bool      `json:"running"`
	Err      bool      `json:"error"`
	LastSync time.Time `json:"last_sync"`
}
