// Package recur expands recurring calendar series into concrete
// occurrences bounded by a date window.
//
// The expansion walks occurrence indices at a fixed day period per pattern
// type and reconciles them against the series' exception list (modified or
// deleted single instances). Deleted instances surface as tombstones that
// the caller replays in its deleted-events pass.
package recur

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pattern identifies a recurrence pattern type.
type Pattern int

const (
	Daily Pattern = iota
	Weekly
	Monthly
	Yearly
)

// PeriodDays returns the fixed day step for the pattern, or 0 for an
// unknown pattern.
//
// Monthly and yearly use 30 and 365 day approximations rather than
// calendar month/year arithmetic. The steps drift against real month and
// year boundaries; this is a known limitation kept on purpose, because
// exception matching depends on the dates this walk produces.
func (p Pattern) PeriodDays() int {
	switch p {
	case Daily:
		return 1
	case Weekly:
		return 7
	case Monthly:
		return 30
	case Yearly:
		return 365
	default:
		return 0
	}
}

func (p Pattern) String() string {
	switch p {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

var (
	// ErrUnknownPattern reports a recurrence pattern the expander cannot
	// step. It is an unrecoverable configuration problem for that series.
	ErrUnknownPattern = errors.New("unknown recurrence pattern")

	// ErrNoOccurrence is returned by a Lookup when the calendar store has
	// no occurrence for the requested date. The expander treats it as a
	// transient lookup failure: the occurrence is logged and skipped.
	ErrNoOccurrence = errors.New("no occurrence for date")
)

// Occurrence is one concrete instance of a recurring series.
type Occurrence struct {
	Index        int
	Start        time.Time
	End          time.Time
	LastModified time.Time
}

// Tombstone marks a deleted occurrence of a series.
type Tombstone struct {
	Index int
	Date  time.Time
}

// Exception is a single-instance deviation from the pattern: either the
// instance was deleted, or it was moved/edited and Replacement holds the
// edited instance.
type Exception struct {
	OriginalDate time.Time
	Deleted      bool
	Replacement  *Occurrence
}

// Series is a recurring calendar definition.
//
// Exceptions must be sorted ascending by OriginalDate with at most one
// exception per original occurrence date; the expander sorts defensively.
type Series struct {
	ID         string
	Start      time.Time
	End        time.Time
	Duration   time.Duration // duration of one instance
	Pattern    Pattern
	Exceptions []Exception
}

// Lookup fetches the live occurrence of a series for a given date. The
// calendar store backs this with its native per-date occurrence access.
type Lookup interface {
	Occurrence(ctx context.Context, date time.Time) (Occurrence, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, date time.Time) (Occurrence, error)

// Occurrence implements Lookup.
func (f LookupFunc) Occurrence(ctx context.Context, date time.Time) (Occurrence, error) {
	return f(ctx, date)
}
