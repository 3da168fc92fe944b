package recur

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"
)

// Expander walks recurring series and emits their occurrences.
type Expander struct {
	logger *log.Logger
}

// NewExpander creates an Expander. If logger is nil, a default logger
// writing to stderr is used.
func NewExpander(logger *log.Logger) *Expander {
	if logger == nil {
		logger = log.New(os.Stderr, "[recur] ", log.LstdFlags)
	}
	return &Expander{logger: logger}
}

// Expand emits every live occurrence of series whose date falls in
// [from, to] and whose last-modified timestamp is at or after
// modifiedSince, in index order, by calling yield once per occurrence.
// Deleted occurrences are not emitted; they are returned as tombstones so
// the caller can replay them in its deleted-events pass.
//
// A zero from/to is treated as unbounded and clamps to the series start
// and end; a zero modifiedSince disables the filter. Expansion stops with
// ErrUnknownPattern if the series' pattern has no known period. A lookup
// reporting ErrNoOccurrence is logged and skipped; any other lookup error
// aborts the expansion. If yield returns an error, expansion stops and
// that error is returned.
func (e *Expander) Expand(ctx context.Context, series Series, lookup Lookup, from, to, modifiedSince time.Time, yield func(Occurrence) error) ([]Tombstone, error) {
	period := series.Pattern.PeriodDays()
	if period == 0 {
		return nil, fmt.Errorf("series %s: %w: %s", series.ID, ErrUnknownPattern, series.Pattern)
	}

	// Clamp the working window to the series bounds.
	if from.IsZero() || from.Before(series.Start) {
		from = series.Start
	}
	if to.IsZero() || to.After(series.End) {
		to = series.End
	}

	// Exceptions before the window start can never match the walk.
	exceptions := make([]Exception, 0, len(series.Exceptions))
	for _, ex := range series.Exceptions {
		if !ex.OriginalDate.Before(from) {
			exceptions = append(exceptions, ex)
		}
	}
	sort.Slice(exceptions, func(i, j int) bool {
		return exceptions[i].OriginalDate.Before(exceptions[j].OriginalDate)
	})

	// First occurrence index at or after the window start. Whole elapsed
	// days are floored before the ceiling division so partial days do not
	// push the index past an occurrence that still falls in the window.
	days := int(from.Sub(series.Start).Hours() / 24)
	index := (days + period - 1) / period

	var tombstones []Tombstone

	date := series.Start.AddDate(0, 0, index*period)
	for !dateOnly(date).After(dateOnly(to)) {
		if err := ctx.Err(); err != nil {
			return tombstones, err
		}

		occ, deleted, err := e.resolve(ctx, series, &exceptions, lookup, index, date)
		if err != nil {
			return tombstones, err
		}

		switch {
		case deleted:
			tombstones = append(tombstones, Tombstone{Index: index, Date: date})
		case occ != nil:
			if modifiedSince.IsZero() || !occ.LastModified.Before(modifiedSince) {
				if err := yield(*occ); err != nil {
					return tombstones, err
				}
			}
		}

		index++
		date = date.AddDate(0, 0, period)
	}

	return tombstones, nil
}

// resolve produces the occurrence for one walked date, consuming the head
// of the exception list when its original date matches. A nil occurrence
// with deleted=false means the lookup failed transiently and the date is
// skipped.
func (e *Expander) resolve(ctx context.Context, series Series, exceptions *[]Exception, lookup Lookup, index int, date time.Time) (*Occurrence, bool, error) {
	if len(*exceptions) > 0 {
		head := (*exceptions)[0]
		if sameDate(head.OriginalDate, date) {
			*exceptions = (*exceptions)[1:]
			if head.Deleted {
				return nil, true, nil
			}
			if head.Replacement != nil {
				occ := *head.Replacement
				occ.Index = index
				return &occ, false, nil
			}
			// Exception without a replacement: fall through to the lookup.
		}
	}

	occ, err := lookup.Occurrence(ctx, date)
	if err != nil {
		if errors.Is(err, ErrNoOccurrence) {
			e.logger.Printf("No occurrence found for %s on %s, skipping", series.ID, date.Format("2006-01-02"))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("series %s: occurrence lookup for %s: %w", series.ID, date.Format("2006-01-02"), err)
	}
	occ.Index = index
	return &occ, false, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
