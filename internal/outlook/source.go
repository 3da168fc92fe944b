// Package outlook adapts a COM-style calendar item store into the
// canonical event stream consumed by the calendar reconciler.
//
// The package owns normalization (raw appointments to model.Event,
// including the per-occurrence id suffix for recurring series) and the
// recurrence expansion of both live and deleted items. The raw item
// enumeration itself is behind the ItemStore contract; the COM bridge
// implementing it is platform-specific and lives outside this package.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/notisync/notisync/internal/model"
	"github.com/notisync/notisync/internal/recur"
)

// Item is a raw calendar item as the store exposes it, before
// normalization. Series and Occurrences are non-nil only for recurring
// items; Occurrences backs per-date lookups during expansion.
type Item struct {
	ID           string
	Subject      string
	Start        time.Time
	End          time.Time
	Location     string
	Categories   string
	Organizer    string
	Body         string
	LastModified time.Time

	Series      *recur.Series
	Occurrences recur.Lookup
}

// ItemStore enumerates raw calendar items. Implementations wrap the
// host calendar transport (MAPI folders over COM automation).
//
// Some transports bind their session to the calling thread; Acquire must
// therefore be called at the start of every sync pass on the worker that
// will run it, and the returned release function must always run before
// the pass ends, error or not.
type ItemStore interface {
	// Acquire obtains the per-pass execution context and returns its
	// release function.
	Acquire() (release func(), err error)

	// AppointmentsBetween returns items overlapping [from, to] that were
	// modified at or after modifiedSince (all items if modifiedSince is
	// zero). Recurring items are returned as their series, not expanded.
	AppointmentsBetween(ctx context.Context, from, to, modifiedSince time.Time) ([]Item, error)

	// DeletedAppointments returns items found in the deleted-items
	// folder, modified at or after modifiedSince.
	DeletedAppointments(ctx context.Context, modifiedSince time.Time) ([]Item, error)
}

// ErrStoreUnavailable is returned by PlatformStore when no calendar
// transport exists for the current platform.
var ErrStoreUnavailable = errors.New("outlook item store is not available on this platform")

// Source turns an ItemStore into the event iteration contract the
// calendar reconciler consumes, expanding recurring series on the way.
//
// Deleted occurrences discovered while iterating live events are held
// back and replayed by IterateDeletedEvents, so within one pass
// IterateEvents must run before IterateDeletedEvents. The reconciler's
// pass ordering guarantees this.
type Source struct {
	store    ItemStore
	expander *recur.Expander
	logger   *log.Logger

	// pending tombstones collected during the current pass.
	pending []model.Event
}

// New creates a Source over the given store. If logger is nil, a default
// logger writing to stderr is used.
func New(store ItemStore, logger *log.Logger) *Source {
	if logger == nil {
		logger = log.New(os.Stderr, "[outlook] ", log.LstdFlags)
	}
	return &Source{
		store:    store,
		expander: recur.NewExpander(logger),
		logger:   logger,
	}
}

// Acquire obtains the store's per-pass execution context.
func (s *Source) Acquire() (func(), error) {
	return s.store.Acquire()
}

// IterateEvents calls fn for every live event in [from, to] modified at
// or after modifiedSince, expanding recurring series into one event per
// occurrence. Tombstones of deleted occurrences are collected for the
// deleted pass.
func (s *Source) IterateEvents(ctx context.Context, from, to, modifiedSince time.Time, fn func(model.Event) error) error {
	s.pending = nil

	items, err := s.store.AppointmentsBetween(ctx, from, to, modifiedSince)
	if err != nil {
		return fmt.Errorf("enumerating appointments: %w", err)
	}

	for _, it := range items {
		s.logger.Printf("Event: %s - start: %s - last modified: %s",
			it.Subject, it.Start.Format(time.RFC3339), it.LastModified.Format(time.RFC3339))

		if it.Series == nil {
			if err := fn(normalizeItem(it)); err != nil {
				return err
			}
			continue
		}

		if err := s.expandItem(ctx, it, from, to, modifiedSince, fn); err != nil {
			return err
		}
	}

	return nil
}

// IterateDeletedEvents calls fn for every deleted event modified at or
// after modifiedSince: items from the deleted-items folder (recurring
// ones expanded), followed by the tombstones collected during the live
// pass.
func (s *Source) IterateDeletedEvents(ctx context.Context, modifiedSince time.Time, fn func(model.Event) error) error {
	items, err := s.store.DeletedAppointments(ctx, modifiedSince)
	if err != nil {
		return fmt.Errorf("enumerating deleted appointments: %w", err)
	}

	for _, it := range items {
		s.logger.Printf("Deleted event: %s - start: %s", it.Subject, it.Start.Format(time.RFC3339))

		if it.Series != nil {
			if err := s.expandItem(ctx, it, time.Time{}, time.Time{}, modifiedSince, fn); err != nil {
				return err
			}
		}

		if err := fn(normalizeItem(it)); err != nil {
			return err
		}
	}

	for _, ev := range s.pending {
		s.logger.Printf("Deleted recurrent event: %s - start: %s", ev.Subject, ev.Start.Format(time.RFC3339))
		if err := fn(ev); err != nil {
			return err
		}
	}
	s.pending = nil

	return nil
}

// expandItem expands one recurring item, emitting live occurrences
// through fn and queueing tombstones for the deleted pass. A series with
// an unknown pattern aborts only that series.
func (s *Source) expandItem(ctx context.Context, it Item, from, to, modifiedSince time.Time, fn func(model.Event) error) error {
	tombstones, err := s.expander.Expand(ctx, *it.Series, it.Occurrences, from, to, modifiedSince,
		func(occ recur.Occurrence) error {
			return fn(normalizeOccurrence(it, occ))
		})
	if err != nil {
		if errors.Is(err, recur.ErrUnknownPattern) {
			s.logger.Printf("Skipping series %s: %v", it.Series.ID, err)
			return nil
		}
		return err
	}

	for _, ts := range tombstones {
		s.pending = append(s.pending, normalizeTombstone(it, ts))
	}
	return nil
}
